package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

const faqPrompt = `You answer customer questions for a local service booking business.
Be brief, friendly and concrete. If the question needs information you do not
have (exact prices, staff availability), say so and offer to connect the
customer with the team instead of guessing.`

// FAQ answers one-shot questions through the model. Every answer completes
// the goal; a follow-up question starts a new one.
type FAQ struct {
	client llm.Client
	log    logger.Logger
}

// NewFAQ creates the FAQ handler.
func NewFAQ(client llm.Client, log logger.Logger) *FAQ {
	return &FAQ{client: client, log: log}
}

// Handle implements Handler.
func (f *FAQ) Handle(ctx context.Context, goal *conversation.Goal, message string, history []conversation.Message) (channel.BotResponse, error) {
	resp, err := f.client.Complete(ctx, llm.Request{
		System:    faqPrompt,
		MaxTokens: 512,
		Messages:  historyMessages(history, message),
	})
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("answer question: %w", err)
	}

	goal.Status = conversation.GoalCompleted
	return channel.BotResponse{Text: strings.TrimSpace(resp.Text)}, nil
}

// historyMessages converts recent session history plus the latest message
// into model input, capped to the last few turns.
func historyMessages(history []conversation.Message, latest string) []llm.Message {
	const limit = 8
	start := 0
	if len(history) > limit {
		start = len(history) - limit
	}

	out := make([]llm.Message, 0, len(history)-start+1)
	for _, m := range history[start:] {
		role := llm.RoleUser
		if m.Role == conversation.RoleBot || m.Role == conversation.RoleOperator {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: latest})
}
