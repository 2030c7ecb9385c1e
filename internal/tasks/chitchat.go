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

const chitchatPrompt = `You are the friendly assistant of a local service booking business.
Reply to small talk warmly in one or two sentences, then gently steer the
conversation back to how you can help with a booking.`

// Chitchat answers small talk without touching any goal flow.
type Chitchat struct {
	client llm.Client
	log    logger.Logger
}

// NewChitchat creates the chitchat handler.
func NewChitchat(client llm.Client, log logger.Logger) *Chitchat {
	return &Chitchat{client: client, log: log}
}

// Handle implements Handler.
func (c *Chitchat) Handle(ctx context.Context, goal *conversation.Goal, message string, history []conversation.Message) (channel.BotResponse, error) {
	resp, err := c.client.Complete(ctx, llm.Request{
		System:    chitchatPrompt,
		MaxTokens: 256,
		Messages:  historyMessages(history, message),
	})
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("answer chitchat: %w", err)
	}

	if goal.Type == conversation.GoalChitchat {
		goal.Status = conversation.GoalCompleted
	}
	return channel.BotResponse{Text: strings.TrimSpace(resp.Text)}, nil
}
