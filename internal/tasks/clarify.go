package tasks

import (
	"context"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
)

// Clarify is the fallback for goals nothing else claims.
type Clarify struct{}

// NewClarify creates the clarification handler.
func NewClarify() *Clarify {
	return &Clarify{}
}

// Handle implements Handler.
func (c *Clarify) Handle(_ context.Context, _ *conversation.Goal, _ string, _ []conversation.Message) (channel.BotResponse, error) {
	return channel.BotResponse{
		Text: "I'm not quite sure what you'd like to do. I can help you book a service, answer questions, or manage your account.",
	}, nil
}
