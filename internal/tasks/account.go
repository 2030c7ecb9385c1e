package tasks

import (
	"context"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Account handles account management requests. Account data itself lives in
// an external system, so the flow acknowledges and hands off.
type Account struct {
	log logger.Logger
}

// NewAccount creates the account management handler.
func NewAccount(log logger.Logger) *Account {
	return &Account{log: log}
}

// Handle implements Handler.
func (a *Account) Handle(_ context.Context, goal *conversation.Goal, _ string, _ []conversation.Message) (channel.BotResponse, error) {
	var text string
	switch goal.Action {
	case conversation.ActionView:
		text = "I'll pull up your account details. You'll receive them in a moment."
	case conversation.ActionUpdate:
		text = "Got it, I've noted the account change you'd like. Our team will update it and confirm with you."
	case conversation.ActionDelete:
		text = "I've registered your account removal request. Someone from our team will be in touch to confirm."
	default:
		text = "I've noted your account request and passed it on to our team."
	}

	goal.Status = conversation.GoalCompleted
	return channel.BotResponse{Text: text}, nil
}
