// Package tasks holds the per-goal-type handlers the router dispatches to.
// Handlers advance a goal's step pointer and collected data and decide when
// the goal is done; they never touch dialogue state beyond their own goal.
package tasks

import (
	"context"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Handler advances one goal type by a turn.
type Handler interface {
	Handle(ctx context.Context, goal *conversation.Goal, message string, history []conversation.Message) (channel.BotResponse, error)
}

// Registry maps goal types to their handlers.
type Registry struct {
	handlers map[conversation.GoalType]Handler
	fallback Handler
}

// NewRegistry wires the default handler set.
func NewRegistry(client llm.Client, log logger.Logger) *Registry {
	return &Registry{
		handlers: map[conversation.GoalType]Handler{
			conversation.GoalBooking:  NewBooking(log),
			conversation.GoalFAQ:      NewFAQ(client, log),
			conversation.GoalChitchat: NewChitchat(client, log),
			conversation.GoalAccount:  NewAccount(log),
		},
		fallback: NewClarify(),
	}
}

// For returns the handler for the goal type, falling back to clarification
// for unknown goals.
func (r *Registry) For(goalType conversation.GoalType) Handler {
	if h, ok := r.handlers[goalType]; ok {
		return h
	}
	return r.fallback
}
