package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/logger"
)

func bookingGoal(data map[string]any) *conversation.Goal {
	return &conversation.Goal{
		Type:          conversation.GoalBooking,
		Action:        conversation.ActionCreate,
		Status:        conversation.GoalActive,
		CollectedData: data,
	}
}

func TestBookingAsksForMissingSlotsInOrder(t *testing.T) {
	b := NewBooking(logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"}))
	ctx := context.Background()

	tests := []struct {
		name     string
		data     map[string]any
		wantStep int
		wantText string
	}{
		{"no slots", map[string]any{}, bookingStepService, "What service"},
		{"service only", map[string]any{"service": "haircut"}, bookingStepWhen, "When would you like"},
		{"service and time", map[string]any{"service": "haircut", "date_time": "tomorrow 3pm"}, bookingStepAddress, "What address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal := bookingGoal(tt.data)
			resp, err := b.Handle(ctx, goal, "whatever", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, goal.Step)
			assert.Contains(t, resp.Text, tt.wantText)
			assert.Equal(t, conversation.GoalActive, goal.Status)
		})
	}
}

func TestBookingConfirmationFlow(t *testing.T) {
	b := NewBooking(logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"}))
	ctx := context.Background()

	goal := bookingGoal(map[string]any{
		"service":   "haircut",
		"date_time": "tomorrow 3pm",
		"address":   "12 Main St",
	})

	// All slots present: summary plus confirm buttons.
	resp, err := b.Handle(ctx, goal, "12 Main St", nil)
	require.NoError(t, err)
	assert.Equal(t, bookingStepConfirm, goal.Step)
	assert.Contains(t, resp.Text, "haircut")
	assert.Contains(t, resp.Text, "12 Main St")
	require.Len(t, resp.Buttons, 2)

	// Affirmative answer completes the goal.
	resp, err = b.Handle(ctx, goal, "yes", nil)
	require.NoError(t, err)
	assert.Equal(t, conversation.GoalCompleted, goal.Status)
	assert.Contains(t, resp.Text, "booking request is in")
}

func TestBookingNegativeAnswerReopensSlots(t *testing.T) {
	b := NewBooking(logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"}))
	ctx := context.Background()

	goal := bookingGoal(map[string]any{
		"service":   "haircut",
		"date_time": "tomorrow 3pm",
		"address":   "12 Main St",
	})
	goal.Step = bookingStepConfirm

	resp, err := b.Handle(ctx, goal, "no, wait", nil)
	require.NoError(t, err)
	assert.Equal(t, conversation.GoalActive, goal.Status)
	assert.Contains(t, resp.Text, "change")
}

func TestBookingAmbiguousConfirmationReasks(t *testing.T) {
	b := NewBooking(logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"}))

	goal := bookingGoal(map[string]any{
		"service":   "haircut",
		"date_time": "tomorrow 3pm",
		"address":   "12 Main St",
	})
	goal.Step = bookingStepConfirm

	resp, err := b.Handle(context.Background(), goal, "hmm maybe", nil)
	require.NoError(t, err)
	assert.Equal(t, conversation.GoalActive, goal.Status)
	assert.Contains(t, resp.Text, "yes or no")
}

func TestAccountCompletesWithAcknowledgement(t *testing.T) {
	a := NewAccount(logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"}))

	goal := &conversation.Goal{
		Type:   conversation.GoalAccount,
		Action: conversation.ActionUpdate,
		Status: conversation.GoalActive,
	}
	resp, err := a.Handle(context.Background(), goal, "change my phone number", nil)
	require.NoError(t, err)
	assert.Equal(t, conversation.GoalCompleted, goal.Status)
	assert.Contains(t, resp.Text, "update")
}

func TestRegistryFallsBackToClarify(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	r := NewRegistry(nil, log)

	h := r.For(conversation.GoalUnknown)
	resp, err := h.Handle(context.Background(), &conversation.Goal{Type: conversation.GoalUnknown}, "???", nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "book a service")
}
