package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Booking slot-filling steps. The handler asks for the first missing slot
// each turn, so a message that fills several slots skips ahead.
const (
	bookingStepService = iota
	bookingStepWhen
	bookingStepAddress
	bookingStepConfirm
)

// Booking collects the slots of a service booking: which service, when, and
// where, then asks for confirmation. Pricing and slot availability belong to
// the booking backend, not here.
type Booking struct {
	log logger.Logger
}

// NewBooking creates the booking flow handler.
func NewBooking(log logger.Logger) *Booking {
	return &Booking{log: log}
}

// Handle implements Handler.
func (b *Booking) Handle(_ context.Context, goal *conversation.Goal, message string, _ []conversation.Message) (channel.BotResponse, error) {
	data := goal.CollectedData

	switch {
	case !hasSlot(data, "service"):
		goal.Step = bookingStepService
		return channel.BotResponse{Text: "What service would you like to book?"}, nil

	case !hasSlot(data, "date") && !hasSlot(data, "date_time") && !hasSlot(data, "time"):
		goal.Step = bookingStepWhen
		return channel.BotResponse{Text: fmt.Sprintf("When would you like your %s?", slotString(data, "service"))}, nil

	case !hasSlot(data, "address"):
		goal.Step = bookingStepAddress
		return channel.BotResponse{Text: "What address should we come to?"}, nil

	case goal.Step < bookingStepConfirm:
		goal.Step = bookingStepConfirm
		return channel.BotResponse{
			Text: fmt.Sprintf("To confirm: %s, %s, at %s. Shall I book it?",
				slotString(data, "service"), whenString(data), slotString(data, "address")),
			Buttons: []channel.Button{
				{ID: "confirm_yes", Label: "Yes, book it"},
				{ID: "confirm_no", Label: "Change something"},
			},
		}, nil

	default:
		if affirmative(message) {
			goal.Status = conversation.GoalCompleted
			return channel.BotResponse{Text: "Done! Your booking request is in. We'll confirm the exact slot shortly."}, nil
		}
		if negative(message) {
			// Drop back into slot filling; the classifier's extracted data
			// will overwrite whatever the user wants changed.
			goal.Step = bookingStepService
			return channel.BotResponse{Text: "No problem. What would you like to change?"}, nil
		}
		return channel.BotResponse{Text: "Should I go ahead and book it? A simple yes or no works."}, nil
	}
}

func hasSlot(data map[string]any, key string) bool {
	v, ok := data[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func slotString(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func whenString(data map[string]any) string {
	if hasSlot(data, "date_time") {
		return slotString(data, "date_time")
	}
	parts := make([]string, 0, 2)
	if hasSlot(data, "date") {
		parts = append(parts, slotString(data, "date"))
	}
	if hasSlot(data, "time") {
		parts = append(parts, slotString(data, "time"))
	}
	return strings.Join(parts, " ")
}

func affirmative(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	for _, word := range []string{"yes", "yeah", "yep", "sure", "confirm", "ok", "okay", "confirm_yes", "sí", "si"} {
		if m == word || strings.HasPrefix(m, word+" ") || strings.HasPrefix(m, word+",") {
			return true
		}
	}
	return false
}

func negative(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	for _, word := range []string{"no", "nope", "change", "wait", "cancel", "confirm_no"} {
		if m == word || strings.HasPrefix(m, word+" ") || strings.HasPrefix(m, word+",") {
			return true
		}
	}
	return false
}
