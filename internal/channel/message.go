// Package channel defines the normalized message contract between channel
// adapters and the conversation core. Adapters own the wire protocol; the core
// only ever sees these types.
package channel

import (
	"context"
	"time"

	"github.com/skedy/conversation-core/internal/conversation"
)

// InboundMessage is one normalized user message delivered by an adapter.
type InboundMessage struct {
	Channel     string                    `json:"channel"`
	SenderID    string                    `json:"sender_id"`
	RecipientID string                    `json:"recipient_id"`
	TenantID    string                    `json:"tenant_id"`
	Timestamp   time.Time                 `json:"timestamp"`
	Text        string                    `json:"text"`
	Attachments []conversation.Attachment `json:"attachments,omitempty"`
	RawPayload  []byte                    `json:"-"`
}

// Button is a quick-reply option rendered by the channel.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// BotResponse is what the core hands back to an adapter. An empty response
// (no text, no buttons) means the turn was handled but nothing should be
// rendered to the user, e.g. while escalation holds the conversation.
type BotResponse struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Empty reports whether the adapter should suppress rendering entirely.
func (r BotResponse) Empty() bool {
	return r.Text == "" && len(r.Buttons) == 0
}

// Adapter pushes messages back out to a channel. Implementations live at the
// edge (Telegram, WhatsApp, ...); the escalation manager uses this to forward
// operator replies.
type Adapter interface {
	Send(ctx context.Context, recipientID string, response BotResponse) error
}
