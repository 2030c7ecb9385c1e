// Package conversation defines the durable domain types shared across the
// engine: sessions with their message logs, per-user dialogue state with the
// active goal, and escalation records.
package conversation

import (
	"time"
)

// Role identifies who produced a message in a session log.
type Role string

// Message roles.
const (
	RoleUser     Role = "user"
	RoleBot      Role = "bot"
	RoleOperator Role = "operator"
)

// AttachmentType classifies a message attachment.
type AttachmentType string

// Attachment types delivered by channel adapters.
const (
	AttachmentImage       AttachmentType = "image"
	AttachmentVideo       AttachmentType = "video"
	AttachmentDocument    AttachmentType = "document"
	AttachmentAudio       AttachmentType = "audio"
	AttachmentInteractive AttachmentType = "interactive_reply"
	AttachmentLocation    AttachmentType = "location"
	AttachmentContact     AttachmentType = "contact"
)

// Attachment carries channel media metadata. Audio attachments have a
// retrievable URL plus optional duration/size/format hints used for
// transcription validation.
type Attachment struct {
	Type            AttachmentType `json:"type"`
	URL             string         `json:"url,omitempty"`
	MIMEType        string         `json:"mime_type,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	SizeBytes       int64          `json:"size_bytes,omitempty"`
}

// Message is one entry in a session's ordered log.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Session is one continuous conversation window for a user on a channel.
// Sessions are closed by inactivity timeout, never deleted: expiry is a
// read-time classification against LastActiveAt.
type Session struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	ChannelUserID string    `json:"channel_user_id"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id,omitempty"` // linked account, optional
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	Ended         bool      `json:"ended"`
}

// ActiveWithin reports whether the session's last activity falls inside the
// timeout window ending at now.
func (s *Session) ActiveWithin(now time.Time, timeout time.Duration) bool {
	return !s.Ended && now.Sub(s.LastActiveAt) <= timeout
}
