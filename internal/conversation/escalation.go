package conversation

import (
	"time"
)

// NotificationStatus tracks an escalation record through the operator workflow.
type NotificationStatus string

// Escalation record statuses. A record is "active" while pending or attending;
// at most one active record may exist per session.
const (
	NotificationPending      NotificationStatus = "pending"
	NotificationAttending    NotificationStatus = "attending"
	NotificationProvidedHelp NotificationStatus = "provided_help"
)

// EscalationRecord is one request for human help tied to exactly one session.
// Records are transitioned, never hard-deleted.
type EscalationRecord struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	SessionID  string             `json:"session_id"`
	Snippet    string             `json:"snippet"`
	Status     NotificationStatus `json:"status"`
	OperatorID string             `json:"operator_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	AttendedAt time.Time          `json:"attended_at,omitempty"`
}

// Active reports whether the record still claims the session.
func (r *EscalationRecord) Active() bool {
	return r.Status == NotificationPending || r.Status == NotificationAttending
}
