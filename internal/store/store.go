// Package store defines the persistence contracts for sessions, dialogue
// state and escalation records, with Postgres and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/skedy/conversation-core/internal/conversation"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateActive is returned when creating an escalation record for a
// session that already has a pending or attending one.
var ErrDuplicateActive = errors.New("store: session already has an active escalation record")

// SessionStore persists sessions and per-user dialogue state.
//
// Lookups that may legitimately find nothing (GetActive,
// GetMostRecentPrevious, GetDialogueState) return (nil, nil) rather than
// ErrNotFound; only GetByID treats absence as an error.
type SessionStore interface {
	// GetActive returns the most recent non-ended session for the user whose
	// last activity is within the timeout window.
	GetActive(ctx context.Context, channel, channelUserID string, timeout time.Duration) (*conversation.Session, error)

	// GetMostRecentPrevious returns the latest session for the user created
	// before the given instant, regardless of how long ago it went quiet.
	GetMostRecentPrevious(ctx context.Context, channel, channelUserID string, before time.Time) (*conversation.Session, error)

	// GetByID returns the session or ErrNotFound.
	GetByID(ctx context.Context, sessionID string) (*conversation.Session, error)

	// Create stores a new session.
	Create(ctx context.Context, session *conversation.Session) error

	// AppendMessages appends to the session log in order and refreshes the
	// session's last-activity timestamp.
	AppendMessages(ctx context.Context, sessionID string, messages []conversation.Message) error

	// EndInactive marks stale sessions for the user as ended and reports how
	// many were affected. Idempotent.
	EndInactive(ctx context.Context, channel, channelUserID string, timeout time.Duration) (int, error)

	// GetDialogueState returns the user's dialogue state, or nil when the
	// user has none yet.
	GetDialogueState(ctx context.Context, tenantID, channelUserID string) (*conversation.DialogueState, error)

	// UpdateDialogueState upserts the authoritative dialogue state.
	UpdateDialogueState(ctx context.Context, state *conversation.DialogueState) error
}

// NotificationStore persists escalation records.
type NotificationStore interface {
	// Create stores a new escalation record.
	Create(ctx context.Context, record *conversation.EscalationRecord) error

	// FindActiveForSession returns the pending or attending record for the
	// session, or nil when the session has no active escalation.
	FindActiveForSession(ctx context.Context, sessionID string) (*conversation.EscalationRecord, error)

	// UpdateStatusIf transitions the record from one status to another only
	// if it currently holds the expected status, recording the operator when
	// one is given. Returns false when the record was not in the expected
	// status; this is the compare-and-set point that keeps two operators from
	// both winning a takeover.
	UpdateStatusIf(ctx context.Context, id string, from, to conversation.NotificationStatus, operatorID string) (bool, error)
}
