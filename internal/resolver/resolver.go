// Package resolver finds or creates the active session for an inbound
// message and assembles the cross-session history fed to the model.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/prefixed_uuid"
)

// Resolution is the outcome of resolving a turn's session.
type Resolution struct {
	Session *conversation.Session
	IsNew   bool
}

// Resolver owns session lookup and rotation.
type Resolver struct {
	sessions store.SessionStore
	log      logger.Logger
}

// New creates a resolver on the given session store.
func New(sessions store.SessionStore, log logger.Logger) *Resolver {
	return &Resolver{sessions: sessions, log: log}
}

// Resolve returns the user's active session, creating a fresh one when the
// last went quiet for longer than the timeout. Stale-session cleanup before
// creation is best-effort: a cleanup failure is logged and the turn goes on.
func (r *Resolver) Resolve(ctx context.Context, channel, channelUserID, tenantID string, timeout time.Duration) (*Resolution, error) {
	active, err := r.sessions.GetActive(ctx, channel, channelUserID, timeout)
	if err != nil {
		return nil, fmt.Errorf("look up active session: %w", err)
	}
	if active != nil {
		return &Resolution{Session: active}, nil
	}

	ended, err := r.sessions.EndInactive(ctx, channel, channelUserID, timeout)
	if err != nil {
		r.log.Warn("stale session cleanup failed",
			logger.StringField("channel_user_id", channelUserID),
			logger.ErrorField(err))
	} else if ended > 0 {
		r.log.Debug("ended stale sessions", logger.IntField("count", ended))
	}

	now := time.Now()
	session := &conversation.Session{
		ID:            prefixed_uuid.NewSessionID(),
		Channel:       channel,
		ChannelUserID: channelUserID,
		TenantID:      tenantID,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := r.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Resolution{Session: session, IsNew: true}, nil
}

// BuildHistory returns the message log to feed the model. A session that
// already has messages stands on its own; an empty (freshly rotated) session
// borrows the full log of the user's immediately preceding session so a
// timeout never erases conversational context. Idempotent: calling it twice
// on the same empty session yields the same history.
func (r *Resolver) BuildHistory(ctx context.Context, session *conversation.Session) ([]conversation.Message, error) {
	if len(session.Messages) > 0 {
		history := make([]conversation.Message, len(session.Messages))
		copy(history, session.Messages)
		return history, nil
	}

	previous, err := r.sessions.GetMostRecentPrevious(ctx, session.Channel, session.ChannelUserID, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("look up previous session: %w", err)
	}
	if previous == nil {
		return nil, nil
	}

	history := make([]conversation.Message, len(previous.Messages))
	copy(history, previous.Messages)
	return history, nil
}
