package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skedy/conversation-core/internal/conversation"
)

// Memory is an in-process SessionStore, used by tests and single-node
// development setups.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.Session       // session ID -> session
	states   map[string]*conversation.DialogueState // tenant/user key -> state
}

// NewMemory creates an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*conversation.Session),
		states:   make(map[string]*conversation.DialogueState),
	}
}

func stateKey(tenantID, channelUserID string) string {
	return tenantID + "/" + channelUserID
}

// userSessions returns the user's sessions sorted most recent first.
// Callers must hold the lock.
func (m *Memory) userSessions(channel, channelUserID string) []*conversation.Session {
	var out []*conversation.Session
	for _, s := range m.sessions {
		if s.Channel == channel && s.ChannelUserID == channelUserID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

func copySession(s *conversation.Session) *conversation.Session {
	dup := *s
	dup.Messages = make([]conversation.Message, len(s.Messages))
	copy(dup.Messages, s.Messages)
	return &dup
}

// GetActive implements SessionStore.
func (m *Memory) GetActive(_ context.Context, channel, channelUserID string, timeout time.Duration) (*conversation.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	for _, s := range m.userSessions(channel, channelUserID) {
		if s.ActiveWithin(now, timeout) {
			return copySession(s), nil
		}
	}
	return nil, nil
}

// GetMostRecentPrevious implements SessionStore.
func (m *Memory) GetMostRecentPrevious(_ context.Context, channel, channelUserID string, before time.Time) (*conversation.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.userSessions(channel, channelUserID) {
		if s.CreatedAt.Before(before) {
			return copySession(s), nil
		}
	}
	return nil, nil
}

// GetByID implements SessionStore.
func (m *Memory) GetByID(_ context.Context, sessionID string) (*conversation.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// Create implements SessionStore.
func (m *Memory) Create(_ context.Context, session *conversation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = copySession(session)
	return nil
}

// AppendMessages implements SessionStore.
func (m *Memory) AppendMessages(_ context.Context, sessionID string, messages []conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Messages = append(s.Messages, messages...)
	s.LastActiveAt = time.Now()
	return nil
}

// EndInactive implements SessionStore.
func (m *Memory) EndInactive(_ context.Context, channel, channelUserID string, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	ended := 0
	for _, s := range m.sessions {
		if s.Channel == channel && s.ChannelUserID == channelUserID &&
			!s.Ended && now.Sub(s.LastActiveAt) > timeout {
			s.Ended = true
			ended++
		}
	}
	return ended, nil
}

// GetDialogueState implements SessionStore.
func (m *Memory) GetDialogueState(_ context.Context, tenantID, channelUserID string) (*conversation.DialogueState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[stateKey(tenantID, channelUserID)]
	if !ok {
		return nil, nil
	}
	dup := *st
	return &dup, nil
}

// UpdateDialogueState implements SessionStore.
func (m *Memory) UpdateDialogueState(_ context.Context, state *conversation.DialogueState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dup := *state
	dup.UpdatedAt = time.Now()
	m.states[stateKey(state.TenantID, state.ChannelUserID)] = &dup
	return nil
}

// NotificationMemory is an in-process NotificationStore.
type NotificationMemory struct {
	mu      sync.RWMutex
	records map[string]*conversation.EscalationRecord
}

// NewNotificationMemory creates an empty in-memory notification store.
func NewNotificationMemory() *NotificationMemory {
	return &NotificationMemory{records: make(map[string]*conversation.EscalationRecord)}
}

// Create implements NotificationStore. Like the database's partial unique
// index, it refuses a second active record for the same session.
func (m *NotificationMemory) Create(_ context.Context, record *conversation.EscalationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.SessionID == record.SessionID && r.Active() {
			return ErrDuplicateActive
		}
	}
	dup := *record
	m.records[record.ID] = &dup
	return nil
}

// ActiveCountForSession reports how many active records exist for the
// session. Used by invariant tests.
func (m *NotificationMemory) ActiveCountForSession(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.records {
		if r.SessionID == sessionID && r.Active() {
			count++
		}
	}
	return count
}

// FindActiveForSession implements NotificationStore.
func (m *NotificationMemory) FindActiveForSession(_ context.Context, sessionID string) (*conversation.EscalationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.SessionID == sessionID && r.Active() {
			dup := *r
			return &dup, nil
		}
	}
	return nil, nil
}

// UpdateStatusIf implements NotificationStore.
func (m *NotificationMemory) UpdateStatusIf(_ context.Context, id string, from, to conversation.NotificationStatus, operatorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if operatorID != "" {
		r.OperatorID = operatorID
	}
	if to == conversation.NotificationAttending {
		r.AttendedAt = time.Now()
	}
	return true, nil
}
