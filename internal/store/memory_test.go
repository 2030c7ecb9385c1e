package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/prefixed_uuid"
)

func newTestSession(channel, channelUserID string, lastActive time.Time) *conversation.Session {
	return &conversation.Session{
		ID:            prefixed_uuid.NewSessionID(),
		Channel:       channel,
		ChannelUserID: channelUserID,
		TenantID:      "tenant-1",
		CreatedAt:     lastActive,
		LastActiveAt:  lastActive,
	}
}

func TestMemoryGetActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	stale := newTestSession("telegram", "user-1", time.Now().Add(-2*time.Hour))
	fresh := newTestSession("telegram", "user-1", time.Now().Add(-1*time.Minute))
	require.NoError(t, m.Create(ctx, stale))
	require.NoError(t, m.Create(ctx, fresh))

	got, err := m.GetActive(ctx, "telegram", "user-1", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fresh.ID, got.ID)

	got, err = m.GetActive(ctx, "telegram", "user-2", 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryGetMostRecentPrevious(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	older := newTestSession("telegram", "user-1", time.Now().Add(-3*time.Hour))
	newer := newTestSession("telegram", "user-1", time.Now().Add(-1*time.Hour))
	require.NoError(t, m.Create(ctx, older))
	require.NoError(t, m.Create(ctx, newer))

	got, err := m.GetMostRecentPrevious(ctx, "telegram", "user-1", time.Now().Add(-90*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func TestMemoryAppendMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := newTestSession("telegram", "user-1", time.Now().Add(-5*time.Minute))
	require.NoError(t, m.Create(ctx, s))

	err := m.AppendMessages(ctx, s.ID, []conversation.Message{
		{Role: conversation.RoleUser, Content: "hello", Timestamp: time.Now()},
		{Role: conversation.RoleBot, Content: "hi there", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	got, err := m.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, conversation.RoleUser, got.Messages[0].Role)
	assert.Equal(t, conversation.RoleBot, got.Messages[1].Role)
	assert.True(t, got.LastActiveAt.After(s.LastActiveAt), "append should refresh activity")

	err = m.AppendMessages(ctx, "session-missing", []conversation.Message{{Role: conversation.RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEndInactive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	stale := newTestSession("telegram", "user-1", time.Now().Add(-2*time.Hour))
	fresh := newTestSession("telegram", "user-1", time.Now())
	require.NoError(t, m.Create(ctx, stale))
	require.NoError(t, m.Create(ctx, fresh))

	ended, err := m.EndInactive(ctx, "telegram", "user-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	// Second pass finds nothing left to end.
	ended, err = m.EndInactive(ctx, "telegram", "user-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, ended)

	got, err := m.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Ended)
}

func TestMemoryDialogueState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	got, err := m.GetDialogueState(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	state := conversation.NewDialogueState("tenant-1", "user-1")
	state.CurrentGoal = &conversation.Goal{
		ID:     prefixed_uuid.New(prefixed_uuid.PrefixGoal).String(),
		Type:   conversation.GoalBooking,
		Action: conversation.ActionCreate,
		Status: conversation.GoalActive,
	}
	require.NoError(t, m.UpdateDialogueState(ctx, state))

	got, err = m.GetDialogueState(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.CurrentGoal)
	assert.Equal(t, conversation.GoalBooking, got.CurrentGoal.Type)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestNotificationMemoryCAS(t *testing.T) {
	ctx := context.Background()
	m := NewNotificationMemory()

	rec := &conversation.EscalationRecord{
		ID:        prefixed_uuid.NewEscalationID(),
		TenantID:  "tenant-1",
		SessionID: "session-abc",
		Status:    conversation.NotificationPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, m.Create(ctx, rec))

	active, err := m.FindActiveForSession(ctx, "session-abc")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, rec.ID, active.ID)

	ok, err := m.UpdateStatusIf(ctx, rec.ID, conversation.NotificationPending, conversation.NotificationAttending, "op-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second operator loses the race.
	ok, err = m.UpdateStatusIf(ctx, rec.ID, conversation.NotificationPending, conversation.NotificationAttending, "op-2")
	require.NoError(t, err)
	assert.False(t, ok)

	active, err = m.FindActiveForSession(ctx, "session-abc")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "op-1", active.OperatorID)
	assert.Equal(t, conversation.NotificationAttending, active.Status)
	assert.False(t, active.AttendedAt.IsZero())

	ok, err = m.UpdateStatusIf(ctx, rec.ID, conversation.NotificationAttending, conversation.NotificationProvidedHelp, "op-1")
	require.NoError(t, err)
	assert.True(t, ok)

	active, err = m.FindActiveForSession(ctx, "session-abc")
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = m.UpdateStatusIf(ctx, "escalation-missing", conversation.NotificationPending, conversation.NotificationAttending, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
