// Package escalation hands conversational control between the automated
// agent and human operators. The notification record's conditional status
// updates are the single arbitration point; the dialogue state's escalation
// status is what the router checks to keep the agent silent.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/metrics"
	"github.com/skedy/conversation-core/pkg/prefixed_uuid"
)

// Sentinel errors surfaced to the admin API with human-readable reasons.
var (
	ErrAlreadyEscalated = errors.New("escalation: session already has an active escalation")
	ErrNoActive         = errors.New("escalation: no active escalation for session")
	ErrConflict         = errors.New("escalation: already handled by another operator")
	ErrNotAttending     = errors.New("escalation: no operator currently attends this session")
	ErrWrongOperator    = errors.New("escalation: another operator controls this session")
)

// ConnectingMessage is the fixed response users see when a conversation is
// handed to a human.
const ConnectingMessage = "I'm connecting you to a team member who can help you further. Please hold on for a moment."

// IsLocked reports whether the automated agent must stay silent for the
// given escalation status.
func IsLocked(status conversation.EscalationStatus) bool {
	return status == conversation.EscalationPending || status == conversation.EscalationInProgress
}

// Manager owns escalation state transitions.
type Manager struct {
	sessions      store.SessionStore
	notifications store.NotificationStore
	adapter       channel.Adapter
	mtx           *metrics.Metrics
	log           logger.Logger
}

// NewManager creates an escalation manager. The adapter may be nil when no
// outbound channel is wired (operator replies are then only persisted).
func NewManager(sessions store.SessionStore, notifications store.NotificationStore, adapter channel.Adapter, mtx *metrics.Metrics, log logger.Logger) *Manager {
	return &Manager{
		sessions:      sessions,
		notifications: notifications,
		adapter:       adapter,
		mtx:           mtx,
		log:           log,
	}
}

// SetAdapter attaches the outbound channel after construction. The manager
// and the connector reference each other, so one of them is wired late.
func (m *Manager) SetAdapter(adapter channel.Adapter) {
	m.adapter = adapter
}

// Initiate opens an escalation for the session: one pending record, dialogue
// state locked, fixed connecting response. Returns ErrAlreadyEscalated when
// the session already has an active record.
func (m *Manager) Initiate(ctx context.Context, tenantID, sessionID, channelUserID, triggerMessage string) (channel.BotResponse, error) {
	active, err := m.notifications.FindActiveForSession(ctx, sessionID)
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("check active escalation: %w", err)
	}
	if active != nil {
		m.mtx.EscalationConflicts.Inc()
		return channel.BotResponse{}, ErrAlreadyEscalated
	}

	record := &conversation.EscalationRecord{
		ID:        prefixed_uuid.NewEscalationID(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Snippet:   snippet(triggerMessage),
		Status:    conversation.NotificationPending,
		CreatedAt: time.Now(),
	}
	if err := m.notifications.Create(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateActive) {
			// Lost the race against a concurrent initiate.
			m.mtx.EscalationConflicts.Inc()
			return channel.BotResponse{}, ErrAlreadyEscalated
		}
		return channel.BotResponse{}, fmt.Errorf("create escalation record: %w", err)
	}

	if err := m.setEscalationStatus(ctx, tenantID, channelUserID, conversation.EscalationPending); err != nil {
		return channel.BotResponse{}, err
	}

	m.mtx.EscalationsTotal.Inc()
	m.log.Info("escalation initiated",
		logger.StringField("session_id", sessionID),
		logger.StringField("escalation_id", record.ID))

	return channel.BotResponse{Text: ConnectingMessage}, nil
}

// TakeControl claims the session's pending escalation for an operator. The
// pending to attending transition is conditional, so exactly one of two
// racing operators wins.
func (m *Manager) TakeControl(ctx context.Context, sessionID, operatorID string) error {
	record, err := m.notifications.FindActiveForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find escalation: %w", err)
	}
	if record == nil {
		return ErrNoActive
	}

	ok, err := m.notifications.UpdateStatusIf(ctx, record.ID,
		conversation.NotificationPending, conversation.NotificationAttending, operatorID)
	if err != nil {
		return fmt.Errorf("claim escalation: %w", err)
	}
	if !ok {
		m.mtx.EscalationConflicts.Inc()
		return ErrConflict
	}

	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := m.setEscalationStatus(ctx, session.TenantID, session.ChannelUserID, conversation.EscalationInProgress); err != nil {
		return err
	}

	m.log.Info("operator took control",
		logger.StringField("session_id", sessionID),
		logger.StringField("operator_id", operatorID))
	return nil
}

// OperatorSend relays an operator message to the user. Only the controlling
// operator of an attending escalation may send.
func (m *Manager) OperatorSend(ctx context.Context, sessionID, operatorID, text string) error {
	record, err := m.notifications.FindActiveForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find escalation: %w", err)
	}
	if record == nil || record.Status != conversation.NotificationAttending {
		return ErrNotAttending
	}
	if record.OperatorID != operatorID {
		return ErrWrongOperator
	}

	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	err = m.sessions.AppendMessages(ctx, sessionID, []conversation.Message{{
		Role:      conversation.RoleOperator,
		Content:   text,
		Timestamp: time.Now(),
	}})
	if err != nil {
		return fmt.Errorf("append operator message: %w", err)
	}

	if m.adapter != nil {
		if err := m.adapter.Send(ctx, session.ChannelUserID, channel.BotResponse{Text: text}); err != nil {
			return fmt.Errorf("forward operator message: %w", err)
		}
	}
	return nil
}

// Resolve closes the session's active escalation and unlocks the agent for
// the next ordinary turn.
func (m *Manager) Resolve(ctx context.Context, sessionID string) error {
	record, err := m.notifications.FindActiveForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find escalation: %w", err)
	}
	if record == nil {
		return ErrNoActive
	}

	ok, err := m.notifications.UpdateStatusIf(ctx, record.ID,
		record.Status, conversation.NotificationProvidedHelp, "")
	if err != nil {
		return fmt.Errorf("close escalation: %w", err)
	}
	if !ok {
		m.mtx.EscalationConflicts.Inc()
		return ErrConflict
	}

	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := m.setEscalationStatus(ctx, session.TenantID, session.ChannelUserID, conversation.EscalationResolved); err != nil {
		return err
	}

	m.log.Info("escalation resolved", logger.StringField("session_id", sessionID))
	return nil
}

func (m *Manager) setEscalationStatus(ctx context.Context, tenantID, channelUserID string, status conversation.EscalationStatus) error {
	state, err := m.sessions.GetDialogueState(ctx, tenantID, channelUserID)
	if err != nil {
		return fmt.Errorf("load dialogue state: %w", err)
	}
	if state == nil {
		state = conversation.NewDialogueState(tenantID, channelUserID)
	}
	state.EscalationStatus = status
	if err := m.sessions.UpdateDialogueState(ctx, state); err != nil {
		return fmt.Errorf("persist dialogue state: %w", err)
	}
	return nil
}

func snippet(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}
