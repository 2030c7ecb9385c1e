package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/logger"
)

// PostgresSessions is the pgx-backed SessionStore. Message logs and goal
// payloads are stored as JSONB; enums are validated at the read boundary
// instead of trusted.
type PostgresSessions struct {
	db  *pgxpool.Pool
	log logger.Logger
}

// NewPostgresSessions creates a session repository on the given pool.
func NewPostgresSessions(db *pgxpool.Pool, log logger.Logger) *PostgresSessions {
	return &PostgresSessions{db: db, log: log}
}

func scanSession(row pgx.Row) (*conversation.Session, error) {
	var s conversation.Session
	var messages []byte
	err := row.Scan(&s.ID, &s.Channel, &s.ChannelUserID, &s.TenantID, &s.UserID,
		&messages, &s.CreatedAt, &s.LastActiveAt, &s.Ended)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(messages, &s.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	return &s, nil
}

const sessionColumns = `id, channel, channel_user_id, tenant_id, user_id, messages, created_at, last_active_at, ended`

// GetActive implements SessionStore.
func (r *PostgresSessions) GetActive(ctx context.Context, channel, channelUserID string, timeout time.Duration) (*conversation.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE channel = $1 AND channel_user_id = $2 AND NOT ended
		  AND last_active_at > now() - $3::interval
		ORDER BY last_active_at DESC
		LIMIT 1`,
		channel, channelUserID, timeout)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// GetMostRecentPrevious implements SessionStore.
func (r *PostgresSessions) GetMostRecentPrevious(ctx context.Context, channel, channelUserID string, before time.Time) (*conversation.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE channel = $1 AND channel_user_id = $2 AND created_at < $3
		ORDER BY last_active_at DESC
		LIMIT 1`,
		channel, channelUserID, before)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get previous session: %w", err)
	}
	return s, nil
}

// GetByID implements SessionStore.
func (r *PostgresSessions) GetByID(ctx context.Context, sessionID string) (*conversation.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// Create implements SessionStore.
func (r *PostgresSessions) Create(ctx context.Context, session *conversation.Session) error {
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO sessions (id, channel, channel_user_id, tenant_id, user_id, messages, created_at, last_active_at, ended)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.Channel, session.ChannelUserID, session.TenantID,
		session.UserID, messages, session.CreatedAt, session.LastActiveAt, session.Ended)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	r.log.Info("created session",
		logger.StringField("session_id", session.ID),
		logger.StringField("channel", session.Channel))
	return nil
}

// AppendMessages implements SessionStore.
func (r *PostgresSessions) AppendMessages(ctx context.Context, sessionID string, messages []conversation.Message) error {
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET messages = messages || $2::jsonb, last_active_at = now()
		WHERE id = $1`,
		sessionID, encoded)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndInactive implements SessionStore.
func (r *PostgresSessions) EndInactive(ctx context.Context, channel, channelUserID string, timeout time.Duration) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET ended = true
		WHERE channel = $1 AND channel_user_id = $2 AND NOT ended
		  AND last_active_at <= now() - $3::interval`,
		channel, channelUserID, timeout)
	if err != nil {
		return 0, fmt.Errorf("end inactive sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetDialogueState implements SessionStore.
func (r *PostgresSessions) GetDialogueState(ctx context.Context, tenantID, channelUserID string) (*conversation.DialogueState, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `
		SELECT state FROM dialogue_states
		WHERE tenant_id = $1 AND channel_user_id = $2`,
		tenantID, channelUserID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dialogue state: %w", err)
	}

	var state conversation.DialogueState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode dialogue state: %w", err)
	}

	// Validate enums at the boundary rather than trusting stored JSON.
	state.EscalationStatus = conversation.ParseEscalationStatus(string(state.EscalationStatus))
	if state.CurrentGoal != nil {
		state.CurrentGoal.Type = conversation.ParseGoalType(string(state.CurrentGoal.Type))
		state.CurrentGoal.Action = conversation.ParseGoalAction(string(state.CurrentGoal.Action))
	}
	return &state, nil
}

// UpdateDialogueState implements SessionStore.
func (r *PostgresSessions) UpdateDialogueState(ctx context.Context, state *conversation.DialogueState) error {
	state.UpdatedAt = time.Now()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode dialogue state: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO dialogue_states (tenant_id, channel_user_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_user_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.TenantID, state.ChannelUserID, payload, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dialogue state: %w", err)
	}
	return nil
}

// PostgresNotifications is the pgx-backed NotificationStore.
type PostgresNotifications struct {
	db  *pgxpool.Pool
	log logger.Logger
}

// NewPostgresNotifications creates a notification repository on the given pool.
func NewPostgresNotifications(db *pgxpool.Pool, log logger.Logger) *PostgresNotifications {
	return &PostgresNotifications{db: db, log: log}
}

// Create implements NotificationStore. The partial unique index on active
// records turns a racing double-create into ErrDuplicateActive.
func (r *PostgresNotifications) Create(ctx context.Context, record *conversation.EscalationRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, session_id, snippet, status, operator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.TenantID, record.SessionID, record.Snippet,
		string(record.Status), record.OperatorID, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return fmt.Errorf("create notification: %w", err)
	}
	r.log.Info("created escalation notification",
		logger.StringField("notification_id", record.ID),
		logger.StringField("session_id", record.SessionID))
	return nil
}

// FindActiveForSession implements NotificationStore.
func (r *PostgresNotifications) FindActiveForSession(ctx context.Context, sessionID string) (*conversation.EscalationRecord, error) {
	var rec conversation.EscalationRecord
	var status string
	var attendedAt *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, session_id, snippet, status, operator_id, created_at, attended_at
		FROM notifications
		WHERE session_id = $1 AND status IN ('pending', 'attending')
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID).Scan(&rec.ID, &rec.TenantID, &rec.SessionID, &rec.Snippet,
		&status, &rec.OperatorID, &rec.CreatedAt, &attendedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active notification: %w", err)
	}
	rec.Status = conversation.NotificationStatus(status)
	if attendedAt != nil {
		rec.AttendedAt = *attendedAt
	}
	return &rec, nil
}

// UpdateStatusIf implements NotificationStore. The WHERE clause on the current
// status makes the transition a conditional update.
func (r *PostgresNotifications) UpdateStatusIf(ctx context.Context, id string, from, to conversation.NotificationStatus, operatorID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = $3,
		    operator_id = CASE WHEN $4 <> '' THEN $4 ELSE operator_id END,
		    attended_at = CASE WHEN $3 = 'attending' THEN now() ELSE attended_at END
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), operatorID)
	if err != nil {
		return false, fmt.Errorf("update notification status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
