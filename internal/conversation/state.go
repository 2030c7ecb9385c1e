package conversation

import (
	"time"
)

// GoalType is the closed set of task-level intents the engine understands.
type GoalType string

// Goal types.
const (
	GoalBooking  GoalType = "booking"
	GoalFAQ      GoalType = "faq"
	GoalAccount  GoalType = "account_management"
	GoalChitchat GoalType = "chitchat"
	GoalUnknown  GoalType = "unknown"
)

// GoalAction describes what the user wants to do with the goal's subject.
type GoalAction string

// Goal actions.
const (
	ActionCreate GoalAction = "create"
	ActionUpdate GoalAction = "update"
	ActionDelete GoalAction = "delete"
	ActionView   GoalAction = "view"
	ActionNone   GoalAction = "none"
)

// GoalStatus tracks a goal through its lifecycle.
type GoalStatus string

// Goal statuses.
const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalCancelled GoalStatus = "cancelled"
)

// EscalationStatus is the first-class human-takeover state of a conversation.
type EscalationStatus string

// Escalation statuses. Resolved behaves as none on the next ordinary turn.
const (
	EscalationNone       EscalationStatus = "none"
	EscalationPending    EscalationStatus = "pending_human"
	EscalationInProgress EscalationStatus = "in_progress_human"
	EscalationResolved   EscalationStatus = "resolved_human"
)

// ParseGoalType validates a raw goal type against the closed enumeration,
// substituting GoalUnknown for anything unrecognized.
func ParseGoalType(raw string) GoalType {
	switch GoalType(raw) {
	case GoalBooking, GoalFAQ, GoalAccount, GoalChitchat:
		return GoalType(raw)
	default:
		return GoalUnknown
	}
}

// ParseGoalAction validates a raw goal action, substituting ActionNone for
// anything unrecognized.
func ParseGoalAction(raw string) GoalAction {
	switch GoalAction(raw) {
	case ActionCreate, ActionUpdate, ActionDelete, ActionView:
		return GoalAction(raw)
	default:
		return ActionNone
	}
}

// ParseEscalationStatus validates a raw escalation status, substituting
// EscalationNone for anything unrecognized.
func ParseEscalationStatus(raw string) EscalationStatus {
	switch EscalationStatus(raw) {
	case EscalationPending, EscalationInProgress, EscalationResolved:
		return EscalationStatus(raw)
	default:
		return EscalationNone
	}
}

// Goal represents one task the user is pursuing. Only the router and the
// handler it dispatches to mutate a goal.
type Goal struct {
	ID            string         `json:"id"`
	Type          GoalType       `json:"type"`
	Action        GoalAction     `json:"action"`
	Status        GoalStatus     `json:"status"`
	Step          int            `json:"step"`
	CollectedData map[string]any `json:"collected_data"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MergeData folds extracted slot values into the goal's collected data.
// New values win on conflict.
func (g *Goal) MergeData(extracted map[string]any) {
	if g.CollectedData == nil {
		g.CollectedData = make(map[string]any, len(extracted))
	}
	for k, v := range extracted {
		g.CollectedData[k] = v
	}
}

// InterruptionContext records a paused goal at the moment of a context switch
// so it can be offered for resumption later.
type InterruptionContext struct {
	GoalType    GoalType  `json:"goal_type"`
	PausedAt    time.Time `json:"paused_at"`
	ResumeAfter bool      `json:"resume_after"`
}

// DialogueState is the durable "what is happening" record, one per
// tenant/channel-user pair, independent of individual sessions.
// Invariant: at most one goal is current at a time.
type DialogueState struct {
	TenantID         string               `json:"tenant_id"`
	ChannelUserID    string               `json:"channel_user_id"`
	CurrentGoal      *Goal                `json:"current_goal,omitempty"`
	PreviousGoal     *Goal                `json:"previous_goal,omitempty"`
	EscalationStatus EscalationStatus     `json:"escalation_status"`
	LastInterruption *InterruptionContext `json:"last_interruption,omitempty"`
	Data             map[string]any       `json:"data,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewDialogueState returns the zero-activity state for a user.
func NewDialogueState(tenantID, channelUserID string) *DialogueState {
	return &DialogueState{
		TenantID:         tenantID,
		ChannelUserID:    channelUserID,
		EscalationStatus: EscalationNone,
	}
}

// RetireCurrentGoal moves the current goal into PreviousGoal with the given
// terminal status and clears the current slot. The retired goal's collected
// data travels with it, it is not discarded.
func (d *DialogueState) RetireCurrentGoal(status GoalStatus) {
	if d.CurrentGoal == nil {
		return
	}
	d.CurrentGoal.Status = status
	d.PreviousGoal = d.CurrentGoal
	d.CurrentGoal = nil
}
