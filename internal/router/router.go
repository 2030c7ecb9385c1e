// Package router owns the per-turn algorithm: resolve the session, check
// the escalation lock, classify intent, apply the context-switch rules and
// dispatch to the goal's task handler. It is the only component that mutates
// dialogue state.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/classifier"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/escalation"
	"github.com/skedy/conversation-core/internal/resolver"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/internal/tasks"
	"github.com/skedy/conversation-core/internal/transcription"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/metrics"
	"github.com/skedy/conversation-core/pkg/prefixed_uuid"
)

// Config tunes per-turn behavior.
type Config struct {
	SessionTimeout  time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT" default:"24h"`
	DefaultLanguage string        `yaml:"default_language" env:"DEFAULT_LANGUAGE" default:"en"`
}

// Router drives one conversation turn end to end.
type Router struct {
	cfg         Config
	resolver    *resolver.Resolver
	classifier  *classifier.Classifier
	sessions    store.SessionStore
	escalations *escalation.Manager
	detector    *escalation.Detector
	transcriber *transcription.Service
	handlers    *tasks.Registry
	mtx         *metrics.Metrics
	log         logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a router from its collaborators.
func New(cfg Config, res *resolver.Resolver, cls *classifier.Classifier, sessions store.SessionStore,
	esc *escalation.Manager, det *escalation.Detector, trans *transcription.Service,
	handlers *tasks.Registry, mtx *metrics.Metrics, log logger.Logger) *Router {
	return &Router{
		cfg:         cfg,
		resolver:    res,
		classifier:  cls,
		sessions:    sessions,
		escalations: esc,
		detector:    det,
		transcriber: trans,
		handlers:    handlers,
		mtx:         mtx,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

// sessionLock serializes turns per channel user. Turns across users run
// concurrently; within one conversation the message log and dialogue state
// have a single writer.
func (r *Router) sessionLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	r.locks[key] = m
	return m
}

// HandleMessage processes one inbound message and returns the response the
// adapter should render. An empty response means the turn was handled but
// nothing must be shown (escalation holds the conversation).
func (r *Router) HandleMessage(ctx context.Context, msg channel.InboundMessage) (channel.BotResponse, error) {
	lock := r.sessionLock(msg.Channel + "/" + msg.SenderID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	r.mtx.TurnsTotal.Inc()
	defer func() {
		r.mtx.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := r.resolver.Resolve(ctx, msg.Channel, msg.SenderID, msg.TenantID, r.cfg.SessionTimeout)
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("resolve session: %w", err)
	}
	session := res.Session

	history, err := r.resolver.BuildHistory(ctx, session)
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("build history: %w", err)
	}

	// Audio first: the rest of the turn only ever sees text.
	trans := r.transcriber.Process(ctx, msg.Text, msg.Attachments, r.cfg.DefaultLanguage)
	if trans.Err != nil {
		// The notice is the bot's reply; the original message is kept as the
		// user turn it belongs to.
		response := channel.BotResponse{Text: trans.Text}
		if err := r.appendTurn(ctx, session.ID, msg, msg.Text, response); err != nil {
			return channel.BotResponse{}, err
		}
		return response, nil
	}
	text := trans.Text

	state, err := r.sessions.GetDialogueState(ctx, msg.TenantID, msg.SenderID)
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("load dialogue state: %w", err)
	}
	if state == nil {
		state = conversation.NewDialogueState(msg.TenantID, msg.SenderID)
	}

	// A resolved escalation behaves as none from the next ordinary turn on.
	if state.EscalationStatus == conversation.EscalationResolved {
		state.EscalationStatus = conversation.EscalationNone
	}

	// While a human holds or awaits control the agent stays silent; the user
	// message still lands in the log.
	if escalation.IsLocked(state.EscalationStatus) {
		r.mtx.TurnsLocked.Inc()
		if err := r.appendTurn(ctx, session.ID, msg, text, channel.BotResponse{}); err != nil {
			return channel.BotResponse{}, err
		}
		return channel.BotResponse{}, nil
	}

	if r.detector != nil && r.detector.ShouldEscalate(ctx, session.ID, text) {
		response, err := r.escalations.Initiate(ctx, msg.TenantID, session.ID, msg.SenderID, text)
		if err != nil && !errors.Is(err, escalation.ErrAlreadyEscalated) {
			return channel.BotResponse{}, fmt.Errorf("initiate escalation: %w", err)
		}
		if err := r.appendTurn(ctx, session.ID, msg, text, response); err != nil {
			return channel.BotResponse{}, err
		}
		return response, nil
	}

	intent, err := r.classifier.Classify(ctx, history, state, text)
	if err != nil {
		// The turn must still produce a deterministic next state.
		r.log.Warn("classification failed, using fallback intent", logger.ErrorField(err))
		intent = classifier.Fallback()
	}

	goal, sideChat := r.applyIntent(state, intent)

	response, err := r.handlers.For(goal.Type).Handle(ctx, goal, text, history)
	if err != nil {
		return channel.BotResponse{}, fmt.Errorf("handle %s goal: %w", goal.Type, err)
	}

	if !sideChat && goal.Status == conversation.GoalCompleted {
		if state.PreviousGoal != nil && state.PreviousGoal.Status == conversation.GoalPaused {
			// A paused goal is kept for resumption; the completed one-shot
			// goal does not displace it.
			state.CurrentGoal = nil
		} else {
			state.RetireCurrentGoal(conversation.GoalCompleted)
		}
	}

	if err := r.sessions.UpdateDialogueState(ctx, state); err != nil {
		return channel.BotResponse{}, fmt.Errorf("persist dialogue state: %w", err)
	}
	if err := r.appendTurn(ctx, session.ID, msg, text, response); err != nil {
		return channel.BotResponse{}, err
	}

	return response, nil
}

// applyIntent folds the classified intent into the dialogue state and
// returns the goal to dispatch. sideChat marks chitchat answered alongside
// an active goal, which must not disturb that goal.
func (r *Router) applyIntent(state *conversation.DialogueState, intent *classifier.Intent) (goal *conversation.Goal, sideChat bool) {
	current := state.CurrentGoal

	// Small talk during an active goal is answered in passing.
	if current != nil && intent.GoalType == conversation.GoalChitchat && !intent.ContextSwitch {
		return &conversation.Goal{
			Type:   conversation.GoalChitchat,
			Action: conversation.ActionNone,
			Status: conversation.GoalActive,
		}, true
	}

	switch {
	case current == nil:
		goalType := intent.GoalType
		action := intent.GoalAction
		// First contact with nothing concrete to go on: assume the user is
		// here for the primary task.
		if goalType == conversation.GoalUnknown || goalType == conversation.GoalChitchat {
			goalType = conversation.GoalBooking
			action = conversation.ActionCreate
		}
		state.CurrentGoal = r.newGoal(goalType, action, intent.ExtractedInformation)

	case intent.ContextSwitch || (intent.GoalType != current.Type && intent.GoalType != conversation.GoalUnknown):
		r.mtx.ContextSwitches.Inc()
		state.LastInterruption = &conversation.InterruptionContext{
			GoalType:    current.Type,
			PausedAt:    time.Now(),
			ResumeAfter: true,
		}
		state.RetireCurrentGoal(conversation.GoalPaused)
		state.CurrentGoal = r.newGoal(intent.GoalType, intent.GoalAction, intent.ExtractedInformation)

	default:
		current.MergeData(intent.ExtractedInformation)
	}

	return state.CurrentGoal, false
}

func (r *Router) newGoal(goalType conversation.GoalType, action conversation.GoalAction, extracted map[string]any) *conversation.Goal {
	goal := &conversation.Goal{
		ID:            prefixed_uuid.New(prefixed_uuid.PrefixGoal).String(),
		Type:          goalType,
		Action:        action,
		Status:        conversation.GoalActive,
		CollectedData: make(map[string]any),
		CreatedAt:     time.Now(),
	}
	goal.MergeData(extracted)
	return goal
}

// appendTurn writes the user message and, when non-empty, the paired bot
// response to the session log in one store call.
func (r *Router) appendTurn(ctx context.Context, sessionID string, msg channel.InboundMessage, text string, response channel.BotResponse) error {
	messages := []conversation.Message{{
		Role:        conversation.RoleUser,
		Content:     text,
		Timestamp:   msg.Timestamp,
		Attachments: msg.Attachments,
	}}
	if !response.Empty() {
		messages = append(messages, conversation.Message{
			Role:      conversation.RoleBot,
			Content:   response.Text,
			Timestamp: time.Now(),
		})
	}
	if err := r.sessions.AppendMessages(ctx, sessionID, messages); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}
