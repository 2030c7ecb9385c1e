package escalation

import (
	"context"
	"strings"
	"sync"

	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/internal/sentiment"
	"github.com/skedy/conversation-core/pkg/logger"
)

// DetectorConfig tunes the escalation trigger policy. The frustration
// thresholds are policy knobs, not contract.
type DetectorConfig struct {
	Enabled               bool `yaml:"enabled" env:"ESCALATION_DETECTOR_ENABLED" default:"true"`
	ConsecutiveFrustrated int  `yaml:"consecutive_frustrated" env:"ESCALATION_CONSECUTIVE_FRUSTRATED" default:"3"`
}

// Detector decides whether a message should hand the conversation to a
// human. Two signals feed it: an explicit "I want a person" probe and a run
// of consecutive frustrated messages. Signal failures never escalate.
type Detector struct {
	cfg      DetectorConfig
	client   llm.Client
	analyzer *sentiment.Analyzer
	log      logger.Logger

	mu      sync.Mutex
	streaks map[string]int // session ID -> consecutive frustrated messages
}

// NewDetector creates an escalation detector.
func NewDetector(cfg DetectorConfig, client llm.Client, analyzer *sentiment.Analyzer, log logger.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		client:   client,
		analyzer: analyzer,
		log:      log,
		streaks:  make(map[string]int),
	}
}

const probePrompt = `Does the user explicitly ask to talk to a human being (an agent, operator, real person, team member) instead of a bot? Answer with exactly one word: yes or no.`

// ShouldEscalate evaluates the trigger policy for one user message. It is
// best-effort: any signal failure is logged and treated as "no".
func (d *Detector) ShouldEscalate(ctx context.Context, sessionID, text string) bool {
	if !d.cfg.Enabled {
		return false
	}

	if d.explicitRequest(ctx, text) {
		d.Reset(sessionID)
		return true
	}

	mood, err := d.analyzer.Analyze(ctx, text)
	if err != nil {
		d.log.Debug("sentiment signal unavailable", logger.ErrorField(err))
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if mood.Frustrated() {
		d.streaks[sessionID]++
	} else {
		delete(d.streaks, sessionID)
	}
	if d.streaks[sessionID] >= d.cfg.ConsecutiveFrustrated {
		delete(d.streaks, sessionID)
		return true
	}
	return false
}

// Reset clears the session's frustration streak. Called when an operator
// message lands, so post-handoff messages start a fresh count.
func (d *Detector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streaks, sessionID)
}

func (d *Detector) explicitRequest(ctx context.Context, text string) bool {
	resp, err := d.client.Complete(ctx, llm.Request{
		System:    probePrompt,
		MaxTokens: 8,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
	})
	if err != nil {
		d.log.Debug("escalation probe unavailable", logger.ErrorField(err))
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	return strings.HasPrefix(answer, "yes")
}
