// Package classifier turns a user message into a structured intent using the
// model client. Model output is JSON; anything the model gets wrong is
// normalized away rather than propagated.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Intent is the classification result for one user message.
type Intent struct {
	GoalType             conversation.GoalType   `json:"goalType"`
	GoalAction           conversation.GoalAction `json:"goalAction"`
	ContextSwitch        bool                    `json:"contextSwitch"`
	Confidence           float64                 `json:"confidence"`
	ExtractedInformation map[string]any          `json:"extractedInformation"`
}

// Fallback returns the zero-confidence intent used whenever classification
// cannot be trusted. Callers treat it as "keep doing what we were doing".
func Fallback() *Intent {
	return &Intent{
		GoalType:   conversation.GoalUnknown,
		GoalAction: conversation.ActionNone,
		Confidence: 0,
	}
}

// Classifier drives intent detection through the model client.
type Classifier struct {
	client llm.Client
	log    logger.Logger
}

// New creates a classifier on the given model client.
func New(client llm.Client, log logger.Logger) *Classifier {
	return &Classifier{client: client, log: log}
}

const systemPrompt = `You classify the latest user message of a customer conversation for a service booking business.

Respond with a single JSON object and nothing else:
{"goalType": "...", "goalAction": "...", "contextSwitch": true|false, "confidence": 0.0-1.0, "extractedInformation": {}}

goalType is one of: booking, faq, account_management, chitchat, unknown.
goalAction is one of: create, update, delete, view, none.

Rules:
- The conversation context outweighs the literal wording of the message. A short answer like "tomorrow at 3" continues the active goal.
- contextSwitch is true only when the user clearly abandons the active goal for a different one.
- Small talk during an active goal is chitchat with contextSwitch false.
- A greeting with no active goal and no other signal means the user likely wants to book: goalType booking, action create, low confidence.
- extractedInformation holds any slot values mentioned in the message (service, date, time, address, name, ...), keyed in snake_case.
- confidence reflects how sure you are about goalType, not about the extracted values.`

// Classify returns the intent for the latest user message given the recent
// history and dialogue state. Never returns a nil intent together with a nil
// error; on model or parse failure the error is set and the caller decides
// the fallback.
func (c *Classifier) Classify(ctx context.Context, history []conversation.Message, state *conversation.DialogueState, text string) (*Intent, error) {
	req := llm.Request{
		System:    systemPrompt,
		MaxTokens: 512,
		Messages:  buildMessages(history, state, text),
	}

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}

	intent, err := ParseIntent(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}
	return intent, nil
}

func buildMessages(history []conversation.Message, state *conversation.DialogueState, text string) []llm.Message {
	var sb strings.Builder

	if state != nil && state.CurrentGoal != nil {
		fmt.Fprintf(&sb, "Active goal: %s/%s at step %d.\n",
			state.CurrentGoal.Type, state.CurrentGoal.Action, state.CurrentGoal.Step)
		if len(state.CurrentGoal.CollectedData) > 0 {
			collected, _ := json.Marshal(state.CurrentGoal.CollectedData)
			fmt.Fprintf(&sb, "Collected so far: %s\n", collected)
		}
	} else {
		sb.WriteString("No active goal.\n")
	}

	// Recent history, oldest first, capped to keep the prompt small.
	const historyLimit = 10
	start := 0
	if len(history) > historyLimit {
		start = len(history) - historyLimit
	}
	if len(history) > start {
		sb.WriteString("Recent conversation:\n")
		for _, m := range history[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&sb, "Latest user message: %s", text)

	return []llm.Message{{Role: llm.RoleUser, Content: sb.String()}}
}

// ParseIntent decodes and normalizes raw model output. Markdown code fences
// are stripped, enum values are validated against the closed sets and
// confidence is clamped to [0, 1].
func ParseIntent(raw string) (*Intent, error) {
	cleaned := stripFences(raw)

	var decoded struct {
		GoalType             string         `json:"goalType"`
		GoalAction           string         `json:"goalAction"`
		ContextSwitch        bool           `json:"contextSwitch"`
		Confidence           float64        `json:"confidence"`
		ExtractedInformation map[string]any `json:"extractedInformation"`
	}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("decode intent JSON: %w", err)
	}

	confidence := decoded.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Intent{
		GoalType:             conversation.ParseGoalType(decoded.GoalType),
		GoalAction:           conversation.ParseGoalAction(decoded.GoalAction),
		ContextSwitch:        decoded.ContextSwitch,
		Confidence:           confidence,
		ExtractedInformation: decoded.ExtractedInformation,
	}, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
