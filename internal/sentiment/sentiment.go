// Package sentiment scores user messages for frustration so the escalation
// detector can hand persistent unhappiness to a human.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

// FrustratedThreshold is the highest score still counted as frustrated.
const FrustratedThreshold = 3

// Mood is the analysis result for one message. Score runs 1 (very negative)
// to 10 (very positive).
type Mood struct {
	Score       int    `json:"score"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Frustrated reports whether the score falls at or below the threshold.
func (m Mood) Frustrated() bool {
	return m.Score <= FrustratedThreshold
}

// Analyzer scores messages through the model client.
type Analyzer struct {
	client llm.Client
	log    logger.Logger
}

// New creates a sentiment analyzer.
func New(client llm.Client, log logger.Logger) *Analyzer {
	return &Analyzer{client: client, log: log}
}

const systemPrompt = `You rate the emotional tone of a customer message.

Respond with a single JSON object and nothing else:
{"score": 1-10, "category": "...", "description": "..."}

score: 1 is very negative, 10 is very positive, 5 is neutral.
category: one word, e.g. frustrated, neutral, happy, confused.
description: one short sentence.`

// Analyze scores a single user message. A neutral mood and an error are
// returned on model or parse failure so callers can ignore the signal.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Mood, error) {
	resp, err := a.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		MaxTokens: 128,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
	})
	if err != nil {
		return neutral(), fmt.Errorf("analyze sentiment: %w", err)
	}

	mood, err := parseMood(resp.Text)
	if err != nil {
		return neutral(), fmt.Errorf("analyze sentiment: %w", err)
	}
	return mood, nil
}

func neutral() Mood {
	return Mood{Score: 5, Category: "neutral"}
}

func parseMood(raw string) (Mood, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var mood Mood
	if err := json.Unmarshal([]byte(cleaned), &mood); err != nil {
		return Mood{}, fmt.Errorf("decode mood JSON: %w", err)
	}
	if mood.Score < 1 {
		mood.Score = 1
	}
	if mood.Score > 10 {
		mood.Score = 10
	}
	return mood, nil
}
