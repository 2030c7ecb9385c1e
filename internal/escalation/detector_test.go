package escalation

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/internal/sentiment"
	"github.com/skedy/conversation-core/pkg/logger"
)

// probeThenMood answers the explicit-request probe first and sentiment
// requests after, telling them apart by the system prompt.
type probeThenMood struct {
	probeAnswer string
	moodJSON    string
	err         error
}

func (s *probeThenMood) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.MaxTokens == 8 {
		return &llm.Response{Text: s.probeAnswer}, nil
	}
	return &llm.Response{Text: s.moodJSON}, nil
}

func (s *probeThenMood) Transcribe(context.Context, io.Reader, string) (string, error) {
	return "", llm.ErrTranscriptionUnsupported
}

func setupDetector(t *testing.T, client llm.Client) *Detector {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	return NewDetector(DetectorConfig{Enabled: true, ConsecutiveFrustrated: 3},
		client, sentiment.New(client, log), log)
}

func TestDetectorExplicitRequest(t *testing.T) {
	d := setupDetector(t, &probeThenMood{probeAnswer: "yes"})
	assert.True(t, d.ShouldEscalate(context.Background(), "session-1", "I want to talk to a person"))
}

func TestDetectorFrustrationStreak(t *testing.T) {
	ctx := context.Background()
	frustrated := &probeThenMood{probeAnswer: "no", moodJSON: `{"score":2,"category":"frustrated"}`}
	d := setupDetector(t, frustrated)

	assert.False(t, d.ShouldEscalate(ctx, "session-1", "this is not working"))
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "still broken"))
	assert.True(t, d.ShouldEscalate(ctx, "session-1", "are you kidding me"))

	// The streak is consumed by the trigger; the count restarts.
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "ugh"))
}

func TestDetectorStreakBrokenByCalmMessage(t *testing.T) {
	ctx := context.Background()
	client := &probeThenMood{probeAnswer: "no", moodJSON: `{"score":2,"category":"frustrated"}`}
	d := setupDetector(t, client)

	assert.False(t, d.ShouldEscalate(ctx, "session-1", "broken"))
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "broken again"))

	client.moodJSON = `{"score":7,"category":"happy"}`
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "oh wait, it works now"))

	client.moodJSON = `{"score":2,"category":"frustrated"}`
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "no it doesn't"))
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "broken"))
	assert.True(t, d.ShouldEscalate(ctx, "session-1", "broken!!"))
}

func TestDetectorStreaksAreScopedPerSession(t *testing.T) {
	ctx := context.Background()
	d := setupDetector(t, &probeThenMood{probeAnswer: "no", moodJSON: `{"score":1,"category":"frustrated"}`})

	assert.False(t, d.ShouldEscalate(ctx, "session-1", "bad"))
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "bad"))
	assert.False(t, d.ShouldEscalate(ctx, "session-2", "bad"))
	assert.True(t, d.ShouldEscalate(ctx, "session-1", "bad"))
}

func TestDetectorResetClearsStreak(t *testing.T) {
	ctx := context.Background()
	d := setupDetector(t, &probeThenMood{probeAnswer: "no", moodJSON: `{"score":1,"category":"frustrated"}`})

	assert.False(t, d.ShouldEscalate(ctx, "session-1", "bad"))
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "bad"))
	d.Reset("session-1")
	assert.False(t, d.ShouldEscalate(ctx, "session-1", "bad"))
}

func TestDetectorDisabled(t *testing.T) {
	d := NewDetector(DetectorConfig{Enabled: false, ConsecutiveFrustrated: 1},
		&probeThenMood{probeAnswer: "yes"},
		sentiment.New(&probeThenMood{probeAnswer: "yes"}, logger.NewLogger(logger.Config{Level: logger.ErrorLevel})),
		logger.NewLogger(logger.Config{Level: logger.ErrorLevel}))
	assert.False(t, d.ShouldEscalate(context.Background(), "session-1", "get me a human"))
}

func TestDetectorSignalFailureNeverEscalates(t *testing.T) {
	d := setupDetector(t, &probeThenMood{err: errors.New("model down")})
	assert.False(t, d.ShouldEscalate(context.Background(), "session-1", "get me a human"))
}
