package sentiment

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

type stubClient struct {
	response string
	err      error
}

func (s *stubClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.response}, nil
}

func (s *stubClient) Transcribe(context.Context, io.Reader, string) (string, error) {
	return "", llm.ErrTranscriptionUnsupported
}

func TestAnalyze(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})

	t.Run("frustrated message", func(t *testing.T) {
		a := New(&stubClient{response: `{"score":2,"category":"frustrated","description":"User is losing patience."}`}, log)
		mood, err := a.Analyze(context.Background(), "this is the third time I ask!!")
		require.NoError(t, err)
		assert.Equal(t, 2, mood.Score)
		assert.True(t, mood.Frustrated())
	})

	t.Run("fenced output", func(t *testing.T) {
		a := New(&stubClient{response: "```json\n{\"score\":8,\"category\":\"happy\"}\n```"}, log)
		mood, err := a.Analyze(context.Background(), "great, thanks!")
		require.NoError(t, err)
		assert.Equal(t, 8, mood.Score)
		assert.False(t, mood.Frustrated())
	})

	t.Run("score clamped into range", func(t *testing.T) {
		a := New(&stubClient{response: `{"score":14,"category":"happy"}`}, log)
		mood, err := a.Analyze(context.Background(), "amazing")
		require.NoError(t, err)
		assert.Equal(t, 10, mood.Score)
	})

	t.Run("model failure yields neutral", func(t *testing.T) {
		a := New(&stubClient{err: errors.New("boom")}, log)
		mood, err := a.Analyze(context.Background(), "hello")
		require.Error(t, err)
		assert.Equal(t, 5, mood.Score)
		assert.False(t, mood.Frustrated())
	})

	t.Run("garbage output yields neutral", func(t *testing.T) {
		a := New(&stubClient{response: "the user seems fine"}, log)
		mood, err := a.Analyze(context.Background(), "hello")
		require.Error(t, err)
		assert.Equal(t, 5, mood.Score)
	})
}

func TestFrustratedBoundary(t *testing.T) {
	assert.True(t, Mood{Score: 3}.Frustrated())
	assert.False(t, Mood{Score: 4}.Frustrated())
}
