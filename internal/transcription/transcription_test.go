package transcription

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

type stubModel struct {
	transcript string
	err        error
}

func (s *stubModel) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (s *stubModel) Transcribe(context.Context, io.Reader, string) (string, error) {
	return s.transcript, s.err
}

type stubFetcher struct {
	err error
}

func (s *stubFetcher) Fetch(context.Context, string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader("audio-bytes")), nil
}

func audioAttachment(duration int, size int64, mime string) []conversation.Attachment {
	return []conversation.Attachment{{
		Type:            conversation.AttachmentAudio,
		URL:             "https://cdn.example.com/voice.ogg",
		MIMEType:        mime,
		DurationSeconds: duration,
		SizeBytes:       size,
	}}
}

func newService(model llm.Client, fetch Fetcher) *Service {
	cfg := Config{MaxDurationSeconds: 180, MaxSizeBytes: 25 * 1024 * 1024}
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	return New(cfg, model, fetch, log)
}

func TestProcessTranscribesAudio(t *testing.T) {
	s := newService(&stubModel{transcript: "book me a haircut tomorrow"}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(30, 1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Equal(t, "book me a haircut tomorrow", res.Text)
}

func TestProcessSubstitutesPlaceholder(t *testing.T) {
	s := newService(&stubModel{transcript: "at three pm"}, &stubFetcher{})

	res := s.Process(context.Background(), "User said: "+Placeholder, audioAttachment(30, 1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Equal(t, "User said: at three pm", res.Text)
}

func TestProcessNoAudioPassesThrough(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{})

	res := s.Process(context.Background(), "just text", nil, "en")
	assert.False(t, res.Processed)
	assert.NoError(t, res.Err)
	assert.Equal(t, "just text", res.Text)
}

func TestProcessRejectsLongAudio(t *testing.T) {
	s := newService(&stubModel{transcript: "should not be called"}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(200, 1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "up to 3 minutes")
}

func TestProcessRejectsLongAudioSpanish(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(200, 1024, "audio/ogg"), "es")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "hasta 3 minutos")
}

func TestProcessRejectsOversizedAudio(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(30, 30*1024*1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "too large")
}

func TestProcessRejectsUnknownFormat(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(30, 1024, "audio/amr"), "en")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "audio format")
}

func TestProcessFetchFailure(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{err: errors.New("404")})

	res := s.Process(context.Background(), "", audioAttachment(30, 1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "couldn't understand")
}

func TestProcessTranscriptionFailure(t *testing.T) {
	s := newService(&stubModel{err: errors.New("model down")}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(30, 1024, "audio/ogg"), "en")
	assert.True(t, res.Processed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Text, "couldn't understand")
}

func TestProcessUnknownLanguageFallsBackToEnglish(t *testing.T) {
	s := newService(&stubModel{}, &stubFetcher{})

	res := s.Process(context.Background(), "", audioAttachment(200, 1024, "audio/ogg"), "fr")
	assert.Contains(t, res.Text, "up to 3 minutes")
}
