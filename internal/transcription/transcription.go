// Package transcription converts inbound voice notes to text so the rest of
// the engine only ever deals with plain messages. Validation failures never
// abort a turn; they produce a localized notice the user sees instead of a
// transcript.
package transcription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Placeholder marks the spot in a caption where the transcript is inserted.
const Placeholder = "[AUDIO]"

// Config bounds what the service will send to the audio model.
type Config struct {
	MaxDurationSeconds int   `yaml:"max_duration_seconds" env:"TRANSCRIPTION_MAX_DURATION_SECONDS" default:"180"`
	MaxSizeBytes       int64 `yaml:"max_size_bytes" env:"TRANSCRIPTION_MAX_SIZE_BYTES" default:"26214400"`
}

// Fetcher retrieves audio payloads by URL. Channel adapters hand over URLs,
// not bytes, so retrieval is injectable for tests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches audio over plain HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with a bounded request timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch audio: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

type notice int

const (
	noticeTooLong notice = iota
	noticeTooLarge
	noticeBadFormat
	noticeFailed
)

var notices = map[string]map[notice]string{
	"en": {
		noticeTooLong:   "Sorry, I can only listen to voice messages up to 3 minutes long. Could you send a shorter one or type it out?",
		noticeTooLarge:  "Sorry, that voice message is too large for me to process. Could you send a shorter one or type it out?",
		noticeBadFormat: "Sorry, I can't process that audio format. Could you type your message instead?",
		noticeFailed:    "Sorry, I couldn't understand that voice message. Could you type it out?",
	},
	"es": {
		noticeTooLong:   "Lo siento, solo puedo escuchar mensajes de voz de hasta 3 minutos. ¿Podrías enviar uno más corto o escribirlo?",
		noticeTooLarge:  "Lo siento, ese mensaje de voz es demasiado grande para procesarlo. ¿Podrías enviar uno más corto o escribirlo?",
		noticeBadFormat: "Lo siento, no puedo procesar ese formato de audio. ¿Podrías escribir tu mensaje?",
		noticeFailed:    "Lo siento, no pude entender ese mensaje de voz. ¿Podrías escribirlo?",
	},
}

func localized(lang string, n notice) string {
	msgs, ok := notices[lang]
	if !ok {
		msgs = notices["en"]
	}
	return msgs[n]
}

// extensions accepted by the audio model, keyed by MIME subtype.
var supportedFormats = map[string]string{
	"mpeg": "mp3",
	"mp3":  "mp3",
	"mp4":  "mp4",
	"m4a":  "m4a",
	"wav":  "wav",
	"webm": "webm",
	"ogg":  "ogg",
	"oga":  "ogg",
	"mpga": "mpga",
}

// Result is the outcome of processing one inbound message's audio.
type Result struct {
	// Text is the message text with the transcript substituted in, or a
	// localized notice when Err is set.
	Text string
	// Processed reports whether an audio attachment went through the audio
	// path, regardless of outcome. False means there was nothing to do.
	Processed bool
	// Err is set when the audio could not be transcribed. Text then holds
	// the notice to show the user instead of running the turn.
	Err error
}

// Service transcribes audio attachments through the model client.
type Service struct {
	cfg    Config
	client llm.Client
	fetch  Fetcher
	log    logger.Logger
}

// New creates a transcription service.
func New(cfg Config, client llm.Client, fetch Fetcher, log logger.Logger) *Service {
	return &Service{cfg: cfg, client: client, fetch: fetch, log: log}
}

// Process resolves the first audio attachment of a message into text. The
// caption's placeholder is replaced by the transcript; a caption without a
// placeholder gets the transcript appended. lang selects the notice language
// and falls back to English.
func (s *Service) Process(ctx context.Context, text string, attachments []conversation.Attachment, lang string) Result {
	audio := firstAudio(attachments)
	if audio == nil {
		return Result{Text: text}
	}

	if audio.DurationSeconds > s.cfg.MaxDurationSeconds {
		s.log.Warn("audio rejected, too long",
			logger.IntField("duration_seconds", audio.DurationSeconds),
			logger.IntField("limit_seconds", s.cfg.MaxDurationSeconds))
		return s.failure(lang, noticeTooLong, fmt.Errorf("audio duration %ds exceeds %ds limit", audio.DurationSeconds, s.cfg.MaxDurationSeconds))
	}
	if audio.SizeBytes > s.cfg.MaxSizeBytes {
		s.log.Warn("audio rejected, too large",
			logger.Field("size_bytes", audio.SizeBytes))
		return s.failure(lang, noticeTooLarge, fmt.Errorf("audio size %d exceeds %d byte limit", audio.SizeBytes, s.cfg.MaxSizeBytes))
	}
	ext, ok := formatExtension(audio.MIMEType)
	if !ok {
		s.log.Warn("audio rejected, unsupported format",
			logger.StringField("mime_type", audio.MIMEType))
		return s.failure(lang, noticeBadFormat, fmt.Errorf("unsupported audio format %q", audio.MIMEType))
	}

	body, err := s.fetch.Fetch(ctx, audio.URL)
	if err != nil {
		s.log.Error("audio fetch failed", logger.ErrorField(err))
		return s.failure(lang, noticeFailed, err)
	}
	defer body.Close()

	transcript, err := s.client.Transcribe(ctx, body, "voice."+ext)
	if err != nil {
		s.log.Error("transcription failed", logger.ErrorField(err))
		return s.failure(lang, noticeFailed, err)
	}

	return Result{Text: substitute(text, transcript), Processed: true}
}

func (s *Service) failure(lang string, n notice, err error) Result {
	return Result{Text: localized(lang, n), Processed: true, Err: err}
}

func firstAudio(attachments []conversation.Attachment) *conversation.Attachment {
	for i := range attachments {
		if attachments[i].Type == conversation.AttachmentAudio {
			return &attachments[i]
		}
	}
	return nil
}

func formatExtension(mimeType string) (string, bool) {
	subtype := mimeType
	if idx := strings.Index(mimeType, "/"); idx != -1 {
		subtype = mimeType[idx+1:]
	}
	if idx := strings.Index(subtype, ";"); idx != -1 {
		subtype = subtype[:idx]
	}
	ext, ok := supportedFormats[strings.ToLower(strings.TrimSpace(subtype))]
	return ext, ok
}

func substitute(text, transcript string) string {
	if strings.Contains(text, Placeholder) {
		return strings.ReplaceAll(text, Placeholder, transcript)
	}
	if strings.TrimSpace(text) == "" {
		return transcript
	}
	return text + "\n" + transcript
}
