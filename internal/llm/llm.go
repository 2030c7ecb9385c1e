// Package llm defines the provider-neutral model client used by the
// conversation engine. Concrete backends live in subpackages; the Scheduled
// decorator routes every call through the rate-limit scheduler.
package llm

import (
	"context"
	"errors"
	"io"
)

// ErrTranscriptionUnsupported is returned by backends without an audio model.
var ErrTranscriptionUnsupported = errors.New("llm: transcription not supported by this backend")

// Message roles on the provider wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of model input.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int64
	Temperature *float64
}

// Response carries the completion text and the provider's token accounting.
type Response struct {
	Text       string
	TokensUsed int
}

// Client is the model surface the engine depends on. Classification and
// sentiment are plain completions with structured prompts; only audio needs
// a dedicated operation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}
