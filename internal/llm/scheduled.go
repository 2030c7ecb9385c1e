package llm

import (
	"context"
	"io"

	"github.com/skedy/conversation-core/internal/scheduler"
	"github.com/skedy/conversation-core/pkg/metrics"
)

// Rough chars-per-token ratio used to estimate request cost before the
// provider reports actual usage.
const charsPerToken = 4

// Scheduled wraps a Client so every upstream call passes through the
// rate-limit scheduler. Transcriptions carry no token accounting and are
// charged a flat estimate.
type Scheduled struct {
	next  Client
	sched *scheduler.Scheduler
	mtx   *metrics.Metrics
}

// NewScheduled decorates the client with scheduler admission and call metrics.
func NewScheduled(next Client, sched *scheduler.Scheduler, mtx *metrics.Metrics) *Scheduled {
	return &Scheduled{next: next, sched: sched, mtx: mtx}
}

func estimateTokens(req Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	est := chars/charsPerToken + int(req.MaxTokens)
	if est < 1 {
		est = 1
	}
	return est
}

// Complete implements Client.
func (s *Scheduled) Complete(ctx context.Context, req Request) (*Response, error) {
	est := estimateTokens(req)
	var resp *Response
	err := s.sched.Do(ctx, est, func(ctx context.Context) (int, error) {
		s.mtx.LLMCalls.WithLabelValues("complete").Inc()
		r, err := s.next.Complete(ctx, req)
		if err != nil {
			s.mtx.LLMCallFailures.WithLabelValues("complete").Inc()
			return est, err
		}
		resp = r
		return r.TokensUsed, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Transcribe implements Client.
func (s *Scheduled) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	const flatEstimate = 500
	var text string
	err := s.sched.Do(ctx, flatEstimate, func(ctx context.Context) (int, error) {
		s.mtx.LLMCalls.WithLabelValues("transcribe").Inc()
		t, err := s.next.Transcribe(ctx, audio, filename)
		if err != nil {
			s.mtx.LLMCallFailures.WithLabelValues("transcribe").Inc()
			return flatEstimate, err
		}
		text = t
		return flatEstimate, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
