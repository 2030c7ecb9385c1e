// Package scheduler serializes access to rate-limited upstream model APIs.
// Admission is strictly FIFO against three budgets: concurrent requests,
// calls per window and tokens per window. Requests are never dropped; a
// request that cannot be admitted waits and is re-evaluated on a backoff
// tick or when an in-flight request finishes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skedy/conversation-core/pkg/logger"
)

// Config bounds the upstream request flow.
type Config struct {
	MaxConcurrent   int           `yaml:"max_concurrent" env:"SCHEDULER_MAX_CONCURRENT" default:"4"`
	CallsPerWindow  int           `yaml:"calls_per_window" env:"SCHEDULER_CALLS_PER_WINDOW" default:"60"`
	TokensPerWindow int           `yaml:"tokens_per_window" env:"SCHEDULER_TOKENS_PER_WINDOW" default:"90000"`
	Window          time.Duration `yaml:"window" env:"SCHEDULER_WINDOW" default:"1m"`
	Backoff         time.Duration `yaml:"backoff" env:"SCHEDULER_BACKOFF" default:"250ms"`
}

// Validate implements the config validation hook.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.CallsPerWindow <= 0 {
		return fmt.Errorf("scheduler calls_per_window must be positive, got %d", c.CallsPerWindow)
	}
	if c.TokensPerWindow <= 0 {
		return fmt.Errorf("scheduler tokens_per_window must be positive, got %d", c.TokensPerWindow)
	}
	if c.Window <= 0 {
		return fmt.Errorf("scheduler window must be positive, got %s", c.Window)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("scheduler backoff must be positive, got %s", c.Backoff)
	}
	return nil
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock. Tests use this to drive the window.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithStatsFunc registers a callback invoked under the scheduler lock whenever
// in-flight or queue depth changes. Used to feed gauges.
func WithStatsFunc(fn func(inFlight, queued int)) Option {
	return func(s *Scheduler) { s.onStats = fn }
}

type usage struct {
	at     time.Time
	tokens int
}

type waiter struct {
	ready     chan struct{}
	estTokens int
}

// Scheduler admits work in arrival order against the configured budgets.
// Token accounting is optimistic: the caller's estimate is charged at
// admission and topped up after completion if actual usage came in higher.
type Scheduler struct {
	cfg     Config
	clock   Clock
	log     logger.Logger
	onStats func(inFlight, queued int)

	mu       sync.Mutex
	inFlight int
	calls    []time.Time
	tokens   []usage
	queue    []*waiter
}

// New creates a scheduler with the given budgets.
func New(cfg Config, log logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		clock: RealClock(),
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs fn once admission is granted, blocking until then. fn reports the
// actual token usage of the call so the window charge can be corrected
// upward. Returns the context error if the caller gives up while queued.
func (s *Scheduler) Do(ctx context.Context, estimatedTokens int, fn func(context.Context) (int, error)) error {
	if err := s.acquire(ctx, estimatedTokens); err != nil {
		return err
	}

	actual, err := fn(ctx)
	s.release(estimatedTokens, actual)
	return err
}

func (s *Scheduler) acquire(ctx context.Context, estimatedTokens int) error {
	w := &waiter{ready: make(chan struct{}, 1), estTokens: estimatedTokens}

	s.mu.Lock()
	s.queue = append(s.queue, w)
	s.dispatchLocked()
	s.mu.Unlock()

	for {
		select {
		case <-w.ready:
			return nil
		case <-ctx.Done():
			s.mu.Lock()
			select {
			case <-w.ready:
				// Admitted while cancelling; give the slot straight back.
				s.mu.Unlock()
				s.release(estimatedTokens, estimatedTokens)
				return ctx.Err()
			default:
			}
			s.removeLocked(w)
			s.mu.Unlock()
			return ctx.Err()
		case <-s.clock.After(s.cfg.Backoff):
			s.mu.Lock()
			s.dispatchLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) release(estimated, actual int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight--
	if actual > estimated {
		s.tokens = append(s.tokens, usage{at: s.clock.Now(), tokens: actual - estimated})
	}
	s.dispatchLocked()
}

// dispatchLocked prunes the window and admits waiters from the head while the
// budgets allow. Only the head is ever considered, which is what keeps
// admission FIFO even when a small request is queued behind a large one.
func (s *Scheduler) dispatchLocked() {
	now := s.clock.Now()
	s.pruneLocked(now)

	for len(s.queue) > 0 {
		head := s.queue[0]
		if !s.admissibleLocked(head.estTokens) {
			break
		}
		s.queue = s.queue[1:]
		s.inFlight++
		s.calls = append(s.calls, now)
		if head.estTokens > 0 {
			s.tokens = append(s.tokens, usage{at: now, tokens: head.estTokens})
		}
		head.ready <- struct{}{}
	}

	if s.onStats != nil {
		s.onStats(s.inFlight, len(s.queue))
	}
}

func (s *Scheduler) admissibleLocked(estTokens int) bool {
	if s.inFlight >= s.cfg.MaxConcurrent {
		return false
	}
	if len(s.calls) >= s.cfg.CallsPerWindow {
		return false
	}
	windowTokens := 0
	for _, u := range s.tokens {
		windowTokens += u.tokens
	}
	return windowTokens+estTokens <= s.cfg.TokensPerWindow
}

func (s *Scheduler) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.Window)

	kept := s.calls[:0]
	for _, at := range s.calls {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.calls = kept

	keptTokens := s.tokens[:0]
	for _, u := range s.tokens {
		if u.at.After(cutoff) {
			keptTokens = append(keptTokens, u)
		}
	}
	s.tokens = keptTokens
}

func (s *Scheduler) removeLocked(w *waiter) {
	for i, queued := range s.queue {
		if queued == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	if s.onStats != nil {
		s.onStats(s.inFlight, len(s.queue))
	}
}

// Schedule queues fn without blocking the caller and delivers the outcome on
// the returned channel once the call settles.
func (s *Scheduler) Schedule(ctx context.Context, estimatedTokens int, fn func(context.Context) (int, error)) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- s.Do(ctx, estimatedTokens, fn)
	}()
	return result
}

// Stats reports the current in-flight count and queue depth.
func (s *Scheduler) Stats() (inFlight, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight, len(s.queue)
}
