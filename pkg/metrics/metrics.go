// Package metrics provides Prometheus metrics collection for the conversation
// engine and its admin HTTP surface.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skedy/conversation-core/pkg/logger"
)

const (
	subsystem = "conversation_core"
)

// Metrics provides Prometheus metrics collection for conversation turns,
// escalations, LLM scheduling and HTTP requests.
type Metrics struct {
	reg *prometheus.Registry

	TurnsTotal          prometheus.Counter
	TurnsLocked         prometheus.Counter
	TurnDuration        prometheus.Histogram
	ContextSwitches     prometheus.Counter
	EscalationsTotal    prometheus.Counter
	EscalationConflicts prometheus.Counter

	LLMCalls        *prometheus.CounterVec
	LLMCallFailures *prometheus.CounterVec

	SchedulerInFlight   prometheus.Gauge
	SchedulerQueueDepth prometheus.Gauge

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPRequestsCounters     map[int]prometheus.Counter
	HTTPDurationHistogram    prometheus.Histogram

	stopChan chan os.Signal
	errChan  chan error
	log      logger.Logger
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics(l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}

	m.TurnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "turns_total",
		Help:      "Total conversation turns processed",
	})
	m.TurnsLocked = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "turns_locked_total",
		Help:      "Turns suppressed because a human held or awaited control",
	})
	m.TurnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "turn_duration_seconds",
		Help:      "Conversation turn duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
	})
	m.ContextSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "context_switches_total",
		Help:      "Goal context switches performed by the router",
	})
	m.EscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "escalations_total",
		Help:      "Escalations initiated",
	})
	m.EscalationConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "escalation_conflicts_total",
		Help:      "Rejected duplicate escalation operations",
	})
	m.LLMCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "llm_calls_total",
		Help:      "LLM calls admitted by the scheduler, by operation",
	}, []string{"operation"})
	m.LLMCallFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "llm_call_failures_total",
		Help:      "Failed LLM calls, by operation",
	}, []string{"operation"})
	m.SchedulerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "scheduler_in_flight",
		Help:      "LLM calls currently in flight",
	})
	m.SchedulerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "scheduler_queue_depth",
		Help:      "LLM calls waiting for admission",
	})
	m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "total_http_requests",
		Help:      "Total HTTP requests",
	})
	m.HTTPRequestsCounters = make(map[int]prometheus.Counter)
	m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
	})

	m.reg.MustRegister(
		m.TurnsTotal, m.TurnsLocked, m.TurnDuration, m.ContextSwitches,
		m.EscalationsTotal, m.EscalationConflicts,
		m.LLMCalls, m.LLMCallFailures,
		m.SchedulerInFlight, m.SchedulerQueueDepth,
		m.TotalHTTPRequestsCounter, m.HTTPDurationHistogram,
	)

	return m
}

// Listen starts the metrics HTTP server on the specified port.
func (m *Metrics) Listen(port int) {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal)
	errChan := make(chan error)
	go func() {
		errChan <- server.ListenAndServe()
	}()
	go func() {
		for {
			sig := <-sigChan
			if sig == os.Interrupt {
				m.log.Info("Stopping metrics listener")
				_ = server.Shutdown(context.Background())
				return
			}
		}
	}()
	m.errChan = errChan
	m.stopChan = sigChan
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.reg.MustRegister(c)
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP status code.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	_, ok := m.HTTPRequestsCounters[code]
	if !ok {
		m.HTTPRequestsCounters[code] = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      fmt.Sprintf("total_%d_http_responses", code),
			Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
		})
		m.reg.MustRegister(m.HTTPRequestsCounters[code])
	}
	m.HTTPRequestsCounters[code].Inc()
}

// HTTPMiddleware returns a chi-compatible middleware that tracks HTTP metrics
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.TotalHTTPRequestsCounter.Inc()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(rw.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
