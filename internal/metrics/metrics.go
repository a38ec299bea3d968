// Package metrics exposes Prometheus instrumentation for the turn engine
// (SPEC_FULL.md's domain-stack observability entry). Adapted from
// internal/observability/metrics.go's Metrics struct: the same
// promauto-backed counter/histogram/gauge shapes, trimmed from the
// teacher's chat-relay instruments (per-channel message/webhook counters,
// which have no equivalent here) down to the turn engine's own lifecycle:
// model-stream requests, tool dispatch, active sessions, and compaction.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registry struct {
	llmRequestDuration *prometheus.HistogramVec
	llmRequestCounter  *prometheus.CounterVec
	llmTokensUsed      *prometheus.CounterVec
	toolCounter        *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	errorCounter       *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	compactionCounter  prometheus.Counter
}

var (
	once sync.Once
	reg  *registry
)

// get lazily builds and registers the instruments on first use, rather than
// at package init, so importing this package never registers metrics a
// process doesn't end up using.
func get() *registry {
	once.Do(func() {
		reg = &registry{
			llmRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "codexturn_llm_request_duration_seconds",
					Help:    "Duration of model stream requests in seconds.",
					Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
				},
				[]string{"provider"},
			),
			llmRequestCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codexturn_llm_requests_total",
					Help: "Model stream requests by provider and outcome.",
				},
				[]string{"provider", "status"},
			),
			llmTokensUsed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codexturn_llm_tokens_total",
					Help: "Tokens consumed by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			toolCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codexturn_tool_calls_total",
					Help: "Tool dispatches by tool name and outcome.",
				},
				[]string{"tool", "status"},
			),
			toolDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "codexturn_tool_call_duration_seconds",
					Help:    "Tool dispatch latency in seconds.",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
				},
				[]string{"tool"},
			),
			errorCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "codexturn_errors_total",
					Help: "Errors by component and error type.",
				},
				[]string{"component", "error_type"},
			),
			activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "codexturn_active_sessions",
				Help: "Sessions currently open.",
			}),
			compactionCounter: promauto.NewCounter(prometheus.CounterOpts{
				Name: "codexturn_compactions_total",
				Help: "History compactions run, scheduled or explicit.",
			}),
		}
	})
	return reg
}

// RecordLLMRequest records one completed (or failed) model stream call.
func RecordLLMRequest(provider string, dur time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r := get()
	r.llmRequestDuration.WithLabelValues(provider).Observe(dur.Seconds())
	r.llmRequestCounter.WithLabelValues(provider, status).Inc()
}

// RecordLLMTokens adds to a provider/kind token counter. Zero or negative
// counts are ignored so an empty Usage doesn't create zero-valued series.
func RecordLLMTokens(provider, kind string, count int64) {
	if count <= 0 {
		return
	}
	get().llmTokensUsed.WithLabelValues(provider, kind).Add(float64(count))
}

// RecordToolCall records one Dispatcher.Dispatch outcome.
func RecordToolCall(tool string, dur time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	r := get()
	r.toolCounter.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

// RecordError increments the error counter for a component/error-type pair.
func RecordError(component, errType string) {
	get().errorCounter.WithLabelValues(component, errType).Inc()
}

// SessionOpened/SessionClosed track the active-sessions gauge across a
// Session's lifetime (internal/session's New/Shutdown).
func SessionOpened() { get().activeSessions.Inc() }
func SessionClosed() { get().activeSessions.Dec() }

// CompactionRun records one history compaction, scheduled or explicit.
func CompactionRun() { get().compactionCounter.Inc() }
