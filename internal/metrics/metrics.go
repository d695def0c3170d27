// Package metrics exposes Prometheus metrics for turns, stage LLM calls,
// task results and tool-capability downgrades.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/assist/internal/llm"
)

const namespace = "assist"

// Metrics holds the collectors on a private registry. It implements
// llm.Observer and pipeline.Observer.
type Metrics struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	llmCalls      *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	taskResults   *prometheus.CounterVec
	toolDowngrade *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"mode"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM backend calls by stage and result.",
		}, []string{"stage", "result"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Latency of LLM backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"stage"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Executed tasks by kind and status.",
		}, []string{"kind", "status"}),
		toolDowngrade: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_downgrades_total",
			Help:      "Times the backend rejected tool schemas.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.turns, m.turnDuration, m.llmCalls, m.llmDuration, m.taskResults, m.toolDowngrade,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLLMCall records one backend call.
func (m *Metrics) ObserveLLMCall(stage string, d time.Duration, err error) {
	m.llmCalls.WithLabelValues(stage, callResult(err)).Inc()
	m.llmDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveToolDowngrade records a capability downgrade.
func (m *Metrics) ObserveToolDowngrade(stage string) {
	m.toolDowngrade.WithLabelValues(stage).Inc()
}

// ObserveTurn records a multi-agent turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	m.ObserveModeTurn("multi_agent", outcome, d)
}

// ObserveModeTurn records a turn of the given mode.
func (m *Metrics) ObserveModeTurn(mode, outcome string, d time.Duration) {
	m.turns.WithLabelValues(mode, outcome).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveTaskResult records one executed task.
func (m *Metrics) ObserveTaskResult(kind, status string) {
	m.taskResults.WithLabelValues(kind, status).Inc()
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, llm.ErrToolUnsupported):
		return "tool_unsupported"
	case errors.Is(err, llm.ErrBackendProtocol):
		return "protocol"
	default:
		return "error"
	}
}
