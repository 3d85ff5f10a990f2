package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the per-run Prometheus instrumentation. Each run owns its own
// registry, so several runs (or tests) never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	casesTotal        *prometheus.CounterVec
	caseDuration      prometheus.Histogram
	inflightCases     prometheus.Gauge
	modelCallsTotal   *prometheus.CounterVec
	modelLatency      *prometheus.HistogramVec
	modelTokensTotal  *prometheus.CounterVec
	toolCallsTotal    *prometheus.CounterVec
	toolLatency       *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	compressionsTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// Labels: status (success, exhausted, failed, cancelled)
		casesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Name:      "cases_total",
			Help:      "Cases finished by terminal status",
		}, []string{"status"}),

		caseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rootcause",
			Name:      "case_duration_seconds",
			Help:      "Wall time of one case from start to result",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),

		inflightCases: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rootcause",
			Name:      "inflight_cases",
			Help:      "Cases currently being diagnosed",
		}),

		// Labels: model, outcome (ok, error)
		modelCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model completion calls by outcome",
		}, []string{"model", "outcome"}),

		modelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rootcause",
			Subsystem: "model",
			Name:      "latency_seconds",
			Help:      "Model completion latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		// Labels: model, direction (input, output)
		modelTokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Subsystem: "model",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model backend",
		}, []string{"model", "direction"}),

		// Labels: tool, outcome (ok, error, rejected, timeout)
		toolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool calls by outcome",
		}, []string{"tool", "outcome"}),

		toolLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rootcause",
			Subsystem: "tool",
			Name:      "latency_seconds",
			Help:      "Tool execution latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"tool"}),

		// Labels: category (transient, parse, tool, fatal)
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Name:      "retries_total",
			Help:      "Retries and corrective re-prompts by error category",
		}, []string{"category"}),

		// Labels: mode (budget, aggressive)
		compressionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rootcause",
			Name:      "context_compressions_total",
			Help:      "Conversation compressions by mode",
		}, []string{"mode"}),
	}
}

// The recorders below accept a nil receiver so components can run without
// instrumentation.

func (m *Metrics) CaseStarted() {
	if m == nil {
		return
	}
	m.inflightCases.Inc()
}

func (m *Metrics) CaseFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflightCases.Dec()
	m.casesTotal.WithLabelValues(status).Inc()
	m.caseDuration.Observe(d.Seconds())
}

func (m *Metrics) ModelCall(model string, err error, d time.Duration, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCallsTotal.WithLabelValues(model, outcome).Inc()
	m.modelLatency.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		m.modelTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.modelTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Retry(category string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) Compression(mode string) {
	if m == nil {
		return
	}
	m.compressionsTotal.WithLabelValues(mode).Inc()
}
