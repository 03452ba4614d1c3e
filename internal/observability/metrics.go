package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for turns, provider calls, tool
// executions, and truncation events.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: route (chat|agent|tasks), finish_reason
	TurnCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// TruncationCounter counts tool-output truncations.
	// Labels: bound (ui|model)
	TruncationCounter *prometheus.CounterVec

	// RateLimitCounter counts rate-limit rejections.
	// Labels: resource
	RateLimitCounter *prometheus.CounterVec

	// ActiveSandboxes tracks live sandbox handles.
	ActiveSandboxes prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vantage_turns_total",
			Help: "Completed conversation turns by route and finish reason.",
		}, []string{"route", "finish_reason"}),
		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vantage_provider_request_duration_seconds",
			Help:    "LLM provider call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		ProviderRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vantage_provider_requests_total",
			Help: "LLM provider requests by status.",
		}, []string{"provider", "model", "status"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vantage_tool_executions_total",
			Help: "Tool invocations by status.",
		}, []string{"tool", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vantage_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 240},
		}, []string{"tool"}),
		TruncationCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vantage_truncations_total",
			Help: "Tool output truncations by bound.",
		}, []string{"bound"}),
		RateLimitCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vantage_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"resource"}),
		ActiveSandboxes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vantage_active_sandboxes",
			Help: "Live sandbox handles.",
		}),
	}
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(provider, model, status string, seconds float64) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(seconds)
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}
