package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_requests_total",
			Help: "Total number of backend requests",
		},
		[]string{"provider", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tokens_total",
			Help: "Total tokens consumed, by direction",
		},
		[]string{"provider", "direction"},
	)

	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Total number of dispatched tool executions",
		},
		[]string{"tool", "status"},
	)

	toolRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_rounds_total",
			Help: "Total number of tool rounds per provider",
		},
		[]string{"provider"},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers all collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requestsTotal,
			requestDuration,
			tokensTotal,
			toolExecutionsTotal,
			toolRoundsTotal,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one backend request outcome.
func RecordRequest(provider, status string, duration time.Duration) {
	requestsTotal.WithLabelValues(provider, status).Inc()
	requestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokens records token usage for a finished turn.
func RecordTokens(provider string, input, output int) {
	tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}

// RecordToolExecution records one dispatched tool execution.
func RecordToolExecution(tool, status string) {
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordToolRound records one completed tool round.
func RecordToolRound(provider string) {
	toolRoundsTotal.WithLabelValues(provider).Inc()
}
