// Package metrics holds the Prometheus collectors for workflows, model calls
// and the trace record pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	WorkflowExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "workflow_executions_total",
		Help:      "Total workflow executions by workflow name and outcome.",
	}, []string{"workflow", "outcome"})

	WorkflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "traceflow",
		Name:      "workflow_duration_seconds",
		Help:      "Workflow latency in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"workflow"})

	ModelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "model_requests_total",
		Help:      "Total model requests by provider, model, and outcome.",
	}, []string{"provider", "model", "outcome"})

	ModelTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "model_tokens_total",
		Help:      "Total tokens by provider, model, and direction (input, output).",
	}, []string{"provider", "model", "direction"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by result (hit, miss).",
	}, []string{"result"})

	ModelRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "model_request_retries_total",
		Help:      "Retried model request attempts by provider.",
	}, []string{"provider"})

	// 0 closed, 1 open, 2 half-open.
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traceflow",
		Name:      "circuit_breaker_state",
		Help:      "Provider circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"provider"})

	TraceRecordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traceflow",
		Name:      "trace_records_dropped_total",
		Help:      "Span records dropped because the write buffer was full.",
	})
)

// Handler returns an http.Handler that serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWorkflow records one workflow execution.
func ObserveWorkflow(workflow string, d time.Duration, err error) {
	WorkflowExecutionsTotal.WithLabelValues(workflow, outcome(err)).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

// ObserveModelRequest records one model call and, on success, its token usage.
func ObserveModelRequest(provider, model string, inputTokens, outputTokens int, err error) {
	ModelRequestsTotal.WithLabelValues(provider, model, outcome(err)).Inc()
	if err != nil {
		return
	}
	if inputTokens > 0 {
		ModelTokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		ModelTokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// ObserveCacheLookup records a response cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry records one retried model request attempt.
func ObserveRetry(provider string) {
	ModelRetriesTotal.WithLabelValues(provider).Inc()
}

// SetCircuitState publishes a provider's circuit breaker state.
func SetCircuitState(provider string, state int) {
	CircuitState.WithLabelValues(provider).Set(float64(state))
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
