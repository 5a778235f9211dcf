package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowgraph"

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Execution metrics
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Number of executions currently registered",
		},
	)

	// Node metrics
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"node_type", "status"},
	)

	NodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 60},
		},
		[]string{"node_type"},
	)

	// Control pattern metrics
	ParallelRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parallel_runs_total",
			Help:      "Parallel node runs by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	BranchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "branch_duration_seconds",
			Help:      "Parallel branch duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"strategy", "outcome"},
	)

	SubflowInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subflow_invocations_total",
			Help:      "Subflow invocations by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	WebhookWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_waits_total",
			Help:      "Webhook waits by outcome",
		},
		[]string{"outcome"},
	)

	WebhookReceivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_receives_total",
			Help:      "Inbound webhook callbacks by outcome",
		},
		[]string{"outcome"},
	)

	PendingWebhooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_webhooks",
			Help:      "Number of nodes currently waiting for a webhook callback",
		},
	)

	// Definition store metrics
	DefinitionLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definition_lookups_total",
			Help:      "Workflow definition lookups by store and result",
		},
		[]string{"store", "result"},
	)
)

// RecordHTTPRequest records an HTTP request metric
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordExecution records a finished workflow execution
func RecordExecution(status string, duration time.Duration) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecution records a node execution
func RecordNodeExecution(nodeType, status string, duration time.Duration) {
	NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	NodeExecutionDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordParallelRun records the aggregate outcome of a parallel node
func RecordParallelRun(strategy string, success bool) {
	ParallelRunsTotal.WithLabelValues(strategy, outcome(success)).Inc()
}

// RecordBranch records one parallel branch
func RecordBranch(strategy string, success bool, duration time.Duration) {
	BranchDuration.WithLabelValues(strategy, outcome(success)).Observe(duration.Seconds())
}

// RecordSubflow records a subflow invocation. result is "success", "failure" or "timeout".
func RecordSubflow(mode, result string) {
	SubflowInvocationsTotal.WithLabelValues(mode, result).Inc()
}

// RecordWebhookWait records how a webhook wait ended: "received", "timeout" or "cancelled".
func RecordWebhookWait(result string) {
	WebhookWaitsTotal.WithLabelValues(result).Inc()
}

// RecordWebhookReceive records an inbound callback. result is "accepted" or the rejection reason.
func RecordWebhookReceive(result string) {
	WebhookReceivesTotal.WithLabelValues(result).Inc()
}

// RecordDefinitionLookup records a definition store lookup
func RecordDefinitionLookup(store string, found bool) {
	result := "hit"
	if !found {
		result = "miss"
	}
	DefinitionLookupsTotal.WithLabelValues(store, result).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
