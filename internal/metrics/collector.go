// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the engine's Prometheus metrics.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// workflow lifecycle
	transitionsTotal    *prometheus.CounterVec
	pausesTotal         *prometheus.CounterVec
	resumesTotal        prometheus.Counter
	pauseBoundaryWait   prometheus.Histogram
	snapshotsTotal      *prometheus.CounterVec
	snapshotBuildTime   prometheus.Histogram
	activeWorkflows     *prometheus.GaugeVec
	capacityUtilization *prometheus.GaugeVec

	// extraction
	extractionsTotal   *prometheus.CounterVec
	extractionDuration prometheus.Histogram

	// LLM
	llmRequestsTotal *prometheus.CounterVec
	llmTokensUsed    *prometheus.CounterVec
	llmCost          prometheus.Counter

	// database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registry
// under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of workflow status transitions",
		},
		[]string{"from", "to"},
	)
	c.pausesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_pauses_total",
			Help:      "Total number of completed pauses",
		},
		[]string{"trigger", "forced"},
	)
	c.resumesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_resumes_total",
			Help:      "Total number of completed resumes",
		},
	)
	c.pauseBoundaryWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pause_boundary_wait_seconds",
			Help:      "Time a pause spent waiting for a task boundary",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 60, 120, 300},
		},
	)
	c.snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total number of snapshots persisted",
		},
		[]string{"trigger"},
	)
	c.snapshotBuildTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_build_duration_seconds",
			Help:      "Time spent assembling and persisting one snapshot",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
	c.activeWorkflows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows",
			Help:      "Number of registered workflows per status",
		},
		[]string{"status"},
	)
	c.capacityUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity_utilization",
			Help:      "Per-workflow session capacity utilization fraction",
		},
		[]string{"workflow_id"},
	)

	c.extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of decision extraction attempts",
		},
		[]string{"status"}, // ok, degraded
	)
	c.extractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Decision extraction duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"status"},
	)
	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"type"}, // prompt, completion
	)
	c.llmCost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_total",
			Help:      "Total LLM cost in USD",
		},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordTransition records a workflow status transition.
func (c *Collector) RecordTransition(from, to string) {
	c.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordPause records a completed pause and its boundary wait.
func (c *Collector) RecordPause(trigger string, forced bool, boundaryWait time.Duration) {
	forcedLabel := "false"
	if forced {
		forcedLabel = "true"
	}
	c.pausesTotal.WithLabelValues(trigger, forcedLabel).Inc()
	c.pauseBoundaryWait.Observe(boundaryWait.Seconds())
}

// RecordResume records a completed resume.
func (c *Collector) RecordResume() {
	c.resumesTotal.Inc()
}

// RecordSnapshot records one persisted snapshot.
func (c *Collector) RecordSnapshot(trigger string, buildTime time.Duration) {
	c.snapshotsTotal.WithLabelValues(trigger).Inc()
	c.snapshotBuildTime.Observe(buildTime.Seconds())
}

// SetWorkflowCount sets the gauge of workflows in one status.
func (c *Collector) SetWorkflowCount(status string, count int) {
	c.activeWorkflows.WithLabelValues(status).Set(float64(count))
}

// SetCapacityUtilization sets one workflow's utilization gauge.
func (c *Collector) SetCapacityUtilization(workflowID string, utilization float64) {
	c.capacityUtilization.WithLabelValues(workflowID).Set(utilization)
}

// RecordExtraction records one extraction attempt.
func (c *Collector) RecordExtraction(degraded bool, duration time.Duration) {
	status := "ok"
	if degraded {
		status = "degraded"
	}
	c.extractionsTotal.WithLabelValues(status).Inc()
	c.extractionDuration.Observe(duration.Seconds())
}

// RecordLLMRequest records one LLM call.
func (c *Collector) RecordLLMRequest(status string, promptTokens, completionTokens int, cost float64) {
	c.llmRequestsTotal.WithLabelValues(status).Inc()
	c.llmTokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
	c.llmCost.Add(cost)
}

// RecordDBConnections records database pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
