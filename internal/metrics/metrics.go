// Package metrics provides Prometheus instrumentation for the guardian service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DispatchTotal counts routed messages by type and result code.
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "dispatch_total",
			Help:      "Routed messages by type and result (ok or error code).",
		},
		[]string{"type", "result"},
	)

	// AnalysesTotal counts produced verdicts by subject and risk level.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "analyses_total",
			Help:      "Verdicts produced by subject and risk level.",
		},
		[]string{"subject", "level"},
	)

	// AnalysisDuration observes full transaction analysis latency.
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guardian",
		Name:      "analysis_duration_seconds",
		Help:      "Transaction analysis latency including the backend supplement.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// AnalyzerFailuresTotal counts absorbed sub-analyzer failures.
	AnalyzerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "analyzer_failures_total",
			Help:      "Sub-analyzer failures absorbed during analysis.",
		},
		[]string{"analyzer"},
	)

	// PendingActions tracks actions awaiting a user decision.
	PendingActions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Name:      "pending_actions",
		Help:      "Number of actions awaiting a user decision.",
	})

	// FlowsTotal counts request flows by terminal state.
	FlowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "flows_total",
			Help:      "Request flows by terminal state (approved, rejected, expired, ...).",
		},
		[]string{"state"},
	)

	// BackendRequestsTotal counts backend analysis calls by outcome.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "backend_requests_total",
			Help:      "Backend analysis requests by outcome.",
		},
		[]string{"outcome"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DispatchTotal,
		AnalysesTotal,
		AnalysisDuration,
		AnalyzerFailuresTotal,
		PendingActions,
		FlowsTotal,
		BackendRequestsTotal,
		ActiveWebSocketClients,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
