package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	attArchiveOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "att_archive_operations_total",
		Help: "Total archive operations by operation and outcome.",
	}, []string{"op", "outcome"})

	attRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "att_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	attRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "att_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	attAuditFaults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "att_audit_faults",
		Help: "Faulty records found by the most recent audit sweep, per agent.",
	}, []string{"agent_id"})

	attAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "att_alert_deliveries_total",
		Help: "Total integrity alert webhook deliveries by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records
// per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())

		attRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		attRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler serving the Prometheus
// scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordArchiveOp counts one archive operation outcome. Wire it into
// the archive manager's metrics recorder.
func RecordArchiveOp(op, outcome string) {
	attArchiveOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordAuditSweep sets the per-agent fault gauge after an audit
// sweep. Wire it into the sweeper's metrics recorder.
func RecordAuditSweep(agentID string, faults int) {
	attAuditFaults.WithLabelValues(agentID).Set(float64(faults))
}

// RecordAlertDelivery counts one alert delivery attempt. Wire it into
// the webhook notifier's metrics recorder.
func RecordAlertDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	attAlertDeliveriesTotal.WithLabelValues(result).Inc()
}
