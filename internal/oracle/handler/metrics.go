package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	oracleInstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_instructions_total",
		Help: "Total instructions processed by instruction and result.",
	}, []string{"instruction", "result"})

	oracleSlotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_slots_total",
		Help: "Total slots allocated.",
	})

	oracleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	oracleRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oracle_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	oracleHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_health_checks_total",
		Help: "Total dependency health probes by result.",
	}, []string{"result"})

	oracleJournalEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_journal_entries_total",
		Help: "Total journal entries appended.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		oracleRequestsTotal.WithLabelValues(method, path, status).Inc()
		oracleRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordInstruction records one processed instruction. result is "ok" or the
// name of the error that rejected it.
func RecordInstruction(instruction, result string) {
	oracleInstructionsTotal.WithLabelValues(instruction, result).Inc()
}

// RecordSlotAllocated records a slot allocation.
func RecordSlotAllocated() {
	oracleSlotsTotal.Inc()
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(success bool) {
	if success {
		oracleHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		oracleHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordJournalAppend records a journal entry append.
func RecordJournalAppend() {
	oracleJournalEntriesTotal.Inc()
}
