// Package metrics provides Prometheus metrics for the depot node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_commands_total",
			Help: "Total number of dispatched commands",
		},
		[]string{"kind", "code"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depot_command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	protocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depot_protocol_errors_total",
			Help: "Total number of connections closed on malformed wire data",
		},
	)

	openConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depot_open_connections",
			Help: "Number of client connections currently being served",
		},
	)

	// Content transfer metrics
	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depot_bytes_uploaded_total",
			Help: "Total bytes accepted by successful uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depot_bytes_downloaded_total",
			Help: "Total bytes returned by successful downloads",
		},
	)

	// State metrics
	storedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depot_stored_files",
			Help: "Number of names in the path index",
		},
	)

	clusterMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depot_cluster_members",
			Help: "Number of registry entries by status",
		},
		[]string{"status"},
	)

	// Medium metrics
	mediumOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depot_medium_operation_duration_seconds",
			Help:    "Storage medium operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	mediumOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_medium_operations_total",
			Help: "Total storage medium operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// HTTP gateway metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records a dispatched command and its response code.
func RecordCommand(kind, code string, duration time.Duration) {
	commandsTotal.WithLabelValues(kind, code).Inc()
	commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordProtocolError records a connection dropped on malformed input.
func RecordProtocolError() {
	protocolErrorsTotal.Inc()
}

// ConnectionOpened increments the open connections gauge.
func ConnectionOpened() {
	openConnections.Inc()
}

// ConnectionClosed decrements the open connections gauge.
func ConnectionClosed() {
	openConnections.Dec()
}

// RecordUpload records bytes stored by a successful upload.
func RecordUpload(bytes int) {
	bytesUploaded.Add(float64(bytes))
}

// RecordDownload records bytes returned by a successful download.
func RecordDownload(bytes int) {
	bytesDownloaded.Add(float64(bytes))
}

// SetStoredFiles sets the current size of the path index.
func SetStoredFiles(n int) {
	storedFiles.Set(float64(n))
}

// SetClusterMembers sets the registry gauge for one status.
func SetClusterMembers(status string, n int) {
	clusterMembers.WithLabelValues(status).Set(float64(n))
}

// RecordMediumOperation records a storage medium operation.
func RecordMediumOperation(backend, operation string, duration time.Duration, success bool) {
	mediumOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	mediumOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
	})
}
