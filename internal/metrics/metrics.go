// Package metrics provides Prometheus metrics for the kioskframe server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskframe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioskframe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Sync metrics
	syncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskframe_sync_passes_total",
			Help: "Total synchronization passes against the remote source",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioskframe_sync_duration_seconds",
			Help:    "Time to list the remote folder and reconcile the table",
			Buckets: prometheus.DefBuckets,
		},
	)

	syncSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskframe_sync_skipped_total",
			Help: "Sync triggers skipped by the staleness gate",
		},
	)

	photosKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskframe_photos_known",
			Help: "Number of photo records in the metadata table",
		},
	)

	photosCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskframe_photos_cached",
			Help: "Number of photos with bytes in the local image cache",
		},
	)

	// Download metrics
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskframe_downloads_total",
			Help: "Total background image downloads",
		},
		[]string{"status"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskframe_download_bytes_total",
			Help: "Total bytes fetched from the remote source",
		},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioskframe_download_duration_seconds",
			Help:    "Image download and processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Source metrics
	sourceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskframe_source_operations_total",
			Help: "Total remote source operations",
		},
		[]string{"operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskframe_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskframe_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSyncPass records a completed sync pass.
func RecordSyncPass(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	syncPassesTotal.WithLabelValues(status).Inc()
	syncDuration.Observe(duration.Seconds())
}

// RecordSyncSkipped records a sync trigger stopped by the staleness gate.
func RecordSyncSkipped() {
	syncSkippedTotal.Inc()
}

// SetPhotosKnown sets the number of photo records.
func SetPhotosKnown(count int64) {
	photosKnown.Set(float64(count))
}

// SetPhotosCached sets the number of locally cached photos.
func SetPhotosCached(count int64) {
	photosCached.Set(float64(count))
}

// RecordDownload records a background download attempt.
func RecordDownload(bytes int64, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(status).Inc()
	downloadBytes.Add(float64(bytes))
	downloadDuration.Observe(duration.Seconds())
}

// RecordSourceOperation records a remote source operation.
func RecordSourceOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sourceOperationsTotal.WithLabelValues(operation, status).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
