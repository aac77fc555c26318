// Package metrics defines custom Prometheus metrics for galleryd.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleryd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galleryd_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galleryd_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Gallery metrics.
var (
	// UploadsTotal counts uploaded image files by outcome.
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleryd_uploads_total",
			Help: "Uploaded image files",
		},
		[]string{"status"},
	)

	// StorageOperationsTotal counts storage backend calls.
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleryd_storage_operations_total",
			Help: "Storage backend operations by backend class, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// ImagesTotal is a gauge tracking the number of images.
	ImagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galleryd_images_total",
			Help: "Total images",
		},
	)

	// AlbumsTotal is a gauge tracking the number of albums.
	AlbumsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galleryd_albums_total",
			Help: "Total albums",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			UploadsTotal,
			StorageOperationsTotal,
			ImagesTotal,
			AlbumsTotal,
		)
		UploadsTotal.WithLabelValues("success")
		UploadsTotal.WithLabelValues("error")
	})
}

// NormalizePath maps actual request paths to normalized route templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual image ids and file names.
func NormalizePath(path string) string {
	switch path {
	case "/", "":
		return "/"
	case "/health", "/metrics", "/openapi", "/openapi.json", "/openapi.yaml",
		"/images", "/albums", "/upload", "/api/albums":
		return path
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static"
	}
	if strings.HasPrefix(path, "/media/images/") {
		return "/media/images/{name}"
	}
	if strings.HasPrefix(path, "/media/thumbnails/") {
		return "/media/thumbnails/{name}"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "images":
		return "/images/{id}"
	case len(parts) == 2 && parts[0] == "albums":
		return "/albums/{id}"
	case len(parts) == 4 && parts[0] == "albums" && parts[2] == "images":
		return "/albums/{apk}/images/{id}"
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "albums":
		return "/api/albums/{id}"
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "images":
		return "/api/images/{id}"
	}
	return "other"
}
