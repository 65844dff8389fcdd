// Package metrics provides Prometheus metrics for the timebank service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	submissions       *prometheus.CounterVec
	submitLatency     prometheus.Histogram
	activitiesWritten *prometheus.CounterVec
	pointsWritten     *prometheus.CounterVec

	// Aggregation
	summaryRequests     *prometheus.CounterVec
	summaryBuildLatency prometheus.Histogram
	summaryCacheEntries prometheus.Gauge

	// Storage
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec

	// Offline queue (scanner client)
	offlineQueueLength prometheus.Gauge
	offlineFlushes     *prometheus.CounterVec
	offlineItems       *prometheus.CounterVec

	// Publication
	published     prometheus.Counter
	publishErrors prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry the
// collectors are registered on prometheus.DefaultRegisterer.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "timebank",
		subsystem:        "",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
			Buckets: m.histogramBuckets,
		})
	}
	histogramVec := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
			Buckets: m.histogramBuckets,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}

	m.submissions = counterVec("submissions_total", "Scan submissions by outcome", "outcome")
	m.submitLatency = histogram("submit_latency_milliseconds", "End-to-end ingestion latency in milliseconds")
	m.activitiesWritten = counterVec("activities_recorded_total", "Ledger rows inserted by kind", "kind")
	m.pointsWritten = counterVec("points_recorded_total", "Sum of recorded amounts by kind", "kind")

	m.summaryRequests = counterVec("summary_requests_total", "Dashboard summary requests by range and source", "range", "source")
	m.summaryBuildLatency = histogram("summary_build_latency_milliseconds", "Time to build a summary from the ledger")
	m.summaryCacheEntries = gauge("summary_cache_entries", "Summaries currently cached")

	m.repositoryLatency = histogramVec("repository_latency_milliseconds", "Storage call latency", "op")
	m.repositoryErrors = counterVec("repository_errors_total", "Storage call failures", "op")

	m.offlineQueueLength = gauge("offline_queue_length", "Items waiting in the offline queue")
	m.offlineFlushes = counterVec("offline_flushes_total", "Offline queue flush attempts by trigger", "trigger")
	m.offlineItems = counterVec("offline_items_total", "Offline queue item resolutions", "outcome")

	m.published = counter("activities_published_total", "Activities published to the event stream")
	m.publishErrors = counter("activities_publish_errors_total", "Activity publication failures")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of failed operations", "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("system_gc_pause_time_milliseconds"),
		Help: "GC pause time in milliseconds", ConstLabels: constLabels,
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Ingestion.

// RecordSubmission counts one submission outcome.
func RecordSubmission(outcome string) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordSubmitLatency records ingestion latency in milliseconds.
func RecordSubmitLatency(latencyMs float64) {
	globalManager.submitLatency.Observe(latencyMs)
}

// RecordActivityRecorded counts an inserted ledger row and its amount.
func RecordActivityRecorded(kind string, amount int64) {
	globalManager.activitiesWritten.WithLabelValues(kind).Inc()
	globalManager.pointsWritten.WithLabelValues(kind).Add(float64(amount))
}

// Aggregation.

// RecordSummaryRequest counts a summary served from "cache" or "fresh".
func RecordSummaryRequest(rangeName, source string) {
	globalManager.summaryRequests.WithLabelValues(rangeName, source).Inc()
}

// RecordSummaryBuildLatency records how long a summary took to build.
func RecordSummaryBuildLatency(latencyMs float64) {
	globalManager.summaryBuildLatency.Observe(latencyMs)
}

// UpdateSummaryCacheEntries sets the number of cached summaries.
func UpdateSummaryCacheEntries(n int) {
	globalManager.summaryCacheEntries.Set(float64(n))
}

// Storage.

// RecordRepositoryLatency records a storage call latency.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRepositoryError counts a failed storage call.
func RecordRepositoryError(op string) {
	globalManager.repositoryErrors.WithLabelValues(op).Inc()
}

// Offline queue.

// UpdateOfflineQueueLength sets the number of queued items.
func UpdateOfflineQueueLength(n int) {
	globalManager.offlineQueueLength.Set(float64(n))
}

// RecordOfflineFlush counts a flush triggered by trigger.
func RecordOfflineFlush(trigger string) {
	globalManager.offlineFlushes.WithLabelValues(trigger).Inc()
}

// RecordOfflineItems adds n item resolutions with the given outcome.
func RecordOfflineItems(outcome string, n int) {
	if n <= 0 {
		return
	}
	globalManager.offlineItems.WithLabelValues(outcome).Add(float64(n))
}

// Publication.

// RecordPublished counts a published activity.
func RecordPublished() { globalManager.published.Inc() }

// RecordPublishError counts a failed publication.
func RecordPublishError() { globalManager.publishErrors.Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// SinceMs returns the elapsed milliseconds since start as a float.
func SinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
