// Package metrics provides Prometheus metrics for the facequiz service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Identity store
	storeLookups         *prometheus.CounterVec
	storeLearns          prometheus.Counter
	storeConflicts       prometheus.Counter
	storeDurableWrites   *prometheus.CounterVec
	storeDegradations    prometheus.Counter
	storeRecoveries      prometheus.Counter
	storeAssociations    prometheus.Gauge
	storeImportedRecords *prometheus.CounterVec

	// Precaching
	precacheFetches *prometheus.CounterVec
	precacheLatency prometheus.Histogram

	// Sessions and guesses
	guesses      *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	sessionScore prometheus.Histogram

	// Remote game API
	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

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

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "facequiz",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(subsystem, name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(subsystem, name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.storeLookups = m.counterVec("store", "lookups_total",
		"Identity lookups by backend and result", "backend", "result")
	m.storeLearns = m.counter("store", "learns_total",
		"Associations learned from verdicts or imports")
	m.storeConflicts = m.counter("store", "conflicting_overwrites_total",
		"Learns that replaced a different identity for the same fingerprint")
	m.storeDurableWrites = m.counterVec("store", "durable_writes_total",
		"Durable file writes by result", "result")
	m.storeDegradations = m.counter("store", "volatile_degradations_total",
		"Times the volatile tier became unavailable")
	m.storeRecoveries = m.counter("store", "volatile_recoveries_total",
		"Times the volatile tier was re-synchronized after recovery")
	m.storeAssociations = m.gauge("store", "associations",
		"Number of known fingerprint associations")
	m.storeImportedRecords = m.counterVec("store", "imported_records_total",
		"Imported records by outcome", "outcome")

	m.precacheFetches = m.counterVec("precache", "fetches_total",
		"Precache image fetches by result", "result")
	m.precacheLatency = m.histogram("precache", "batch_duration_milliseconds",
		"Wall time of a precache batch in milliseconds",
		[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000})

	m.guesses = m.counterVec("session", "guesses_total",
		"Submitted guesses by result", "result")
	m.sessions = m.counterVec("session", "sessions_total",
		"Sessions by outcome", "outcome")
	m.sessionScore = m.histogram("session", "score",
		"Final score per session", prometheus.LinearBuckets(0, 10, 11))

	m.remoteRequests = m.counterVec("remote", "requests_total",
		"Remote game API requests by operation and status", "operation", "status")
	m.remoteLatency = m.histogramVec("remote", "request_duration_milliseconds",
		"Remote game API latency in milliseconds", "operation")

	m.httpRequests = m.counterVec("http", "requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http", "request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.httpErrors = m.counterVec("http", "errors_total",
		"HTTP error responses by endpoint and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system", "memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system", "goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system", "gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Identity store.

// RecordStoreLookup counts a lookup answered by backend ("volatile", "durable") with result ("hit", "miss", "error").
func RecordStoreLookup(backend, result string) {
	globalManager.storeLookups.WithLabelValues(backend, result).Inc()
}

// RecordStoreLearn counts a learned association.
func RecordStoreLearn() { globalManager.storeLearns.Inc() }

// RecordConflictingOverwrite counts a learn that replaced a different identity.
func RecordConflictingOverwrite() { globalManager.storeConflicts.Inc() }

// RecordDurableWrite counts a durable file write.
func RecordDurableWrite(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	globalManager.storeDurableWrites.WithLabelValues(result).Inc()
}

// RecordVolatileDegraded counts a transition into durable-only mode.
func RecordVolatileDegraded() { globalManager.storeDegradations.Inc() }

// RecordVolatileRecovered counts a volatile re-synchronization.
func RecordVolatileRecovered() { globalManager.storeRecoveries.Inc() }

// UpdateAssociationCount sets the number of known associations.
func UpdateAssociationCount(n int) { globalManager.storeAssociations.Set(float64(n)) }

// RecordImportedRecords counts imported records by outcome ("added", "kept", "skipped").
func RecordImportedRecords(outcome string, n int) {
	if n <= 0 {
		return
	}
	globalManager.storeImportedRecords.WithLabelValues(outcome).Add(float64(n))
}

// Precaching.

// RecordPrecacheFetch counts a precache fetch by result ("known", "unknown", "failed").
func RecordPrecacheFetch(result string) {
	globalManager.precacheFetches.WithLabelValues(result).Inc()
}

// RecordPrecacheLatency records the duration of a precache batch.
func RecordPrecacheLatency(latencyMs float64) { globalManager.precacheLatency.Observe(latencyMs) }

// Sessions.

// RecordGuess counts a guess by result ("correct", "incorrect", "failed").
func RecordGuess(result string) { globalManager.guesses.WithLabelValues(result).Inc() }

// RecordSession counts a finished session by outcome ("completed", "ended_early", "aborted").
func RecordSession(outcome string) { globalManager.sessions.WithLabelValues(outcome).Inc() }

// RecordSessionScore observes a session's final score.
func RecordSessionScore(score int) { globalManager.sessionScore.Observe(float64(score)) }

// Remote game API.

// RecordRemoteRequest counts a remote call.
func RecordRemoteRequest(operation, status string) {
	globalManager.remoteRequests.WithLabelValues(operation, status).Inc()
}

// RecordRemoteLatency records remote call latency in milliseconds.
func RecordRemoteLatency(operation string, latencyMs float64) {
	globalManager.remoteLatency.WithLabelValues(operation).Observe(latencyMs)
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError records an HTTP error response.
func RecordHTTPError(endpoint, method, errorType string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
