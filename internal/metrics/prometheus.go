// Package metrics provides Prometheus metrics for the tenant controller.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	requestsInFlight    prometheus.Gauge

	reconciliationsTotal   *prometheus.CounterVec
	reconciliationDuration *prometheus.HistogramVec
	variantsWrittenTotal   prometheus.Counter
	applyCacheHits         prometheus.Counter
	applyCacheMisses       prometheus.Counter
	lockWaitDuration       prometheus.Histogram

	watcherEventsTotal     *prometheus.CounterVec
	watcherReconnectsTotal prometheus.Counter
	reconcileQueueDepth    prometheus.Gauge
	reconcileQueueDrops    prometheus.Counter
	overrideFileEdits      prometheus.Counter

	migrationsTotal      *prometheus.CounterVec
	migrationDuration    *prometheus.HistogramVec
	migrationBytesCopied prometheus.Counter

	healthStatus prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		reconciliationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_reconciliations_total",
				Help: "Total number of reconciliation runs by outcome",
			},
			[]string{"outcome", "trigger"},
		),
		reconciliationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantd_reconciliation_duration_seconds",
				Help:    "Duration of reconciliation runs",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		variantsWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_variants_written_total",
				Help: "Total number of asset variants written to tenants",
			},
		),
		applyCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_apply_cache_hits_total",
				Help: "Total number of apply cache hits",
			},
		),
		applyCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_apply_cache_misses_total",
				Help: "Total number of apply cache misses",
			},
		),
		lockWaitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantd_lock_wait_seconds",
				Help:    "Time spent waiting for per-tenant locks",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		watcherEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_watcher_events_total",
				Help: "Total number of container events seen by the watcher",
			},
			[]string{"action"},
		),
		watcherReconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_watcher_reconnects_total",
				Help: "Total number of event stream reconnects",
			},
		),
		reconcileQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_reconcile_queue_depth",
				Help: "Current depth of the reconcile queue",
			},
		),
		reconcileQueueDrops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_reconcile_queue_drops_total",
				Help: "Total number of reconcile jobs dropped due to a full queue",
			},
		),
		overrideFileEdits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_override_file_edits_total",
				Help: "Total number of tenant override file edits observed",
			},
		),
		migrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_migrations_total",
				Help: "Total number of storage migrations by terminal status",
			},
			[]string{"status"},
		),
		migrationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantd_migration_duration_seconds",
				Help:    "Duration of storage migrations",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"status"},
		),
		migrationBytesCopied: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_migration_bytes_copied_total",
				Help: "Total bytes copied by storage migrations",
			},
		),
		healthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_health_status",
				Help: "Health status of the controller (1 = healthy, 0 = unhealthy)",
			},
		),
	}

	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordReconciliation records one reconciliation run.
func (m *Metrics) RecordReconciliation(outcome, trigger string, duration time.Duration) {
	m.reconciliationsTotal.WithLabelValues(outcome, trigger).Inc()
	m.reconciliationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// AddVariantsWritten adds to the written variant count.
func (m *Metrics) AddVariantsWritten(n int) {
	m.variantsWrittenTotal.Add(float64(n))
}

// RecordApplyCacheHit records an apply cache hit.
func (m *Metrics) RecordApplyCacheHit() {
	m.applyCacheHits.Inc()
}

// RecordApplyCacheMiss records an apply cache miss.
func (m *Metrics) RecordApplyCacheMiss() {
	m.applyCacheMisses.Inc()
}

// ObserveLockWait records time spent waiting for a per-tenant lock.
func (m *Metrics) ObserveLockWait(duration time.Duration) {
	m.lockWaitDuration.Observe(duration.Seconds())
}

// RecordWatcherEvent records one container event.
func (m *Metrics) RecordWatcherEvent(action string) {
	m.watcherEventsTotal.WithLabelValues(action).Inc()
}

// RecordWatcherReconnect records an event stream reconnect.
func (m *Metrics) RecordWatcherReconnect() {
	m.watcherReconnectsTotal.Inc()
}

// SetReconcileQueueDepth updates the reconcile queue depth gauge.
func (m *Metrics) SetReconcileQueueDepth(depth int) {
	m.reconcileQueueDepth.Set(float64(depth))
}

// RecordOverrideFileEdit records one observed edit of a tenant override file.
func (m *Metrics) RecordOverrideFileEdit() {
	m.overrideFileEdits.Inc()
}

// RecordReconcileQueueDrop records a job dropped due to a full queue.
func (m *Metrics) RecordReconcileQueueDrop() {
	m.reconcileQueueDrops.Inc()
}

// RecordMigration records a migration reaching a terminal status.
func (m *Metrics) RecordMigration(status string, duration time.Duration) {
	m.migrationsTotal.WithLabelValues(status).Inc()
	m.migrationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// AddMigrationBytesCopied adds to the copied byte count.
func (m *Metrics) AddMigrationBytesCopied(n int64) {
	m.migrationBytesCopied.Add(float64(n))
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates middleware that records HTTP metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
