package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	migrationQueueDepth      *prometheus.GaugeVec
	migrationsStartedTotal   *prometheus.CounterVec
	migrationsCompletedTotal *prometheus.CounterVec
	migrationDurationMs      *prometheus.HistogramVec
	migrationBytesTotal      *prometheus.CounterVec
	sourceCleanupsTotal      *prometheus.CounterVec

	backendCallsTotal      *prometheus.CounterVec
	backendCallDurationMs  *prometheus.HistogramVec
	earlyDeletionsTotal    *prometheus.CounterVec
	routeDecisionsTotal    *prometheus.CounterVec
	monthlyCostEstimateUSD *prometheus.GaugeVec
	schedulerRunsTotal     *prometheus.CounterVec

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	eventsConnections prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.migrationQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migration_tasks",
		Help: "Migration tasks by status.",
	}, []string{"status"})
	m.migrationsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrations_started_total",
		Help: "Total number of migrations started.",
	}, []string{"from_tier", "to_tier"})
	m.migrationsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrations_completed_total",
		Help: "Total number of migrations finished.",
	}, []string{"from_tier", "to_tier", "status", "error_code"})
	m.migrationDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migration_duration_ms",
		Help:    "Migration duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(50, 2, 16),
	}, []string{"status"})
	m.migrationBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migration_bytes_total",
		Help: "Total number of bytes copied between backends.",
	}, []string{"from_backend", "to_backend"})
	m.sourceCleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migration_source_cleanups_total",
		Help: "Source copies removed after the retention window.",
	}, []string{"backend", "status"})

	m.backendCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_calls_total",
		Help: "Storage backend calls by operation and outcome.",
	}, []string{"backend", "op", "outcome"})
	m.backendCallDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_call_duration_ms",
		Help:    "Storage backend call duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"backend", "op"})
	m.earlyDeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_early_deletions_total",
		Help: "Deletes issued before a backend's minimum retention period elapsed.",
	}, []string{"backend"})
	m.routeDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_decisions_total",
		Help: "Upload routing decisions by backend and rule.",
	}, []string{"backend", "rule"})
	m.monthlyCostEstimateUSD = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storage_monthly_cost_estimate_usd",
		Help: "Estimated monthly storage cost from the latest daily snapshot.",
	}, []string{"tier", "backend"})
	m.schedulerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total",
		Help: "Daily scheduler runs by outcome.",
	}, []string{"outcome"})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"method", "route"})

	m.eventsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "events_connections",
		Help: "Number of active realtime connections.",
	})

	reg.MustRegister(
		m.migrationQueueDepth,
		m.migrationsStartedTotal,
		m.migrationsCompletedTotal,
		m.migrationDurationMs,
		m.migrationBytesTotal,
		m.sourceCleanupsTotal,
		m.backendCallsTotal,
		m.backendCallDurationMs,
		m.earlyDeletionsTotal,
		m.routeDecisionsTotal,
		m.monthlyCostEstimateUSD,
		m.schedulerRunsTotal,
		m.httpRequestsTotal,
		m.httpRequestDurationMs,
		m.eventsConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetMigrationQueue(status string, count int64) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.migrationQueueDepth.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) IncMigrationsStarted(fromTier, toTier string) {
	if m == nil {
		return
	}
	m.migrationsStartedTotal.WithLabelValues(fromTier, toTier).Inc()
}

func (m *Metrics) IncMigrationsCompleted(fromTier, toTier, status string, errorCode *string) {
	if m == nil {
		return
	}
	m.migrationsCompletedTotal.WithLabelValues(fromTier, toTier, status, normalizeErrorCode(status, errorCode)).Inc()
}

func (m *Metrics) ObserveMigrationDuration(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.migrationDurationMs.WithLabelValues(status).Observe(nonNegativeMs(duration))
}

func (m *Metrics) AddMigrationBytes(fromBackend, toBackend string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.migrationBytesTotal.WithLabelValues(fromBackend, toBackend).Add(float64(bytes))
}

func (m *Metrics) IncSourceCleanups(backend, status string) {
	if m == nil {
		return
	}
	m.sourceCleanupsTotal.WithLabelValues(backend, status).Inc()
}

func (m *Metrics) ObserveBackendCall(backend, op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "ok"
	}
	m.backendCallsTotal.WithLabelValues(backend, op, outcome).Inc()
	m.backendCallDurationMs.WithLabelValues(backend, op).Observe(nonNegativeMs(duration))
}

func (m *Metrics) IncEarlyDeletions(backend string) {
	if m == nil {
		return
	}
	m.earlyDeletionsTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) IncRouteDecisions(backend, rule string) {
	if m == nil {
		return
	}
	m.routeDecisionsTotal.WithLabelValues(backend, rule).Inc()
}

func (m *Metrics) SetMonthlyCostEstimate(tier, backend string, usd float64) {
	if m == nil {
		return
	}
	m.monthlyCostEstimateUSD.WithLabelValues(tier, backend).Set(usd)
}

func (m *Metrics) IncSchedulerRuns(outcome string) {
	if m == nil {
		return
	}
	m.schedulerRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDurationMs.WithLabelValues(method, route).Observe(nonNegativeMs(duration))
}

func (m *Metrics) IncEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Inc()
}

func (m *Metrics) DecEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Dec()
}

func normalizeErrorCode(status string, errorCode *string) string {
	code := ""
	if errorCode != nil {
		code = strings.TrimSpace(*errorCode)
	}
	if code != "" {
		return code
	}
	if strings.TrimSpace(status) == "failed" {
		return "unknown"
	}
	return "none"
}

func nonNegativeMs(d time.Duration) float64 {
	ms := float64(d.Milliseconds())
	if ms < 0 {
		return 0
	}
	return ms
}
