package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionMutationsTotal *prometheus.CounterVec
	BulkAffectedUsers        *prometheus.HistogramVec
	PermissionChecksTotal    *prometheus.CounterVec
	UsersTotal               prometheus.Gauge

	// Audit metrics
	AuditAppendsTotal *prometheus.CounterVec

	// Snapshot persistence metrics
	SnapshotSavesTotal   *prometheus.CounterVec
	SnapshotSaveDuration *prometheus.HistogramVec

	// Scheduled backup metrics
	BackupRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caseboard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_permission_mutations_total",
				Help: "Total number of permission mutations",
			},
			[]string{"operation", "kind"},
		),
		BulkAffectedUsers: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caseboard_bulk_affected_users",
				Help:    "Users changed by a single bulk action",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"direction"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result", "cache"},
		),
		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "caseboard_users_total",
				Help: "Users with a permission set",
			},
		),

		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_audit_appends_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"kind", "status"},
		),

		SnapshotSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_snapshot_saves_total",
				Help: "Total number of snapshot writes to the persistence backend",
			},
			[]string{"status"},
		),
		SnapshotSaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caseboard_snapshot_save_duration_seconds",
				Help:    "Snapshot write duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		BackupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseboard_backup_runs_total",
				Help: "Total number of snapshot backups written per target",
			},
			[]string{"target", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionMutationsTotal,
		m.BulkAffectedUsers,
		m.PermissionChecksTotal,
		m.UsersTotal,
		m.AuditAppendsTotal,
		m.SnapshotSavesTotal,
		m.SnapshotSaveDuration,
		m.BackupRunsTotal,
	)

	return m
}

// RecordMutation counts one permission mutation
func (m *Metrics) RecordMutation(operation, kind string) {
	if m == nil {
		return
	}
	m.PermissionMutationsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordBulk observes how many users a bulk action changed
func (m *Metrics) RecordBulk(direction string, affected int) {
	if m == nil {
		return
	}
	m.BulkAffectedUsers.WithLabelValues(direction).Observe(float64(affected))
}

// RecordCheck counts one permission check
func (m *Metrics) RecordCheck(allowed, cached bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.PermissionChecksTotal.WithLabelValues(result, cache).Inc()
}

// SetUsers sets the current user count
func (m *Metrics) SetUsers(n int) {
	if m == nil {
		return
	}
	m.UsersTotal.Set(float64(n))
}

// RecordAuditAppend counts one audit append attempt
func (m *Metrics) RecordAuditAppend(kind string, err error) {
	if m == nil {
		return
	}
	m.AuditAppendsTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

// RecordSnapshotSave records one snapshot write
func (m *Metrics) RecordSnapshotSave(duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := statusLabel(err)
	m.SnapshotSavesTotal.WithLabelValues(status).Inc()
	m.SnapshotSaveDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBackup counts one backup write to target
func (m *Metrics) RecordBackup(target string, err error) {
	if m == nil {
		return
	}
	m.BackupRunsTotal.WithLabelValues(target, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled with
// the mux route template so path parameters do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}
