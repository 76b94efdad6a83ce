// Package telemetry provides application-level observability for OpenRegister.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<OR_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Object mutation, lock conflict and validation failure counters
//   - Search latency and facet computation counters
//   - Background job run counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/objects/:register/:schema/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as object UUIDs.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Object lifecycle metrics.
//
// ObjectMutationsTotal counts committed mutations by audit action
// (create, update, delete, revert, lock, unlock).
//
// LockConflictsTotal counts mutations and lock attempts refused because another
// user holds an active lock. A sustained rate usually means a client forgot to
// unlock or is using a TTL far longer than its edit session.
//
// ValidationFailuresTotal counts object payloads rejected by schema validation,
// labelled by schema slug.
var (
	ObjectMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "object_mutations_total",
			Help: "Total number of committed object mutations, by action.",
		},
		[]string{"action"},
	)

	LockConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "object_lock_conflicts_total",
			Help: "Total number of operations refused because of another user's active lock.",
		},
	)

	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "object_validation_failures_total",
			Help: "Total number of object payloads rejected by schema validation, by schema slug.",
		},
		[]string{"schema"},
	)
)

// Search metrics.
//
// SearchDuration is a HistogramVec labelled by executor ("sequential" or
// "concurrent") covering the full search including facets.
//
// FacetsComputedTotal counts individual facet computations by facet type
// (terms, date_histogram, range).
var (
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Duration of object searches including facet computation, by executor.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"executor"},
	)

	FacetsComputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_facets_computed_total",
			Help: "Total number of facets computed, by facet type.",
		},
		[]string{"type"},
	)
)

// Background job metrics.
//
// JobRunsTotal is labelled by job name and outcome ("ok" or "error").
// JobItemsProcessedTotal counts rows affected (expired audit trails deleted,
// stale locks cleared, objects purged).
var (
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Total number of background job runs, by job and outcome.",
		},
		[]string{"job", "outcome"},
	)

	JobItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_items_processed_total",
			Help: "Total number of rows affected by background jobs, by job.",
		},
		[]string{"job"},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every interval until ctx
// is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
