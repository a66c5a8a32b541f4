// Package telemetry provides application-level observability for the permit
// registry.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<PBR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so it is
// unreachable through the public API ingress.
//
// Metric groups:
//   - HTTP request counters and latency histograms (labelled by route
//     template, not raw URL, to bound label cardinality)
//   - Notification dispatch counters (per channel, success and failure)
//   - Conflict detection counter (per category)
//   - Expiry scan duration histogram and due-record counter
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code. The
// path label holds the Gin route template (e.g. /api/v1/records/:id), never
// the raw URL.
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

// Notification metrics — recorded by the dispatcher and the expiry scanner.
//
// NotificationsSentTotal counts confirmed deliveries by channel identifier.
// ChannelFailuresTotal counts individual failed attempts by channel; a
// dispatch that succeeds on the fallback still increments the primary's
// failure counter once. DispatchFailuresTotal counts dispatches where every
// configured channel failed; alert on increase() > 0, since a recurring full
// failure leaves records un-notified past their warning point.
var (
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of expiry notifications successfully delivered, by channel.",
		},
		[]string{"channel"},
	)

	ChannelFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_failures_total",
			Help: "Total number of failed single-channel delivery attempts, by channel.",
		},
		[]string{"channel"},
	)

	DispatchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Total number of dispatches where every configured channel failed.",
		},
	)
)

// Conflict and scan metrics.
//
// ConflictsDetectedTotal counts save attempts blocked by an overlapping
// window, by category. ExpiryScanDuration observes one full scan cycle across
// all categories. ExpiryScanDueRecords counts records selected as due, by
// category, across all scans.
var (
	ConflictsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflicts_detected_total",
			Help: "Total number of record saves blocked by an overlapping validity window, by category.",
		},
		[]string{"category"},
	)

	ExpiryScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expiry_scan_duration_seconds",
			Help:    "Duration of a single expiry scan cycle across all categories.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExpiryScanDueRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiry_scan_due_records_total",
			Help: "Total number of records selected as due for notification, by category.",
		},
		[]string{"category"},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. Sampled every 30 seconds by StartDBStatsCollector rather
// than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable, which happens automatically when the application
// shuts down and defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
