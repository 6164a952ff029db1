// Package telemetry provides application-level observability for bandyab.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<BANDYAB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Membership transitions and moderation decisions
//   - Uploads and post-deletion storage cleanup
//   - One-time code delivery and verification
//   - Realtime connections and pushed refresh messages
//   - Contact digest emails
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/bands/memberships/:id)
// rather than the raw request URL. No metric is labelled with a profile id.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Error rate (%):        sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Workflow metrics.
//
// MembershipTransitionsTotal counts applied membership actions by kind (band, school),
// action (invite, request, accept, reject, cancel, leave, remove, delete) and result
// (ok, invalid, conflict, duplicate).
//
// ModerationDecisionsTotal counts admin decisions by resource (event, blog_post, message)
// and resulting status.
var (
	MembershipTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_transitions_total",
			Help: "Total number of membership actions, by relationship kind, action, and result.",
		},
		[]string{"kind", "action", "result"},
	)

	ModerationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of admin moderation decisions, by resource and resulting status.",
		},
		[]string{"resource", "status"},
	)
)

// Storage metrics.
//
// StorageCleanupFailuresTotal is the alert signal for orphaned objects: every object the
// service failed to delete after its rows were gone increments it once.
//
// Example PromQL queries:
//   - Alert expression: increase(storage_cleanup_failures_total[1h]) > 0
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_total",
			Help: "Total number of accepted image uploads, by bucket.",
		},
		[]string{"bucket"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_size_bytes",
			Help:    "Size of accepted uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)

	StorageCleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_cleanup_failures_total",
			Help: "Total number of storage objects that could not be removed after their rows were deleted, by operation.",
		},
		[]string{"operation"},
	)

	ProfileDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_deletions_total",
			Help: "Total number of profile deletions, by initiator (self, admin) and result.",
		},
		[]string{"initiator", "result"},
	)
)

// One-time code metrics.
//
// OTPSentTotal has labels {provider, result}; OTPVerificationsTotal has label {result}
// with values ok, mismatch, expired, exhausted.
var (
	OTPSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_sent_total",
			Help: "Total number of one-time codes handed to the SMS provider, by provider and result.",
		},
		[]string{"provider", "result"},
	)

	OTPVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "Total number of one-time code verification attempts, by result.",
		},
		[]string{"result"},
	)
)

// Realtime metrics.
var (
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Current number of open realtime websocket connections.",
		},
	)

	RealtimeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_total",
			Help: "Total number of refresh messages queued to subscribers, by table.",
		},
		[]string{"table"},
	)
)

// DigestEmailsSentTotal is incremented once per digest email delivered by the contact
// digest job. A stalled counter while messages stay unanswered points at SMTP trouble.
var DigestEmailsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "contact_digest_emails_sent_total",
		Help: "Total number of unanswered-message digest emails successfully sent.",
	},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when the
// application shuts down and closes the pool.
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
