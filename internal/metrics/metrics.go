// Package metrics holds the Prometheus collectors shared by the notarization
// pipeline, the health monitor and the HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	qtspCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeproof_qtsp_calls_total",
			Help: "Calls made to the trust service provider, by operation and audit status.",
		},
		[]string{"op", "status"},
	)

	qtspCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeproof_qtsp_call_duration_seconds",
			Help:    "Duration of calls to the trust service provider.",
			Buckets: []float64{.05, .1, .2, .5, 1, 2, 5, 10, 30},
		},
		[]string{"op"},
	)

	evidenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeproof_evidence_transitions_total",
			Help: "Evidence state transitions, by target state.",
		},
		[]string{"to"},
	)

	dailyRootsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeproof_daily_roots_built_total",
			Help: "Daily roots created.",
		},
	)

	healthLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timeproof_qtsp_health_latency_seconds",
			Help:    "Latency of provider health probes.",
			Buckets: []float64{.05, .1, .2, .3, .5, 1, 2, 5},
		},
	)

	consecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeproof_qtsp_consecutive_failures",
			Help: "Consecutive non-healthy provider probes.",
		},
	)

	packagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeproof_export_packages_total",
			Help: "Export package runs, by mode.",
		},
		[]string{"mode"},
	)

	// AuditWriteFailures counts provider calls whose audit entry could not be
	// written.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeproof_audit_write_failures_total",
			Help: "Audit log entries that failed to persist.",
		},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeproof_http_rate_limited_total",
			Help: "Requests rejected with 429, by limiter.",
		},
		[]string{"scope"},
	)

	// HTTPRequestsTotal and HTTPRequestDuration are observed by the server's
	// metrics middleware.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeproof_http_requests_total",
			Help: "HTTP requests served.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeproof_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func ObserveQTSPCall(op, status string, d time.Duration) {
	qtspCallsTotal.WithLabelValues(op, status).Inc()
	qtspCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

func EvidenceTransition(to string) {
	evidenceTransitions.WithLabelValues(to).Inc()
}

func DailyRootBuilt() {
	dailyRootsBuilt.Inc()
}

func ObserveHealth(latency time.Duration, failures int) {
	healthLatency.Observe(latency.Seconds())
	consecutiveFailures.Set(float64(failures))
}

func PackageRun(dryRun bool) {
	mode := "commit"
	if dryRun {
		mode = "dry_run"
	}
	packagesTotal.WithLabelValues(mode).Inc()
}

func RateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}
