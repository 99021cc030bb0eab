package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Change capture metrics
	ChangesCapturedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsync_changes_captured_total",
			Help: "Total number of change log rows captured by table and operation",
		},
		[]string{"table", "operation"},
	)

	// Merge outcome metrics
	MergeDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsync_merge_decisions_total",
			Help: "Total number of foreign changes merged by table, algorithm and outcome (applied/skipped/rejected)",
		},
		[]string{"table", "algo", "outcome"},
	)

	MergeApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudsync_merge_apply_duration_seconds",
			Help:    "Time taken to apply one foreign change",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sync orchestrator metrics
	SyncUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsync_sync_uploads_total",
			Help: "Total number of upload attempts by outcome",
		},
		[]string{"outcome"},
	)

	SyncUploadRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudsync_sync_upload_rows",
			Help:    "Number of change rows included in an upload batch",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
	)

	SyncCheckAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsync_sync_check_attempts_total",
			Help: "Total number of check_changes attempts by outcome",
		},
		[]string{"outcome"},
	)

	SyncCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudsync_sync_check_duration_seconds",
			Help:    "Time taken for one check_changes round trip",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncRowsApplied = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudsync_sync_rows_applied",
			Help:    "Number of rows applied per check_changes attempt",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChangesCapturedTotal,
		MergeDecisionsTotal,
		MergeApplyDuration,
		SyncUploadsTotal,
		SyncUploadRows,
		SyncCheckAttemptsTotal,
		SyncCheckDuration,
		SyncRowsApplied,
	)
}

// Handler returns the Prometheus HTTP handler for a caller that wants to
// expose /metrics; cloudsync does not run its own HTTP server.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
