package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session / transaction metrics
	SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corestore_sessions_open",
			Help: "Number of sessions currently open on this process",
		},
	)

	TxnsBegun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestore_txns_begun_total",
			Help: "Total number of transactions begun",
		},
	)

	TxnsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestore_txns_committed_total",
			Help: "Total number of transactions committed",
		},
	)

	TxnsRolledBack = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_txns_rolled_back_total",
			Help: "Total number of transactions rolled back, by reason",
		},
		[]string{"reason"},
	)

	TxnConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestore_tx_update_conflicts_total",
			Help: "Total number of commit validation failures (tx_update_conflict)",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corestore_commit_duration_seconds",
			Help:    "Time spent validating and applying a transaction log at commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Object arena / locator metrics
	ObjectsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corestore_objects_live",
			Help: "Number of live objects by type id",
		},
		[]string{"type_id"},
	)

	LocatorsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corestore_locators_allocated",
			Help: "Total locators allocated so far (monotonic, process-wide)",
		},
	)

	// Reference engine metrics
	ReferenceIntegrityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_reference_integrity_violations_total",
			Help: "Referential-integrity errors raised by the reference engine, by kind",
		},
		[]string{"kind"},
	)

	AutoConnectOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_vlr_autoconnect_total",
			Help: "Value-linked relationship auto-connect/disconnect operations, by side",
		},
		[]string{"side"},
	)

	// Index metrics
	IndexEntriesInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_index_entries_inserted_total",
			Help: "Index entries inserted, by index id",
		},
		[]string{"index_id"},
	)

	IndexEntriesRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_index_entries_removed_total",
			Help: "Index entries marked removed, by index id",
		},
		[]string{"index_id"},
	)

	IndexEntriesGCed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_index_entries_gc_total",
			Help: "Index entries reclaimed by garbage collection, by index id (no code path reclaims entries, so this stays at zero)",
		},
		[]string{"index_id"},
	)

	IndexPopulateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corestore_index_populate_duration_seconds",
			Help:    "Time spent rebuilding an index from table contents",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index_id"},
	)

	// Scan metrics
	ScanRowsYielded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_scan_rows_yielded_total",
			Help: "Rows yielded by index scans, by index id and predicate kind",
		},
		[]string{"index_id", "predicate"},
	)

	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corestore_scan_duration_seconds",
			Help:    "Wall-clock time of an index scan from open to exhaustion",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index_id", "predicate"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsOpen,
		TxnsBegun,
		TxnsCommitted,
		TxnsRolledBack,
		TxnConflicts,
		CommitDuration,
		ObjectsLive,
		LocatorsAllocated,
		ReferenceIntegrityViolations,
		AutoConnectOperations,
		IndexEntriesInserted,
		IndexEntriesRemoved,
		IndexEntriesGCed,
		IndexPopulateDuration,
		ScanRowsYielded,
		ScanDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
