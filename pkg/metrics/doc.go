/*
Package metrics provides Prometheus metrics collection and exposition for the
storage engine.

The metrics package defines and registers engine metrics using the Prometheus
client library: transaction lifecycle counts, commit-validation conflicts,
object/locator arena occupancy, reference-engine and VLR activity, and index
and scan throughput. Metrics are exposed via an HTTP handler for scraping by
a Prometheus server; the engine itself never starts an HTTP listener.

# Metric Categories

Session / transaction:
  - corestore_sessions_open (gauge)
  - corestore_txns_begun_total, corestore_txns_committed_total (counters)
  - corestore_txns_rolled_back_total{reason} (counter)
  - corestore_tx_update_conflicts_total (counter)
  - corestore_commit_duration_seconds (histogram)

Object arena / locator map:
  - corestore_objects_live{type_id} (gauge)
  - corestore_locators_allocated (gauge)

Reference engine / VLR:
  - corestore_reference_integrity_violations_total{kind} (counter)
  - corestore_vlr_autoconnect_total{side} (counter, side=parent_side|child_side)

Index / scan:
  - corestore_index_entries_inserted_total{index_id}
  - corestore_index_entries_removed_total{index_id}
  - corestore_index_entries_gc_total{index_id}
  - corestore_index_populate_duration_seconds{index_id}
  - corestore_scan_rows_yielded_total{index_id,predicate}
  - corestore_scan_duration_seconds{index_id,predicate}

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	// ... perform commit ...
	timer.ObserveDuration(metrics.CommitDuration)

# Health checks

The companion HealthChecker tracks liveness/readiness of named components
(e.g. "session", "persistence") independent of Prometheus scraping, exposed
via HealthHandler/ReadyHandler/LivenessHandler for use behind a load balancer
or orchestrator probe.
*/
package metrics
