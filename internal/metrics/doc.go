// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package metrics provides Prometheus instrumentation for all Correlatus
subsystems.

Metrics are registered once at package init via promauto and exposed on
GET /metrics by the API server. Subsystems record through the exported
helpers rather than touching collectors directly, which keeps label
conventions in one place.

# Metric Families

Ingestion (ingest_*):
  - ingest_events_total{result}: submission outcomes (accepted, duplicate, malformed)
  - ingest_events_by_kind_total{kind}: admitted events per event kind
  - ingest_duration_seconds: decode-to-decision latency
  - ingest_storage_unavailable_total: fail-closed rejections

Deduplication (dedup_*):
  - dedup_cache_hits_total: duplicates caught by the recency cache
  - dedup_store_hits_total: duplicates confirmed by the event store
  - dedup_store_checks_total: authoritative store lookups
  - dedup_cache_entries: recency cache size

Correlator (correlator_*):
  - correlator_sessions_open / opened_total / closed_total{cause}
  - correlator_reconciliations_total: late leaves correcting forced closures
  - correlator_leave_only_sessions_total: orphan leaves
  - correlator_stale_events_total{kind}: sequence guard drops
  - correlator_invariant_violations_total{kind}: abandoned applications

Aggregation (aggregate_*):
  - aggregate_recompute_runs_total{scope,result} and duration histogram
  - aggregate_rows_written_total, aggregate_last_success_timestamp

Database (duckdb_*), API (api_*), cache (cache_*), WebSocket
(websocket_*), circuit breaker (circuit_breaker_*), pipeline
(pipeline_*), and write-ahead log (wal_*) families follow the same
conventions.

# Usage

	start := time.Now()
	rows, err := store.InsertEvent(ctx, ev)
	metrics.RecordDBQuery("INSERT", "events", time.Since(start), err)

# Cardinality

Label values are drawn from small fixed sets (event kinds, outcome
enums, route patterns). Never record raw channel names, participant
IDs, or notice IDs as label values.
*/
package metrics
