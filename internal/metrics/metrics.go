// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the correlation pipeline:
// - Ingestion outcomes and decode latency
// - Deduplication gate (cache, store confirmations, circuit breaker)
// - Database query performance (DuckDB)
// - Session correlator decisions
// - Metric recomputes and quality reports
// - API endpoint latency and throughput
// - Pipeline, WAL, and WebSocket activity

var (
	// Ingestion Metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of submitted events by outcome",
		},
		[]string{"result"}, // "accepted", "duplicate", "malformed"
	)

	IngestEventsByKind = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_by_kind_total",
			Help: "Total number of accepted events by event kind",
		},
		[]string{"kind"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Duration of event submission from decode to admission decision",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	IngestStorageUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_storage_unavailable_total",
			Help: "Total number of submissions rejected because the dedup gate could not reach storage",
		},
	)

	// Deduplication Metrics
	DedupCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_cache_hits_total",
			Help: "Total number of duplicates caught by the recency cache",
		},
	)

	DedupStoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_store_hits_total",
			Help: "Total number of duplicates confirmed by the event store after a cache miss",
		},
	)

	DedupStoreChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_store_checks_total",
			Help: "Total number of authoritative event store checks",
		},
	)

	DedupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_entries",
			Help: "Current number of keys tracked by the recency cache",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// Correlator Metrics
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "correlator_sessions_open",
			Help: "Current number of open sessions across all channels",
		},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "correlator_sessions_opened_total",
			Help: "Total number of sessions opened",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_sessions_closed_total",
			Help: "Total number of sessions closed by closure cause",
		},
		[]string{"cause"}, // "leave", "channel_destroy"
	)

	ReconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "correlator_reconciliations_total",
			Help: "Total number of forced closures corrected by a late leave within the tolerance window",
		},
	)

	LeaveOnlySessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "correlator_leave_only_sessions_total",
			Help: "Total number of zero-duration records created for leaves without a matching join",
		},
	)

	StaleEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_stale_events_total",
			Help: "Total number of events ignored as stale by sequence comparison",
		},
		[]string{"kind"},
	)

	RoleChangesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "correlator_role_changes_total",
			Help: "Total number of role changes applied to open sessions",
		},
	)

	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_invariant_violations_total",
			Help: "Total number of events abandoned due to invariant violations",
		},
		[]string{"kind"},
	)

	OutOfOrderEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_out_of_order_events_total",
			Help: "Total number of out-of-order deliveries absorbed or discarded by the correlator",
		},
		[]string{"kind"}, // "join_backdated", "role_change_no_session", "destroy_unmatched"
	)

	// Aggregator Metrics
	RecomputeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_recompute_runs_total",
			Help: "Total number of metric recompute runs by scope and outcome",
		},
		[]string{"scope", "result"}, // scope: "channel_day", "user_day", "rebuild"; result: "success", "error", "cancelled"
	)

	RecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregate_recompute_duration_seconds",
			Help:    "Duration of metric recompute runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"scope"},
	)

	RecomputeRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregate_rows_written_total",
			Help: "Total number of metric rows written by recomputes",
		},
	)

	RecomputeLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregate_last_success_timestamp",
			Help: "Unix timestamp of the last successful recompute",
		},
	)

	// Quality Metrics
	QualityReportsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quality_reports_computed_total",
			Help: "Total number of quality reports computed by scope",
		},
		[]string{"scope"}, // "channel", "user"
	)

	QualityReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quality_report_duration_seconds",
			Help:    "Duration of quality report computation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "dedup", "query"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of WebSocket messages received",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Auth Metrics
	AuthLoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"}, // result: "success", "invalid", "throttled"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Pipeline Metrics
	PipelineMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_published_total",
			Help: "Total number of messages published to the pipeline",
		},
		[]string{"topic"},
	)

	PipelineMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_consumed_total",
			Help: "Total number of messages consumed from the pipeline",
		},
		[]string{"topic"},
	)

	PipelineMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_failed_total",
			Help: "Total number of messages whose handler returned an error",
		},
		[]string{"topic"},
	)

	PipelineProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "Duration of pipeline message handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// Write-Ahead Log Metrics
	WALEntriesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_entries_appended_total",
			Help: "Total number of entries appended to the write-ahead log",
		},
	)

	WALEntriesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_entries_replayed_total",
			Help: "Total number of entries replayed from the write-ahead log at startup",
		},
	)

	WALReplayFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_replay_failures_total",
			Help: "Total number of entries that failed to replay",
		},
	)

	WALPendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wal_pending_entries",
			Help: "Current number of uncommitted entries in the write-ahead log",
		},
	)

	WALCompactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_compactions_total",
			Help: "Total number of write-ahead log compaction runs",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordIngest records the outcome of one event submission.
func RecordIngest(result string, duration time.Duration) {
	IngestEventsTotal.WithLabelValues(result).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordAccepted records an admitted event by kind.
func RecordAccepted(kind string) {
	IngestEventsByKind.WithLabelValues(kind).Inc()
}

// RecordDuplicate records a duplicate rejection and which layer caught it.
func RecordDuplicate(source string) {
	switch source {
	case "cache":
		DedupCacheHits.Inc()
	case "store":
		DedupStoreHits.Inc()
	}
}

// RecordDedupStoreCheck records an authoritative event store lookup.
func RecordDedupStoreCheck() {
	DedupStoreChecks.Inc()
}

// RecordLogin records a login attempt outcome.
func RecordLogin(result string) {
	AuthLoginAttempts.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSessionOpened records a session transitioning to Open.
func RecordSessionOpened() {
	SessionsOpened.Inc()
	SessionsOpen.Inc()
}

// RecordSessionClosed records a session transitioning to Closed.
func RecordSessionClosed(cause string) {
	SessionsClosed.WithLabelValues(cause).Inc()
	SessionsOpen.Dec()
}

// RecordReconciliation records a late leave correcting a forced closure.
func RecordReconciliation() {
	ReconciliationsTotal.Inc()
}

// RecordLeaveOnly records an orphan leave stored as a zero-duration record.
func RecordLeaveOnly() {
	LeaveOnlySessions.Inc()
}

// RecordStaleEvent records an event ignored by the sequence guard.
func RecordStaleEvent(kind string) {
	StaleEventsDropped.WithLabelValues(kind).Inc()
}

// RecordInvariantViolation records an event abandoned mid-application.
func RecordInvariantViolation(kind string) {
	InvariantViolations.WithLabelValues(kind).Inc()
}

// RecordOutOfOrder records an out-of-order delivery the correlator absorbed
// (backdated join, ignored role change) or discarded (unmatched destroy).
func RecordOutOfOrder(kind string) {
	OutOfOrderEvents.WithLabelValues(kind).Inc()
}

// RecordRecompute records a metric recompute run and its outcome.
func RecordRecompute(scope string, duration time.Duration, rowsWritten int, err error) {
	RecomputeDuration.WithLabelValues(scope).Observe(duration.Seconds())
	if err != nil {
		result := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		RecomputeRuns.WithLabelValues(scope, result).Inc()
		return
	}
	RecomputeRuns.WithLabelValues(scope, "success").Inc()
	RecomputeRowsWritten.Add(float64(rowsWritten))
	RecomputeLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordQualityReport records a quality report computation.
func RecordQualityReport(scope string, duration time.Duration) {
	QualityReportsComputed.WithLabelValues(scope).Inc()
	QualityReportDuration.Observe(duration.Seconds())
}

// RecordPipelinePublish records a message published to a topic.
func RecordPipelinePublish(topic string) {
	PipelineMessagesPublished.WithLabelValues(topic).Inc()
}

// RecordPipelineConsume records a message handled from a topic.
func RecordPipelineConsume(topic string, duration time.Duration, err error) {
	PipelineMessagesConsumed.WithLabelValues(topic).Inc()
	PipelineProcessingDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err != nil {
		PipelineMessagesFailed.WithLabelValues(topic).Inc()
	}
}

// RecordWALAppend records an entry appended to the write-ahead log.
func RecordWALAppend() {
	WALEntriesAppended.Inc()
}

// RecordWALReplay records the outcome of replaying one entry.
func RecordWALReplay(success bool) {
	if success {
		WALEntriesReplayed.Inc()
	} else {
		WALReplayFailures.Inc()
	}
}

// UpdateWALPendingDepth updates the uncommitted entry gauge.
func UpdateWALPendingDepth(depth int64) {
	WALPendingDepth.Set(float64(depth))
}

// RecordWALCompaction records a compaction run.
func RecordWALCompaction() {
	WALCompactions.Inc()
}
