// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
schema.go - Database Schema Management

Tables:
  - events: append-only admitted notifications with a unique dedup_key
  - sessions: correlated participant presence intervals
  - channel_day_metrics: per-channel per-UTC-day aggregates
  - user_channel_day_metrics: per-participant per-UTC-day aggregates

Index Strategy:
  - events.dedup_key UNIQUE is the atomic admission point for the
    deduplication gate; it encodes (namespace_id, notice_id) or the
    fallback identity tuple for sources without notice ids
  - sessions are queried by (channel_instance_id, participant_id) for
    correlation and by (namespace_id, started_at) for listing
  - metric tables carry composite primary keys matching their atomic
    replace granularity
*/

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns the table creation SQL statements
func getTableCreationQueries() []string {
	return []string{
		// Arrival ordinals for events. DuckDB has no IDENTITY column, so
		// a sequence feeds the id. The ordinal doubles as arrival order
		// for same-timestamp, same-sequence_no tie-breaking.
		`CREATE SEQUENCE IF NOT EXISTS seq_events_id START 1;`,

		// Events table. Append-only: rows are inserted at admission and
		// never updated or deleted.
		`CREATE TABLE IF NOT EXISTS events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_events_id'),
			namespace_id TEXT NOT NULL,
			notice_id TEXT,
			dedup_key TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			participant_id TEXT,
			event_kind TEXT NOT NULL,
			sequence_no BIGINT NOT NULL DEFAULT 0,
			client_seq BIGINT NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL,
			role_hint TEXT,
			platform_hint TEXT,
			product_hint TEXT,
			reason_code INTEGER,
			session_ref TEXT,
			ingested_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// Sessions table. One row per correlated session, updated in
		// place by the correlator under its per-key lock.
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			namespace_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			channel_instance_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			is_closed BOOLEAN NOT NULL DEFAULT FALSE,
			communication_mode TEXT,
			initial_role TEXT,
			final_role TEXT,
			role_change_count INTEGER NOT NULL DEFAULT 0,
			role_changes JSON,
			exit_reason INTEGER,
			forced_close BOOLEAN NOT NULL DEFAULT FALSE,
			leave_only BOOLEAN NOT NULL DEFAULT FALSE,
			platform TEXT,
			product TEXT,
			last_client_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// Channel day metrics. Replaced atomically per (namespace,
		// channel, day) by the aggregator.
		`CREATE TABLE IF NOT EXISTS channel_day_metrics (
			namespace_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			metric_date DATE NOT NULL,
			total_minutes DOUBLE NOT NULL DEFAULT 0,
			unique_participants INTEGER NOT NULL DEFAULT 0,
			session_count INTEGER NOT NULL DEFAULT 0,
			host_minutes DOUBLE NOT NULL DEFAULT 0,
			audience_minutes DOUBLE NOT NULL DEFAULT 0,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace_id, channel_name, metric_date)
		);`,

		// User day metrics, replaced atomically per (namespace,
		// participant, day).
		`CREATE TABLE IF NOT EXISTS user_channel_day_metrics (
			namespace_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			metric_date DATE NOT NULL,
			total_minutes DOUBLE NOT NULL DEFAULT 0,
			channels_visited INTEGER NOT NULL DEFAULT 0,
			session_count INTEGER NOT NULL DEFAULT 0,
			host_minutes DOUBLE NOT NULL DEFAULT 0,
			audience_minutes DOUBLE NOT NULL DEFAULT 0,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace_id, participant_id, metric_date)
		);`,
	}
}

// createIndexes creates database indexes for query optimization
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getIndexQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute index query: %s: %w", query, err)
		}
	}

	return nil
}

// getIndexQueries returns index creation SQL statements
func getIndexQueries() []string {
	return []string{
		// Atomic admission point. A second insert of the same dedup_key
		// affects zero rows no matter how many submitters race.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup_key ON events(dedup_key);`,

		`CREATE INDEX IF NOT EXISTS idx_events_namespace_occurred ON events(namespace_id, occurred_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_identity ON events(namespace_id, channel_name, participant_id, event_kind);`,

		// Correlation lookups: open session per key, reconciliation scans
		`CREATE INDEX IF NOT EXISTS idx_sessions_instance_participant ON sessions(channel_instance_id, participant_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_namespace_started ON sessions(namespace_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(is_closed, channel_instance_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_participant ON sessions(namespace_id, participant_id, started_at DESC);`,

		// Day metric range reads
		`CREATE INDEX IF NOT EXISTS idx_channel_day_date ON channel_day_metrics(namespace_id, metric_date);`,
		`CREATE INDEX IF NOT EXISTS idx_user_day_date ON user_channel_day_metrics(namespace_id, metric_date);`,
	}
}
