// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package database provides DuckDB-backed persistence for events, sessions,
and aggregated metrics.

# Tables

  - events: append-only record of every admitted notification. A unique
    index on dedup_key makes insertion the atomic admission point: an
    insert that affects zero rows is a duplicate, regardless of how many
    submitters race.
  - sessions: correlated participant presence. One row per session,
    updated in place as joins widen, roles change, and leaves close.
  - channel_day_metrics / user_channel_day_metrics: derived aggregates,
    replaced atomically per (scope, day) inside a transaction so readers
    never observe a half-written day.
  - schema_migrations: versioned migration tracking.

# Concurrency

DuckDB runs embedded through database/sql with a small connection pool.
Writers above this package serialize per correlation key; this package
only guarantees statement-level atomicity (unique index enforcement,
transactional metric replacement) and does not lock rows itself.

# Error handling

Query errors wrap the underlying driver error with %w. Duplicate-key
admission is not an error: InsertEvent returns inserted=false. Callers
that need to distinguish an unreachable database (fail-closed paths in
the dedup gate) can test with IsUnavailable.
*/
package database
