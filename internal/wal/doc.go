// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package wal is the durable admission journal backed by BadgerDB. Every
// event is staged here before the dedup gate runs and settled only after the
// correlator has applied it, so a crash anywhere in between leaves a pending
// entry that startup replay carries forward.
//
// Entry ids come from a monotonic sequence and the keys sort by id, so
// Pending and ReplayPending always see entries in admission order. That
// ordering is what lets a replayed join land before its leave.
//
// Lifecycle of an entry:
//
//	Append (pending) → correlation applied → Commit (settled) → compaction
//	                 → duplicate or failed admission → Discard
//
// The RetryLoop re-hands stale pending entries to the pipeline with
// exponential backoff, and the Compactor removes settled entries after a
// retention window and runs value log garbage collection. Entries are never
// dropped by age; only entries that exceed the retry limit are removed, with
// an error logged for each.
package wal
