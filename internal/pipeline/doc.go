// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package pipeline moves admitted events through correlation and
// aggregation over a Watermill router.
//
// Three topics form the spine. "events.admitted" carries events the dedup
// gate let through, "sessions.changed" announces session rows the
// correlator touched, and "metrics.refreshed" announces recomputed metric
// partitions. Live feeds subscribe to the latter two.
//
// The transport is an in-process Pub/Sub by default and NATS JetStream
// when configured, so a single node needs no broker while clustered
// deployments get durable, load-balanced consumption. Handler failures are
// split by kind: malformed payloads are dropped and counted, everything
// else is retried with exponential backoff. Events that still never make
// it through correlation stay pending in the journal, whose retry loop
// re-hands them to the pipeline until they settle.
package pipeline
