// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package models defines the data structures shared across the Correlatus
application.

It is the single source of truth for entity definitions, covering the
durable entities, the derived aggregates, and the API envelope:

  - Event: immutable normalized notification fact (append-only)
  - Session: one participant's continuous presence in one channel instance
  - ChannelDayMetric / UserChannelDayMetric: per-day rollups, always
    recomputed from the session set, never patched incrementally
  - QualityReport: on-demand scoring output, not persisted
  - APIResponse / APIError / Metadata: standard HTTP response wrapper

Entity Lifecycle:

Events are created once by ingestion and never mutated. Sessions are
created by join events, updated by role changes, and closed by leave or
channel-destroy events; a closed session is immutable except for the
single leave-after-destroy reconciliation path owned by the correlator.
Metrics are pure functions of the session set and are replaced, not
edited, whenever the underlying sessions change.

Thread Safety:

All models are plain data structures with no internal synchronization.
They are safe for concurrent reads; writers must hold whatever lock the
owning component prescribes (see internal/correlator for the per-key
locking discipline).

JSON Marshaling:

Struct tags use snake_case for both the API and the database layer.
time.Time fields marshal as RFC3339. Optional fields are pointers with
omitempty.
*/
package models
