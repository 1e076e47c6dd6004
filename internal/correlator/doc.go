// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package correlator turns admitted channel events into session records.
//
// A session is one participant's continuous presence in one channel
// instance. Joins open sessions, leaves close them, role changes annotate
// them, and channel lifecycle events bound them: a destroy force-closes
// everything still open in its instance.
//
// Events arrive in any order. The correlator absorbs that with three
// mechanisms. Provisional instances stand in for channels whose create has
// not been witnessed yet and are folded into the real instance when it
// arrives. A reconciliation window lets a late leave replace the synthetic
// end of a forced closure with the authoritative one. A per-key client
// sequence guard drops stale join/leave deliveries that would otherwise
// resurrect finished state.
//
// State transitions for a channel are serialized by a striped lock keyed on
// (namespace, channel); separate channels correlate in parallel. The
// in-memory instance registry is rebuilt lazily from storage after a
// restart.
package correlator
