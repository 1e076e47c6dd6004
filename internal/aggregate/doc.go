// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package aggregate recomputes derived metrics from the session set.
//
// Day metrics are never patched incrementally: each recompute reads the
// sessions overlapping one (partition, date) and replaces the stored rows
// atomically, so metric rows are always a pure function of the sessions
// they summarize. Open sessions evidence presence (participants, session
// counts) but contribute no minutes until their true end is known, which
// keeps repeated recomputes of an unchanged session set identical.
//
// The concurrency series is computed on demand by a classic interval sweep
// and is the one read that treats open sessions as ending "now".
package aggregate
