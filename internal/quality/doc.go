// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package quality scores a session set's call quality from exit reasons and
// timing. Scoring starts at 100 and applies per-reason penalties with
// per-reason caps, short-call and low-average penalties, a normal-exit bonus,
// and reconnection-pattern penalties, then clamps to [0, 100].
//
// Score is a pure function: the same session set produces the same report
// regardless of input order, and nothing here reads clocks or storage. The
// penalty table is deliberately code, not configuration, so a score computed
// today can be reproduced bit for bit later.
package quality
