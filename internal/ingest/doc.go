// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package ingest is the wire boundary for vendor notification callbacks. It
// decodes the raw payload, normalizes numeric codes into the internal event
// shape, and walks each event through journal staging, the dedup gate, and
// the pipeline handoff.
//
// Outcomes are deliberately small: accepted, duplicate (idempotent success,
// not an error), malformed (rejected at decode with a field-level reason),
// or storage unavailable (nothing recorded, the caller should retry the
// delivery).
package ingest
