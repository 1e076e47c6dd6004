// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package dedup admits each RTC event exactly once.
//
// Sources deliver webhooks at-least-once, so the same notification can
// arrive many times across retries and restarts. The gate layers a bounded
// in-memory recency cache over the event store's unique dedup-key index:
// the cache absorbs redelivery bursts cheaply, the store arbitrates
// authoritatively. A circuit breaker around store access turns a storage
// outage into an explicit fail-closed verdict instead of double admission.
package dedup
