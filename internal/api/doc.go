// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package api provides the HTTP surface: event ingestion, session and
// metric queries, quality reports, export, admin operations, and the
// WebSocket live feed, routed with Chi.
//
// Handlers are split by concern:
//   - handlers.go: Handler struct and constructor
//   - handlers_health.go: liveness/readiness
//   - handlers_ingest.go: the notification webhook
//   - handlers_sessions.go: session and channel listings
//   - handlers_metrics.go: day-metric reads
//   - handlers_quality.go: quality reports and concurrency series
//   - handlers_export.go: bounded data export (JSON or zipped CSV)
//   - handlers_admin.go: recompute, dedup stats, journal stats
//   - handlers_auth.go: login
//   - handlers_websocket.go: live feed upgrade
//
// Every response uses the models.APIResponse envelope. Route groups carry
// their own rate limits; the query and admin groups additionally require
// authentication when it is enabled.
package api
