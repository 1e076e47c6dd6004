// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package services wraps the server's long-running components as suture
// services: the HTTP server, the pipeline router, the WebSocket hub, and
// the journal's retry loop and compactor. Each wrapper translates a
// component's own run/stop contract into suture's context-driven Serve.
package services
