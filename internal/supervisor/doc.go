// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Package supervisor builds the suture supervision tree the server runs
// under. Three child supervisors isolate failures by layer: data (journal
// retry and compaction), messaging (pipeline router and WebSocket hub), and
// api (HTTP server). A crash in one layer restarts only that layer's
// services; the others keep serving.
package supervisor
