// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package middleware provides the infrastructure HTTP middleware shared by
every route group: request ID propagation, Prometheus instrumentation,
gzip compression, and request body caps.

All middleware follow the chi convention func(http.Handler) http.Handler
and compose through Router.Use. Authentication middleware lives in
internal/auth; route-group rate limits come from go-chi/httprate and are
wired in internal/api.

Typical stack, outermost first:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)
	r.Use(middleware.MaxBytes(1 << 20))

RequestID also seeds the logging context, so handlers using
logging.Ctx(r.Context()) emit the request_id field without extra
plumbing.
*/
package middleware
