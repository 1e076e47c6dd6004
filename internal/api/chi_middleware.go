// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/correlatus/correlatus/internal/config"
)

// ChiMiddleware bundles the per-route-group middleware factories: CORS and
// the rate limiters for the ingest, query, auth, and health groups.
type ChiMiddleware struct {
	cors   func(http.Handler) http.Handler
	ingest int
	query  int
	auth   int
	health int
}

// NewChiMiddleware builds the factories from API config. Rate limits are
// requests per minute per client IP; zero disables a group's limiter.
func NewChiMiddleware(cfg *config.APIConfig) *ChiMiddleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})

	return &ChiMiddleware{
		cors:   corsHandler,
		ingest: cfg.RateLimitIngest,
		query:  cfg.RateLimitQuery,
		auth:   cfg.RateLimitAuth,
		health: cfg.RateLimitHealth,
	}
}

// CORS returns the CORS middleware, applied globally so OPTIONS preflight
// reaches it on every route.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitIngest limits the webhook group.
func (m *ChiMiddleware) RateLimitIngest() func(http.Handler) http.Handler {
	return limitByIP(m.ingest)
}

// RateLimitQuery limits the read group.
func (m *ChiMiddleware) RateLimitQuery() func(http.Handler) http.Handler {
	return limitByIP(m.query)
}

// RateLimitAuth limits the auth group. The login limiter inside
// auth.Service throttles further.
func (m *ChiMiddleware) RateLimitAuth() func(http.Handler) http.Handler {
	return limitByIP(m.auth)
}

// RateLimitHealth limits the health group permissively so monitoring can
// poll freely.
func (m *ChiMiddleware) RateLimitHealth() func(http.Handler) http.Handler {
	return limitByIP(m.health)
}

// limitByIP builds an httprate limiter with the envelope's 429 payload.
func limitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusTooManyRequests, codeRateLimited,
				"rate limit exceeded, slow down", nil)
		}),
	)
}
