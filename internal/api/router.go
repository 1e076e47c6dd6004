// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/correlatus/correlatus/internal/auth"
	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/middleware"
)

// Router assembles the HTTP surface from a handler and the per-group
// middleware factories.
type Router struct {
	handler       *Handler
	auth          *auth.Service
	chiMiddleware *ChiMiddleware
	apiConfig     *config.APIConfig
}

// NewRouter creates the router. authSvc may be a disabled service, in which
// case RequireAuth passes everything through.
func NewRouter(handler *Handler, authSvc *auth.Service, cfg *config.APIConfig) *Router {
	return &Router{
		handler:       handler,
		auth:          authSvc,
		chiMiddleware: NewChiMiddleware(cfg),
		apiConfig:     cfg,
	}
}

// Setup builds the route tree.
//
// Route groups and their protections:
//   - /api/v1/health: permissive rate limit, no auth (probes)
//   - /api/v1/auth/login: strict rate limit plus the login limiter
//   - /api/v1/namespaces/{namespace}/events: ingest rate limit, body cap,
//     never authenticated (webhook sources cannot re-auth; a 401 there is
//     silent data loss)
//   - /api/v1 queries and /api/v1/admin: query rate limit, auth required
//     when enabled
//   - /metrics: Prometheus exposition, unauthenticated
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.Compression)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitAuth())
		r.Post("/login", router.handler.Login)
	})

	r.Route("/api/v1/namespaces/{namespace}/events", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitIngest())
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.MaxBytes(router.apiConfig.MaxBodyBytes))
		r.Post("/", router.handler.IngestEvent)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitQuery())
		r.Use(middleware.PrometheusMetrics)
		if router.auth != nil {
			r.Use(router.auth.RequireAuth)
		}

		r.Get("/sessions", router.handler.Sessions)
		r.Get("/channels", router.handler.Channels)
		r.Get("/metrics/channel", router.handler.ChannelMetrics)
		r.Get("/metrics/user", router.handler.UserMetrics)
		r.Get("/quality", router.handler.Quality)
		r.Get("/concurrency", router.handler.Concurrency)
		r.Get("/export", router.handler.Export)
		r.Get("/ws", router.handler.WebSocket)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/recompute", router.handler.Recompute)
			r.Get("/dedup", router.handler.DedupStats)
			r.Get("/journal", router.handler.JournalStats)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
