// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/correlatus/correlatus/internal/aggregate"
	"github.com/correlatus/correlatus/internal/auth"
	"github.com/correlatus/correlatus/internal/cache"
	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/database"
	"github.com/correlatus/correlatus/internal/dedup"
	"github.com/correlatus/correlatus/internal/ingest"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/wal"
	ws "github.com/correlatus/correlatus/internal/websocket"
)

// queryCacheTTL bounds staleness of cached metric and quality reads; session
// listings are never cached because the live feed makes them change often.
const queryCacheTTL = time.Minute

// PipelineStatus reports whether the event pipeline is running, for the
// readiness probe. *pipeline.Pipeline satisfies it.
type PipelineStatus interface {
	IsRunning() bool
}

// Handler carries the collaborators the HTTP surface talks to. journal and
// pipe may be nil when the corresponding subsystem is disabled; handlers
// degrade per endpoint rather than failing construction.
type Handler struct {
	db        *database.DB
	ingest    *ingest.Service
	agg       *aggregate.Aggregator
	gate      *dedup.Gate
	journal   *wal.Log
	auth      *auth.Service
	pipe      PipelineStatus
	wsHub     *ws.Hub
	config    *config.Config
	cache     cache.Cacher
	startTime time.Time
}

// NewHandler wires the handler. The query cache holds metric and quality
// responses for up to a minute; session and channel listings bypass it.
func NewHandler(
	db *database.DB,
	ingestSvc *ingest.Service,
	agg *aggregate.Aggregator,
	gate *dedup.Gate,
	journal *wal.Log,
	authSvc *auth.Service,
	pipe PipelineStatus,
	wsHub *ws.Hub,
	cfg *config.Config,
) *Handler {
	return &Handler{
		db:        db,
		ingest:    ingestSvc,
		agg:       agg,
		gate:      gate,
		journal:   journal,
		auth:      authSvc,
		pipe:      pipe,
		wsHub:     wsHub,
		config:    cfg,
		cache:     cache.NewTTL(queryCacheTTL),
		startTime: time.Now(),
	}
}

// ClearCache drops all cached query responses. The aggregate pipeline calls
// it after recomputing partitions so dashboards see fresh rows immediately.
func (h *Handler) ClearCache() {
	if h.cache != nil {
		h.cache.Clear()
	}
}

// getUpgrader builds the WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against configured CORS
// origins. Non-browser clients omit Origin and are allowed; browsers always
// send it, so a present Origin must match.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.config == nil {
		return true
	}
	for _, allowed := range h.config.API.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().
		Str("origin", sanitizeLogValue(origin)).
		Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
