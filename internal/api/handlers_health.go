// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"
)

// healthStatus is the GET /health body.
type healthStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Events        int64   `json:"events"`
	Sessions      int64   `json:"sessions"`
	WSClients     int     `json:"ws_clients"`
	Pipeline      string  `json:"pipeline"`
}

// HealthLive is the liveness probe: the process is up and serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, map[string]string{"status": "alive"}, time.Now())
}

// HealthReady is the readiness probe: the database answers and the pipeline
// is running. Not ready responds 503 so load balancers hold traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, codeStorageUnavailable,
			"database not reachable", err)
		return
	}
	if h.pipe != nil && !h.pipe.IsRunning() {
		respondError(w, http.StatusServiceUnavailable, codeInternal,
			"event pipeline not running", nil)
		return
	}

	respondSuccess(w, map[string]string{"status": "ready"}, started)
}

// Health reports a liveness summary with record counts and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	events, sessions, err := h.db.RecordCounts(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, codeDatabase,
			"failed to read record counts", err)
		return
	}

	pipeState := "disabled"
	if h.pipe != nil {
		pipeState = "stopped"
		if h.pipe.IsRunning() {
			pipeState = "running"
		}
	}

	wsClients := 0
	if h.wsHub != nil {
		wsClients = h.wsHub.GetClientCount()
	}

	respondSuccess(w, &healthStatus{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Events:        events,
		Sessions:      sessions,
		WSClients:     wsClients,
		Pipeline:      pipeState,
	}, started)
}
