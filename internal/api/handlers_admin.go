// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/aggregate"
	"github.com/correlatus/correlatus/internal/logging"
)

// Recompute is POST /admin/recompute: a historical metrics rebuild over
// {namespace, from, to, channel?}. The run is synchronous and cooperatively
// cancellable: dropping the request aborts at the next partition boundary,
// leaving every written partition complete.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req aggregate.RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation,
			"unparseable request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	logging.Info().
		Str("namespace", sanitizeLogValue(req.NamespaceID)).
		Str("channel", sanitizeLogValue(req.ChannelName)).
		Time("from", req.From).
		Time("to", req.To).
		Msg("historical rebuild requested")

	result, err := h.agg.Rebuild(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"rebuild failed", err)
		return
	}

	h.ClearCache()
	respondSuccess(w, result, started)
}

// DedupStats is GET /admin/dedup: recency cache and breaker statistics.
func (h *Handler) DedupStats(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, h.gate.Stats(), time.Now())
}

// JournalStats is GET /admin/journal: admission journal depth and
// settlement counters. 404 when journaling is disabled.
func (h *Handler) JournalStats(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusNotFound, codeNotFound,
			"admission journal disabled", nil)
		return
	}
	respondSuccess(w, h.journal.Stats(), time.Now())
}
