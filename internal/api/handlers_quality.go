// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	"github.com/correlatus/correlatus/internal/cache"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
	"github.com/correlatus/correlatus/internal/quality"
)

// Quality is GET /quality: a deterministic quality report computed on demand
// over the sessions matching a channel or participant scope. Exactly one of
// channel= and participant= must be given.
func (h *Handler) Quality(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := QualityRequest{
		Namespace:   r.URL.Query().Get("namespace"),
		Channel:     r.URL.Query().Get("channel"),
		Participant: r.URL.Query().Get("participant"),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}
	if (req.Channel == "") == (req.Participant == "") {
		respondError(w, http.StatusBadRequest, codeValidation,
			"exactly one of channel and participant must be set", nil)
		return
	}

	from, to, err := parseTimeRange(r, time.Now().UTC(), h.config.Export.DefaultDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}

	cacheKey := cache.GenerateKey("quality", map[string]interface{}{
		"req": req, "from": from, "to": to,
	})
	if cached, ok := h.cache.Get(cacheKey); ok {
		respondSuccess(w, cached, started)
		return
	}

	// Leave-only records stay in: their reason codes feed the histogram
	// even though they carry no duration.
	var sessions []*models.Session
	scope := req.Channel
	if req.Channel != "" {
		sessions, err = h.db.ListSessionsOverlappingRange(r.Context(), req.Namespace, req.Channel, from, to, true)
	} else {
		scope = req.Participant
		sessions, err = h.db.ListSessionsForParticipant(r.Context(), req.Namespace, req.Participant, from, to, true)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to load sessions for quality report", err)
		return
	}

	report := quality.Score(req.Namespace, scope, sessions)
	metrics.RecordQualityReport(scope, time.Since(started))

	h.cache.Set(cacheKey, report)
	respondSuccess(w, report, started)
}

// Concurrency is GET /concurrency: the concurrent-participants step series
// for one channel. An omitted range defaults to the current day; open
// sessions end provisionally at the time of the call.
func (h *Handler) Concurrency(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := ConcurrencyRequest{
		Namespace: r.URL.Query().Get("namespace"),
		Channel:   r.URL.Query().Get("channel"),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	from, to := dayStart, dayStart.AddDate(0, 0, 1)
	if r.URL.Query().Get("from") != "" || r.URL.Query().Get("to") != "" {
		var err error
		from, to, err = parseTimeRange(r, now, 1)
		if err != nil {
			respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
			return
		}
	}

	series, err := h.agg.ConcurrencySeries(r.Context(), req.Namespace, req.Channel, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to compute concurrency series", err)
		return
	}

	respondSuccess(w, series, started)
}
