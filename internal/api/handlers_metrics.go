// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	"github.com/correlatus/correlatus/internal/cache"
	"github.com/correlatus/correlatus/internal/models"
)

// channelMetricsResponse is the GET /metrics/channel data payload.
type channelMetricsResponse struct {
	Metrics []*models.ChannelDayMetric `json:"metrics"`
}

// userMetricsResponse is the GET /metrics/user data payload.
type userMetricsResponse struct {
	Metrics []*models.UserChannelDayMetric `json:"metrics"`
}

// ChannelMetrics is GET /metrics/channel: the stored per-channel-per-day
// rollups over a date range.
func (h *Handler) ChannelMetrics(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	fromDate, toDate, err := parseDateRange(r, time.Now().UTC(), h.config.Export.DefaultDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}

	req := ChannelMetricsRequest{
		Namespace: r.URL.Query().Get("namespace"),
		Channel:   r.URL.Query().Get("channel"),
		FromDate:  fromDate,
		ToDate:    toDate,
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	cacheKey := cache.GenerateKey("channel_metrics", req)
	if cached, ok := h.cache.Get(cacheKey); ok {
		respondSuccess(w, cached, started)
		return
	}

	rows, err := h.db.ListChannelDayMetrics(r.Context(), req.Namespace, req.Channel, req.FromDate, req.ToDate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to read channel metrics", err)
		return
	}

	resp := &channelMetricsResponse{Metrics: rows}
	h.cache.Set(cacheKey, resp)
	respondSuccess(w, resp, started)
}

// UserMetrics is GET /metrics/user: the stored per-participant-per-day
// rollups over a date range.
func (h *Handler) UserMetrics(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	fromDate, toDate, err := parseDateRange(r, time.Now().UTC(), h.config.Export.DefaultDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}

	req := UserMetricsRequest{
		Namespace:   r.URL.Query().Get("namespace"),
		Participant: r.URL.Query().Get("participant"),
		FromDate:    fromDate,
		ToDate:      toDate,
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	cacheKey := cache.GenerateKey("user_metrics", req)
	if cached, ok := h.cache.Get(cacheKey); ok {
		respondSuccess(w, cached, started)
		return
	}

	rows, err := h.db.ListUserDayMetrics(r.Context(), req.Namespace, req.Participant, req.FromDate, req.ToDate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to read user metrics", err)
		return
	}

	resp := &userMetricsResponse{Metrics: rows}
	h.cache.Set(cacheKey, resp)
	respondSuccess(w, resp, started)
}
