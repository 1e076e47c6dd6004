// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"time"

	"github.com/correlatus/correlatus/internal/models"
)

// sessionsResponse is the GET /sessions data payload.
type sessionsResponse struct {
	Sessions []*models.Session `json:"sessions"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// channelsResponse is the GET /channels data payload.
type channelsResponse struct {
	Channels []*models.ChannelSummary `json:"channels"`
	Total    int64                    `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// Sessions is GET /sessions: a filtered, paginated session listing.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := SessionsRequest{
		Namespace:   r.URL.Query().Get("namespace"),
		Channel:     r.URL.Query().Get("channel"),
		Participant: r.URL.Query().Get("participant"),
		Limit:       getIntParam(r, "limit", h.config.API.DefaultPageSize),
		Offset:      getIntParam(r, "offset", 0),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	from, to, err := parseTimeRange(r, time.Now().UTC(), h.config.Export.DefaultDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}

	filter := models.SessionFilter{
		NamespaceID:      req.Namespace,
		ChannelName:      req.Channel,
		ParticipantID:    req.Participant,
		From:             &from,
		To:               &to,
		Closed:           getBoolParam(r, "closed"),
		IncludeLeaveOnly: r.URL.Query().Get("include_leave_only") == "true",
		Limit:            clampPageSize(req.Limit, h.config.API.DefaultPageSize, h.config.API.MaxPageSize),
		Offset:           req.Offset,
	}

	sessions, total, err := h.db.ListSessions(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to list sessions", err)
		return
	}

	respondSuccess(w, &sessionsResponse{
		Sessions: sessions,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, started)
}

// Channels is GET /channels: distinct channels with session counts and
// activity range.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := ChannelsRequest{
		Namespace: r.URL.Query().Get("namespace"),
		Limit:     getIntParam(r, "limit", h.config.API.DefaultPageSize),
		Offset:    getIntParam(r, "offset", 0),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	limit := clampPageSize(req.Limit, h.config.API.DefaultPageSize, h.config.API.MaxPageSize)
	channels, total, err := h.db.ListChannels(r.Context(), req.Namespace, limit, req.Offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to list channels", err)
		return
	}

	respondSuccess(w, &channelsResponse{
		Channels: channels,
		Total:    total,
		Limit:    limit,
		Offset:   req.Offset,
	}, started)
}
