// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/correlatus/correlatus/internal/ingest"
	"github.com/correlatus/correlatus/internal/logging"
)

// IngestEvent is POST /namespaces/{namespace}/events: the notification
// webhook. Responses follow the ingestion contract: 200 accepted, 200
// duplicate (idempotent success), 400 malformed, 503 storage unavailable
// (the source should redeliver).
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	namespace := chi.URLParam(r, "namespace")
	if namespace == "" {
		respondError(w, http.StatusBadRequest, codeMalformed,
			"missing namespace", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBytesReader surfaces oversized bodies as a read error.
		respondError(w, http.StatusBadRequest, codeMalformed,
			"unreadable or oversized request body", err)
		return
	}

	result, err := h.ingest.Submit(r.Context(), namespace, body)
	if err != nil {
		if ingest.IsMalformed(err) {
			respondError(w, http.StatusBadRequest, codeMalformed, err.Error(), nil)
			return
		}
		if errors.Is(err, ingest.ErrStorageUnavailable) {
			respondError(w, http.StatusServiceUnavailable, codeStorageUnavailable,
				"event store unavailable, retry delivery", err)
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal,
			"event admission failed", err)
		return
	}

	if result == ingest.ResultDuplicate {
		logging.Debug().Str("namespace", sanitizeLogValue(namespace)).Msg("duplicate notification")
	}
	respondSuccess(w, map[string]string{"status": string(result)}, started)
}
