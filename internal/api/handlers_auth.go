// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/auth"
)

// loginResponse is the POST /auth/login success payload.
type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login is POST /auth/login. Throttled attempts respond 429 with a
// Retry-After; invalid credentials respond 401 without detail about which
// half failed.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if h.auth == nil || !h.auth.Enabled() {
		respondError(w, http.StatusNotFound, codeNotFound,
			"authentication disabled", nil)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation,
			"unparseable request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	token, expiresAt, err := h.auth.Login(req.Username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrLoginThrottled):
			w.Header().Set("Retry-After", strconv.Itoa(int(auth.LoginWindow.Seconds())))
			respondError(w, http.StatusTooManyRequests, codeRateLimited,
				"too many login attempts", nil)
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, codeAuthentication,
				"invalid credentials", nil)
		default:
			respondError(w, http.StatusInternalServerError, codeInternal,
				"login failed", err)
		}
		return
	}

	respondSuccess(w, &loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	}, started)
}

// clientIP extracts the remote IP, already rewritten by the RealIP
// middleware when the request came through a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
