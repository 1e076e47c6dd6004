// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"testing"
	"time"
)

func TestSessions_RequiresNamespace(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != codeValidation {
		t.Errorf("error = %+v, want code %s", resp.Error, codeValidation)
	}
}

func TestSessions_ListsSeededSessions(t *testing.T) {
	env := setupTestEnv(t)
	now := time.Now().UTC()
	env.seedSession(t, "acme", "lobby", "u1", now.Add(-time.Hour), 10*time.Minute, 1)
	env.seedSession(t, "acme", "lobby", "u2", now.Add(-30*time.Minute), 5*time.Minute, 1)
	env.seedSession(t, "other", "lobby", "u3", now.Add(-time.Hour), time.Minute, 1)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/sessions?namespace=acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if total, _ := data["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", data["total"])
	}
}

func TestSessions_FilterByParticipant(t *testing.T) {
	env := setupTestEnv(t)
	now := time.Now().UTC()
	env.seedSession(t, "acme", "lobby", "u1", now.Add(-time.Hour), 10*time.Minute, 1)
	env.seedSession(t, "acme", "lobby", "u2", now.Add(-30*time.Minute), 5*time.Minute, 1)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/sessions?namespace=acme&participant=u2", "")
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if total, _ := data["total"].(float64); total != 1 {
		t.Errorf("total = %v, want 1", data["total"])
	}
}

func TestSessions_PageSizeClamped(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/sessions?namespace=acme&limit=99999", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if limit, _ := data["limit"].(float64); int(limit) != env.cfg.API.MaxPageSize {
		t.Errorf("limit = %v, want %d", data["limit"], env.cfg.API.MaxPageSize)
	}
}

func TestChannels_ListsDistinctChannels(t *testing.T) {
	env := setupTestEnv(t)
	now := time.Now().UTC()
	env.seedSession(t, "acme", "lobby", "u1", now.Add(-time.Hour), 10*time.Minute, 1)
	env.seedSession(t, "acme", "lobby", "u2", now.Add(-45*time.Minute), 5*time.Minute, 1)
	env.seedSession(t, "acme", "town-hall", "u1", now.Add(-20*time.Minute), 5*time.Minute, 1)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/channels?namespace=acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if total, _ := data["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", data["total"])
	}
}
