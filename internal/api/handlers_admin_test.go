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

func TestRecompute_RebuildsPartitions(t *testing.T) {
	env := setupTestEnv(t)
	day := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	env.seedSession(t, "acme", "lobby", "u1", day, 30*time.Minute, 1)

	body := `{"namespace":"acme","from":"2026-08-10T00:00:00Z","to":"2026-08-10T00:00:00Z"}`
	rec := env.doRequest(t, http.MethodPost, "/api/v1/admin/recompute", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if days, _ := data["days"].(float64); days != 1 {
		t.Errorf("days = %v, want 1", data["days"])
	}
	if partitions, _ := data["partitions"].(float64); partitions < 2 {
		t.Errorf("partitions = %v, want at least 2 (channel day + user day)", data["partitions"])
	}

	// The rebuild materialized the channel day row.
	metricsRec := env.doRequest(t, http.MethodGet,
		"/api/v1/metrics/channel?namespace=acme&channel=lobby&from=2026-08-10&to=2026-08-10", "")
	metricsResp := decodeEnvelope(t, metricsRec)
	rows := metricsResp.Data.(map[string]interface{})["metrics"].([]interface{})
	if len(rows) != 1 {
		t.Errorf("metrics rows after rebuild = %d, want 1", len(rows))
	}
}

func TestRecompute_ValidatesBody(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{`},
		{"missing namespace", `{"from":"2026-08-10T00:00:00Z","to":"2026-08-10T00:00:00Z"}`},
		{"missing range", `{"namespace":"acme"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doRequest(t, http.MethodPost, "/api/v1/admin/recompute", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestDedupStats_ReportsCacheState(t *testing.T) {
	env := setupTestEnv(t)

	env.doRequest(t, http.MethodPost,
		"/api/v1/namespaces/acme/events", notificationBody("ntc-stats", 103))

	rec := env.doRequest(t, http.MethodGet, "/api/v1/admin/dedup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "success" {
		t.Errorf("Status = %q, want success", resp.Status)
	}
}

func TestJournalStats_DisabledJournal(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/admin/journal", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
