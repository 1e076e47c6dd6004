// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"net/http"
	"testing"
)

func TestHealthLive(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/health/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("HealthLive status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Status != "success" {
		t.Errorf("Status = %q, want success", resp.Status)
	}
}

func TestHealthReady_NoPipeline(t *testing.T) {
	env := setupTestEnv(t)

	// With no pipeline configured readiness depends only on the database.
	rec := env.doRequest(t, http.MethodGet, "/api/v1/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("HealthReady status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

type stoppedPipeline struct{}

func (stoppedPipeline) IsRunning() bool { return false }

func TestHealthReady_PipelineStopped(t *testing.T) {
	env := setupTestEnv(t)
	env.handler.pipe = stoppedPipeline{}

	rec := env.doRequest(t, http.MethodGet, "/api/v1/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("HealthReady status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_ReportsCounts(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Health status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeEnvelope(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data is %T, want object", resp.Data)
	}
	if data["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", data["status"])
	}
	if data["pipeline"] != "disabled" {
		t.Errorf("pipeline = %v, want disabled", data["pipeline"])
	}
}
