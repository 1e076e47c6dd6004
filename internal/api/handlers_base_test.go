// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/correlatus/correlatus/internal/aggregate"
	"github.com/correlatus/correlatus/internal/auth"
	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/database"
	"github.com/correlatus/correlatus/internal/dedup"
	"github.com/correlatus/correlatus/internal/ingest"
	"github.com/correlatus/correlatus/internal/models"
)

// testDBSemaphore serializes DuckDB instance creation across this package's
// tests; concurrent CGO connection setup can hang under CI resource
// pressure.
var testDBSemaphore = make(chan struct{}, 1)

// testEnv bundles the handler with the collaborators tests poke directly.
type testEnv struct {
	handler *Handler
	db      *database.DB
	cfg     *config.Config
	server  http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		Dedup: config.DedupConfig{
			CacheSize:               128,
			CacheTTL:                time.Hour,
			StoreTimeout:            5 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Aggregator: config.AggregatorConfig{RebuildParallelism: 2},
		Auth:       config.AuthConfig{Enabled: false},
		API: config.APIConfig{
			DefaultPageSize: 100,
			MaxPageSize:     1000,
			CORSOrigins:     []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Export: config.ExportConfig{MaxDays: 31, DefaultDays: 7},
	}
}

// setupTestEnv builds a full handler over an in-memory database, with auth
// disabled, no journal, no pipeline, and no live feed.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	cfg := testConfig()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})

	gate := dedup.New(&cfg.Dedup, db)
	ingestSvc := ingest.New(gate, nil, nil)
	agg := aggregate.New(&cfg.Aggregator, db)

	authSvc, err := auth.NewService(&cfg.Auth)
	if err != nil {
		t.Fatalf("Failed to create auth service: %v", err)
	}
	t.Cleanup(authSvc.Stop)

	handler := NewHandler(db, ingestSvc, agg, gate, nil, authSvc, nil, nil, cfg)
	router := NewRouter(handler, authSvc, &cfg.API)

	return &testEnv{
		handler: handler,
		db:      db,
		cfg:     cfg,
		server:  router.Setup(),
	}
}

// doRequest runs one request through the full route tree.
func (env *testEnv) doRequest(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope unmarshals the response envelope.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return &resp
}

// seedSession inserts a closed session directly into the store.
func (env *testEnv) seedSession(t *testing.T, namespace, channel, participant string, startedAt time.Time, duration time.Duration, reason int) *models.Session {
	t.Helper()
	endedAt := startedAt.Add(duration)
	s := &models.Session{
		ID:                uuid.NewString(),
		NamespaceID:       namespace,
		ChannelName:       channel,
		ParticipantID:     participant,
		ChannelInstanceID: namespace + "_" + channel + "_1",
		StartedAt:         startedAt,
		EndedAt:           &endedAt,
		IsClosed:          true,
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleHost,
		FinalRole:         models.RoleHost,
		ExitReason:        &reason,
		Platform:          "android",
		Product:           "rtc",
	}
	if err := env.db.UpsertSession(context.Background(), s); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
	return s
}
