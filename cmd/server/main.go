// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

// Command server runs the Correlatus analytics server.
//
// The server ingests RTC event notifications over HTTP, deduplicates them,
// correlates join/leave pairs into sessions, rolls sessions up into daily
// metric partitions, and serves the query API. Long-running components run
// under a supervision tree: journal workers in the data layer, the event
// pipeline and WebSocket hub in the messaging layer, and the HTTP server in
// the API layer.
//
// Configuration is read from config.yaml and CORRELATUS_* environment
// variables; see internal/config for the full key list.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/correlatus/correlatus/internal/aggregate"
	"github.com/correlatus/correlatus/internal/api"
	"github.com/correlatus/correlatus/internal/auth"
	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/correlator"
	"github.com/correlatus/correlatus/internal/database"
	"github.com/correlatus/correlatus/internal/dedup"
	"github.com/correlatus/correlatus/internal/ingest"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/pipeline"
	"github.com/correlatus/correlatus/internal/supervisor"
	"github.com/correlatus/correlatus/internal/supervisor/services"
	"github.com/correlatus/correlatus/internal/wal"
	ws "github.com/correlatus/correlatus/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("transport", cfg.Pipeline.Transport).
		Bool("wal", cfg.WAL.Enabled).
		Bool("auth", cfg.Auth.Enabled).
		Msg("Starting Correlatus")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	gate := dedup.New(&cfg.Dedup, db)
	corr := correlator.New(&cfg.Correlator, db)
	agg := aggregate.New(&cfg.Aggregator, db)

	// The journal is optional; every consumer takes it through an
	// interface, so a disabled journal must stay a nil interface value,
	// not a typed nil pointer.
	var journal *wal.Log
	if cfg.WAL.Enabled {
		journal, err = wal.Open(&cfg.WAL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open write-ahead journal")
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing journal")
			}
		}()
	}

	var pipeJournal pipeline.Journal
	var ingestJournal ingest.Journal
	if journal != nil {
		pipeJournal = journal
		ingestJournal = journal
	}

	var pipeAgg pipeline.Aggregator
	if cfg.Aggregator.RecomputeAsync {
		pipeAgg = agg
	}

	pipe, err := pipeline.New(&cfg.Pipeline, &cfg.NATS, corr, pipeAgg, gate, pipeJournal)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build event pipeline")
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pipeline")
		}
	}()

	wsHub := ws.NewHub()
	if err := ws.NewBridge(wsHub).Attach(pipe); err != nil {
		logging.Fatal().Err(err).Msg("Failed to attach websocket bridge")
	}

	authSvc, err := auth.NewService(&cfg.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}
	defer authSvc.Stop()

	ingestSvc := ingest.New(gate, ingestJournal, pipe)

	handler := api.NewHandler(db, ingestSvc, agg, gate, journal, authSvc, pipe, wsHub, cfg)
	router := api.NewRouter(handler, authSvc, &cfg.API)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if journal != nil {
		retry := wal.NewRetryLoop(journal, pipe, cfg.WAL.RetryInterval)
		compactor := wal.NewCompactor(journal, cfg.WAL.CompactionInterval)
		tree.AddDataService(services.NewJournalRetryService(retry))
		tree.AddDataService(services.NewJournalCompactionService(compactor))
	}

	tree.AddMessagingService(services.NewPipelineService(pipe))
	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	// Entries admitted by a previous run are replayed once the router is
	// consuming, so crash-interrupted correlations land before new traffic.
	if journal != nil {
		go func() {
			select {
			case <-pipe.Running():
			case <-ctx.Done():
				return
			}
			result, err := journal.ReplayPending(ctx, pipe)
			if err != nil {
				logging.Error().Err(err).Msg("Journal replay failed")
				return
			}
			if result.TotalPending > 0 {
				logging.Info().
					Int("pending", result.TotalPending).
					Int("replayed", result.Replayed).
					Int("failed", result.Failed).
					Int("dropped", result.Dropped).
					Dur("duration", result.Duration).
					Msg("Journal replay complete")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped")
}
