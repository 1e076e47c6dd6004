// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package wal

import (
	"context"
	"fmt"
	"time"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
)

// Sink receives journal entries for correlation. The sink owns settlement:
// a successful handle either commits the entry itself (startup replay
// correlates inline) or hands it to the pipeline, which commits once the
// correlation lands.
type Sink interface {
	HandleEntry(ctx context.Context, entry *Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, entry *Entry) error

// HandleEntry implements Sink.
func (f SinkFunc) HandleEntry(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	TotalPending int
	Replayed     int
	Failed       int
	Dropped      int
	Duration     time.Duration
}

// ReplayPending hands every pending entry to the sink in admission order.
// Called at startup before the HTTP surface opens, so events admitted by a
// previous run are correlated before new traffic arrives. Safe to call
// repeatedly. Entries past the retry limit are dropped with an error logged;
// a failing sink marks the attempt and leaves the entry for the retry loop.
func (l *Log) ReplayPending(ctx context.Context, sink Sink) (*ReplayResult, error) {
	if sink == nil {
		return nil, fmt.Errorf("wal: sink cannot be nil")
	}

	start := time.Now()
	result := &ReplayResult{}

	entries, err := l.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pending entries: %w", err)
	}
	result.TotalPending = len(entries)
	if result.TotalPending == 0 {
		logging.Info().Msg("Journal replay found nothing pending")
		result.Duration = time.Since(start)
		return result, nil
	}

	logging.Info().
		Int("pending", result.TotalPending).
		Msg("Replaying pending journal entries")

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		if !l.tryClaim(entry.ID) {
			continue
		}

		if entry.Attempts >= l.retryLimit {
			logging.Error().
				Uint64("journal_id", entry.ID).
				Int("attempts", entry.Attempts).
				Str("last_error", entry.LastError).
				Msg("Dropping journal entry past retry limit")
			if err := l.deleteEntry(entry.ID); err != nil {
				logging.Warn().
					Err(err).
					Uint64("journal_id", entry.ID).
					Msg("Failed to drop journal entry")
			}
			result.Dropped++
			l.release(entry.ID)
			continue
		}

		if err := sink.HandleEntry(ctx, entry); err != nil {
			logging.Warn().
				Err(err).
				Uint64("journal_id", entry.ID).
				Msg("Journal replay handoff failed")
			if markErr := l.MarkAttempt(entry.ID, err.Error()); markErr != nil {
				logging.Warn().
					Err(markErr).
					Uint64("journal_id", entry.ID).
					Msg("Failed to mark journal attempt")
			}
			metrics.RecordWALReplay(false)
			result.Failed++
		} else {
			metrics.RecordWALReplay(true)
			result.Replayed++
		}
		l.release(entry.ID)
	}

	result.Duration = time.Since(start)
	logging.Info().
		Int("replayed", result.Replayed).
		Int("failed", result.Failed).
		Int("dropped", result.Dropped).
		Dur("duration", result.Duration).
		Msg("Journal replay complete")
	return result, nil
}
