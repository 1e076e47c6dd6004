// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package wal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
)

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Minute

// RetryLoop periodically re-hands stale pending entries to the sink. An
// entry is stale when it is at least one interval old and its backoff since
// the last failed attempt has elapsed; fresh entries are still in flight
// between admission and settlement and are left alone.
type RetryLoop struct {
	log      *Log
	sink     Sink
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	stopDone chan struct{}
}

// NewRetryLoop creates a retry loop ticking at interval.
func NewRetryLoop(log *Log, sink Sink, interval time.Duration) *RetryLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryLoop{log: log, sink: sink, interval: interval}
}

// Start begins the background loop. Calling Start on a running loop is a
// no-op; a Start racing a Stop waits for the stop to finish first.
func (r *RetryLoop) Start(ctx context.Context) {
	r.mu.Lock()
	for r.stopping {
		stopDone := r.stopDone
		r.mu.Unlock()
		<-stopDone
		r.mu.Lock()
	}
	if r.running {
		r.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.stopDone = make(chan struct{})
	done := r.stopDone
	r.mu.Unlock()

	go r.run(loopCtx, done)

	logging.Info().
		Dur("interval", r.interval).
		Msg("Journal retry loop started")
}

// Stop cancels the loop and waits for the goroutine to exit.
func (r *RetryLoop) Stop() {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.stopping = true
	stopDone := r.stopDone
	r.mu.Unlock()

	<-stopDone

	r.mu.Lock()
	r.stopping = false
	r.mu.Unlock()

	logging.Info().Msg("Journal retry loop stopped")
}

// IsRunning reports whether the loop is active.
func (r *RetryLoop) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetryLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep re-hands every stale pending entry once.
func (r *RetryLoop) sweep(ctx context.Context) {
	entries, err := r.log.Pending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Journal retry could not list pending entries")
		return
	}
	if len(entries) == 0 {
		return
	}

	now := time.Now()
	var handed, failed, dropped int
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !r.ready(entry, now) {
			continue
		}
		if !r.log.tryClaim(entry.ID) {
			continue
		}

		if entry.Attempts >= r.log.retryLimit {
			logging.Error().
				Uint64("journal_id", entry.ID).
				Int("attempts", entry.Attempts).
				Str("last_error", entry.LastError).
				Msg("Dropping journal entry past retry limit")
			if err := r.log.deleteEntry(entry.ID); err != nil {
				logging.Warn().
					Err(err).
					Uint64("journal_id", entry.ID).
					Msg("Failed to drop journal entry")
			}
			dropped++
			r.log.release(entry.ID)
			continue
		}

		if err := r.sink.HandleEntry(ctx, entry); err != nil {
			if markErr := r.log.MarkAttempt(entry.ID, err.Error()); markErr != nil {
				logging.Warn().
					Err(markErr).
					Uint64("journal_id", entry.ID).
					Msg("Failed to mark journal attempt")
			}
			metrics.RecordWALReplay(false)
			failed++
		} else {
			metrics.RecordWALReplay(true)
			handed++
		}
		r.log.release(entry.ID)
	}

	if handed > 0 || failed > 0 || dropped > 0 {
		logging.Info().
			Int("handed", handed).
			Int("failed", failed).
			Int("dropped", dropped).
			Msg("Journal retry sweep complete")
	}
}

// ready reports whether an entry is due for a re-handoff. Entries younger
// than one interval are presumed in flight; failed entries wait out their
// backoff.
func (r *RetryLoop) ready(entry *Entry, now time.Time) bool {
	if now.Sub(entry.CreatedAt) < r.interval {
		return false
	}
	if entry.LastAttemptAt.IsZero() {
		return true
	}
	return now.Sub(entry.LastAttemptAt) >= backoff(r.interval, entry.Attempts)
}

// backoff is base * 2^attempts capped at maxBackoff.
func backoff(base time.Duration, attempts int) time.Duration {
	if attempts > 50 {
		return maxBackoff
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if d < 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
