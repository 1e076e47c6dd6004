// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// RebuildRequest scopes a historical rebuild. ChannelName narrows the
// channel-day partitions; user-day partitions for affected participants are
// always recomputed in full across their channels.
type RebuildRequest struct {
	NamespaceID string    `json:"namespace" validate:"required"`
	ChannelName string    `json:"channel,omitempty"`
	From        time.Time `json:"from" validate:"required"`
	To          time.Time `json:"to" validate:"required"`
}

// RebuildResult reports what a rebuild run did. Failed partitions were
// logged and skipped; cancelled runs stop at a partition boundary, leaving
// every written partition complete.
type RebuildResult struct {
	Days       int  `json:"days"`
	Partitions int  `json:"partitions"`
	Failed     int  `json:"failed"`
	Cancelled  bool `json:"cancelled"`
}

type rebuildJob struct {
	scope PartitionScope
	key   string
	date  string
}

// Rebuild recomputes every metric partition in [From, To] (inclusive by UTC
// day). Days run sequentially; partitions within a day run with bounded
// parallelism. Cancellation is honored between partitions, and a failed
// partition never blocks the rest.
func (a *Aggregator) Rebuild(ctx context.Context, req RebuildRequest) (result *RebuildResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRecompute("rebuild", time.Since(start), 0, err)
	}()

	if req.NamespaceID == "" {
		return nil, fmt.Errorf("rebuild requires a namespace")
	}
	if req.To.Before(req.From) {
		return nil, fmt.Errorf("rebuild range end %v precedes start %v", req.To, req.From)
	}

	result = &RebuildResult{}
	for day := utcDay(req.From); !day.After(utcDay(req.To)); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			result.Cancelled = true
			return result, ctx.Err()
		}
		result.Days++

		date := models.MetricDate(day)
		jobs, jerr := a.discoverJobs(ctx, req, day)
		if jerr != nil {
			return result, jerr
		}
		ran, failed := a.runJobs(ctx, req.NamespaceID, date, jobs)
		result.Partitions += ran
		result.Failed += failed

		logging.Debug().
			Str("namespace", req.NamespaceID).
			Str("date", date).
			Int("partitions", len(jobs)).
			Int("failed", failed).
			Msg("Rebuild day complete")
	}

	if ctx.Err() != nil {
		result.Cancelled = true
		return result, ctx.Err()
	}
	logging.Info().
		Str("namespace", req.NamespaceID).
		Int("days", result.Days).
		Int("partitions", result.Partitions).
		Int("failed", result.Failed).
		Msg("Historical rebuild complete")
	return result, nil
}

// discoverJobs reads the day's sessions once to enumerate the channel and
// participant partitions that need recomputing.
func (a *Aggregator) discoverJobs(ctx context.Context, req RebuildRequest, day time.Time) ([]rebuildJob, error) {
	dayEnd := day.AddDate(0, 0, 1)
	sessions, err := a.store.ListSessionsOverlappingRange(ctx, req.NamespaceID, req.ChannelName, day, dayEnd, false)
	if err != nil {
		return nil, fmt.Errorf("failed to discover partitions for %s: %w", models.MetricDate(day), err)
	}

	channels := make(map[string]bool)
	participants := make(map[string]bool)
	for _, s := range sessions {
		channels[s.ChannelName] = true
		participants[s.ParticipantID] = true
	}

	date := models.MetricDate(day)
	jobs := make([]rebuildJob, 0, len(channels)+len(participants))
	for ch := range channels {
		jobs = append(jobs, rebuildJob{scope: ScopeChannelDay, key: ch, date: date})
	}
	for p := range participants {
		jobs = append(jobs, rebuildJob{scope: ScopeUserDay, key: p, date: date})
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].scope != jobs[j].scope {
			return jobs[i].scope < jobs[j].scope
		}
		return jobs[i].key < jobs[j].key
	})
	return jobs, nil
}

// runJobs executes one day's partition recomputes with bounded parallelism.
// Returns how many jobs ran and how many of those failed; cancellation stops
// launching new jobs but waits for in-flight ones.
func (a *Aggregator) runJobs(ctx context.Context, namespaceID, date string, jobs []rebuildJob) (ran, failed int) {
	sem := make(chan struct{}, a.parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ran++
		wg.Add(1)
		sem <- struct{}{}
		go func(j rebuildJob) {
			defer wg.Done()
			defer func() { <-sem }()

			var err error
			switch j.scope {
			case ScopeChannelDay:
				_, err = a.RecomputeChannelDay(ctx, namespaceID, j.key, j.date)
			case ScopeUserDay:
				_, err = a.RecomputeUserDay(ctx, namespaceID, j.key, j.date)
			}
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				logging.Error().
					Err(err).
					Str("scope", string(j.scope)).
					Str("key", j.key).
					Str("date", j.date).
					Msg("Rebuild partition failed")
			}
		}(job)
	}
	wg.Wait()
	return ran, failed
}
