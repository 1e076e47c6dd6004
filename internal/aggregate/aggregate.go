// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// Store is the slice of persistence the aggregator needs. *database.DB
// satisfies it.
type Store interface {
	ListSessionsOverlappingRange(ctx context.Context, namespaceID, channelName string, from, to time.Time, includeLeaveOnly bool) ([]*models.Session, error)
	ListSessionsForParticipant(ctx context.Context, namespaceID, participantID string, from, to time.Time, includeLeaveOnly bool) ([]*models.Session, error)
	ReplaceChannelDayMetrics(ctx context.Context, namespaceID, channelName, date string, rows []*models.ChannelDayMetric) error
	ReplaceUserDayMetrics(ctx context.Context, namespaceID, participantID, date string, rows []*models.UserChannelDayMetric) error
}

// Aggregator recomputes channel-day and user-day metric partitions and
// builds concurrency series. All recomputes are full replacements of the
// affected partition.
type Aggregator struct {
	store       Store
	parallelism int
}

// New creates an aggregator. Parallelism bounds concurrent partitions
// during historical rebuilds only; single-partition recomputes are
// synchronous.
func New(cfg *config.AggregatorConfig, store Store) *Aggregator {
	parallelism := cfg.RebuildParallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Aggregator{store: store, parallelism: parallelism}
}

// RecomputeChannelDay rebuilds one (namespace, channel, date) partition.
// Returns the new metric row, or nil when no qualifying sessions remain and
// the partition was cleared.
func (a *Aggregator) RecomputeChannelDay(ctx context.Context, namespaceID, channelName, date string) (metric *models.ChannelDayMetric, err error) {
	start := time.Now()
	defer func() {
		rows := 0
		if metric != nil {
			rows = 1
		}
		metrics.RecordRecompute("channel_day", time.Since(start), rows, err)
	}()

	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	sessions, err := a.store.ListSessionsOverlappingRange(ctx, namespaceID, channelName, dayStart, dayEnd, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions for %s/%s on %s: %w", namespaceID, channelName, date, err)
	}

	metric = computeChannelDay(namespaceID, channelName, date, dayStart, dayEnd, time.Now().UTC(), sessions)
	var rows []*models.ChannelDayMetric
	if metric != nil {
		rows = append(rows, metric)
	}
	if err = a.store.ReplaceChannelDayMetrics(ctx, namespaceID, channelName, date, rows); err != nil {
		return nil, fmt.Errorf("failed to replace channel day metric: %w", err)
	}

	logging.Debug().
		Str("namespace", namespaceID).
		Str("channel", channelName).
		Str("date", date).
		Int("sessions", len(sessions)).
		Msg("Channel day metric recomputed")
	return metric, nil
}

// RecomputeUserDay rebuilds one (namespace, participant, date) partition
// across all channels the participant touched that day.
func (a *Aggregator) RecomputeUserDay(ctx context.Context, namespaceID, participantID, date string) (metric *models.UserChannelDayMetric, err error) {
	start := time.Now()
	defer func() {
		rows := 0
		if metric != nil {
			rows = 1
		}
		metrics.RecordRecompute("user_day", time.Since(start), rows, err)
	}()

	dayStart, dayEnd, err := dayWindow(date)
	if err != nil {
		return nil, err
	}

	sessions, err := a.store.ListSessionsForParticipant(ctx, namespaceID, participantID, dayStart, dayEnd, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions for participant %s on %s: %w", participantID, date, err)
	}

	metric = computeUserDay(namespaceID, participantID, date, dayStart, dayEnd, time.Now().UTC(), sessions)
	var rows []*models.UserChannelDayMetric
	if metric != nil {
		rows = append(rows, metric)
	}
	if err = a.store.ReplaceUserDayMetrics(ctx, namespaceID, participantID, date, rows); err != nil {
		return nil, fmt.Errorf("failed to replace user day metric: %w", err)
	}
	return metric, nil
}

// ConcurrencySeries builds the concurrent-participants step series for a
// channel over [from, to). Open sessions end provisionally at the time of
// the call.
func (a *Aggregator) ConcurrencySeries(ctx context.Context, namespaceID, channelName string, from, to time.Time) (*models.ConcurrencySeries, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("invalid concurrency range: %v is not after %v", to, from)
	}
	sessions, err := a.store.ListSessionsOverlappingRange(ctx, namespaceID, channelName, from, to, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions for concurrency series: %w", err)
	}
	return buildConcurrencySeries(namespaceID, channelName, from, to, time.Now().UTC(), sessions), nil
}

// PartitionScope names which metric table a partition belongs to.
type PartitionScope string

// Partition scopes.
const (
	ScopeChannelDay PartitionScope = "channel_day"
	ScopeUserDay    PartitionScope = "user_day"
)

// Partition identifies one metric partition to recompute. Channel is set
// for channel-day scope, Participant for user-day scope. Serialized onto
// the metrics.refreshed topic and into the live feed.
type Partition struct {
	Scope       PartitionScope `json:"scope"`
	NamespaceID string         `json:"namespace_id"`
	Channel     string         `json:"channel,omitempty"`
	Participant string         `json:"participant,omitempty"`
	Date        string         `json:"date"`
}

// AffectedPartitions derives the metric partitions invalidated by a set of
// changed sessions: every (channel, date) and (participant, date) the
// sessions touch. Output is deduplicated and deterministically ordered.
func AffectedPartitions(sessions []*models.Session) []Partition {
	seen := make(map[Partition]bool)
	var out []Partition
	add := func(p Partition) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, s := range sessions {
		if s == nil {
			continue
		}
		last := s.StartedAt
		if s.EndedAt != nil && s.EndedAt.After(last) {
			last = *s.EndedAt
		}
		for d := utcDay(s.StartedAt); !d.After(utcDay(last)); d = d.AddDate(0, 0, 1) {
			date := models.MetricDate(d)
			add(Partition{Scope: ScopeChannelDay, NamespaceID: s.NamespaceID, Channel: s.ChannelName, Date: date})
			add(Partition{Scope: ScopeUserDay, NamespaceID: s.NamespaceID, Participant: s.ParticipantID, Date: date})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.NamespaceID != b.NamespaceID {
			return a.NamespaceID < b.NamespaceID
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		if a.Participant != b.Participant {
			return a.Participant < b.Participant
		}
		return a.Date < b.Date
	})
	return out
}

// RecomputeForSessions recomputes every partition the changed sessions
// touch. A failing partition is logged and counted but does not stop the
// others; the first failure is returned after all partitions ran.
func (a *Aggregator) RecomputeForSessions(ctx context.Context, sessions []*models.Session) error {
	var firstErr error
	failed := 0
	for _, p := range AffectedPartitions(sessions) {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch p.Scope {
		case ScopeChannelDay:
			_, err = a.RecomputeChannelDay(ctx, p.NamespaceID, p.Channel, p.Date)
		case ScopeUserDay:
			_, err = a.RecomputeUserDay(ctx, p.NamespaceID, p.Participant, p.Date)
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			logging.Error().
				Err(err).
				Str("scope", string(p.Scope)).
				Str("date", p.Date).
				Msg("Partition recompute failed")
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d partition recompute(s) failed: %w", failed, firstErr)
	}
	return nil
}
