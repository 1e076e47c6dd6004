// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package models

import (
	"time"
)

// ChannelDayMetric is the per-channel per-day rollup. Derived, always
// recomputed from the qualifying session set; never hand-edited.
//
// Minutes are clipped to the day boundary: a session spanning midnight
// contributes only its in-day portion to each day's row.
type ChannelDayMetric struct {
	NamespaceID        string    `json:"namespace_id" db:"namespace_id"`
	ChannelName        string    `json:"channel_name" db:"channel_name"`
	Date               string    `json:"date" db:"date"`
	TotalMinutes       float64   `json:"total_minutes" db:"total_minutes"`
	UniqueParticipants int       `json:"unique_participants" db:"unique_participants"`
	SessionCount       int       `json:"session_count" db:"session_count"`
	HostMinutes        float64   `json:"host_minutes" db:"host_minutes"`
	AudienceMinutes    float64   `json:"audience_minutes" db:"audience_minutes"`
	ComputedAt         time.Time `json:"computed_at" db:"computed_at"`
}

// UserChannelDayMetric is the per-participant per-day rollup across channels.
type UserChannelDayMetric struct {
	NamespaceID     string    `json:"namespace_id" db:"namespace_id"`
	ParticipantID   string    `json:"participant_id" db:"participant_id"`
	Date            string    `json:"date" db:"date"`
	TotalMinutes    float64   `json:"total_minutes" db:"total_minutes"`
	ChannelsVisited int       `json:"channels_visited" db:"channels_visited"`
	SessionCount    int       `json:"session_count" db:"session_count"`
	HostMinutes     float64   `json:"host_minutes" db:"host_minutes"`
	AudienceMinutes float64   `json:"audience_minutes" db:"audience_minutes"`
	ComputedAt      time.Time `json:"computed_at" db:"computed_at"`
}

// ConcurrencyPoint is one step in the concurrent-participants series. The
// count holds from At until the next point's At.
type ConcurrencyPoint struct {
	At    time.Time `json:"at"`
	Count int       `json:"count"`
}

// ConcurrencySeries is the step function produced by the interval sweep,
// plus its peak for convenience.
type ConcurrencySeries struct {
	NamespaceID string             `json:"namespace_id"`
	ChannelName string             `json:"channel_name"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	Points      []ConcurrencyPoint `json:"points"`
	Peak        int                `json:"peak"`
}

// ValueAt evaluates the step function at t: the count of the latest point at
// or before t, zero before the first point.
func (s *ConcurrencySeries) ValueAt(t time.Time) int {
	count := 0
	for _, p := range s.Points {
		if p.At.After(t) {
			break
		}
		count = p.Count
	}
	return count
}

// ChannelSummary is one row of the paginated channel listing: a channel name
// with its activity envelope across instances.
type ChannelSummary struct {
	NamespaceID   string     `json:"namespace_id" db:"namespace_id"`
	ChannelName   string     `json:"channel_name" db:"channel_name"`
	SessionCount  int        `json:"session_count" db:"session_count"`
	InstanceCount int        `json:"instance_count" db:"instance_count"`
	FirstActivity time.Time  `json:"first_activity" db:"first_activity"`
	LastActivity  time.Time  `json:"last_activity" db:"last_activity"`
	OpenSessions  int        `json:"open_sessions" db:"open_sessions"`
	LastClosedAt  *time.Time `json:"last_closed_at,omitempty" db:"last_closed_at"`
}

// MetricDate formats a time as the canonical metric partition date (UTC).
func MetricDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
