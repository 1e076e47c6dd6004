// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package models

// ReconnectionPattern classifies one participant's rejoin behavior within a
// channel instance, derived from the gaps between consecutive sessions.
type ReconnectionPattern string

// Reconnection pattern labels, in descending severity.
const (
	PatternUnstable       ReconnectionPattern = "unstable"
	PatternModerate       ReconnectionPattern = "moderate"
	PatternStable         ReconnectionPattern = "stable"
	PatternNoReconnection ReconnectionPattern = "no_reconnection"
)

// QualityReport is the output of the quality scorer over a session set. It is
// computed on demand and not persisted as a primary entity.
type QualityReport struct {
	NamespaceID string `json:"namespace_id"`

	// Scope is the channel name or participant id the report was computed
	// for, matching the query that produced it.
	Scope string `json:"scope"`

	Score           int `json:"score"`
	SessionCount    int `json:"session_count"`
	ClosedSessions  int `json:"closed_sessions"`
	FailedCallCount int `json:"failed_call_count"`
	ChurnEventCount int `json:"churn_event_count"`

	// ReasonHistogram counts exits per reason code over the session set.
	ReasonHistogram map[int]int `json:"reason_histogram"`

	// ReconnectionPattern is the worst pattern observed across participants.
	ReconnectionPattern ReconnectionPattern `json:"reconnection_pattern"`

	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	// Insights are human-readable findings derived from the penalties that
	// actually fired, ordered by severity.
	Insights []string `json:"insights"`
}
