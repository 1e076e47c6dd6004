// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package models

import (
	"time"
)

// RoleChange records one role transition inside an open session.
type RoleChange struct {
	At   time.Time `json:"at"`
	Role Role      `json:"role"`
}

// Session is the correlated unit of one participant's continuous presence in
// one channel instance.
//
// Invariant: for a given (ChannelInstanceID, ParticipantID) at most one open
// session exists at any instant. EndedAt, once set, is immutable except for
// the leave-after-destroy reconciliation path in internal/correlator, which
// is the only code permitted to mutate a closed session.
//
// ChannelInstanceID disambiguates successive create/destroy cycles of a
// channel name, since names are reused across instances.
type Session struct {
	ID                string            `json:"id" db:"id"`
	NamespaceID       string            `json:"namespace_id" db:"namespace_id"`
	ChannelName       string            `json:"channel_name" db:"channel_name"`
	ParticipantID     string            `json:"participant_id" db:"participant_id"`
	ChannelInstanceID string            `json:"channel_instance_id" db:"channel_instance_id"`
	StartedAt         time.Time         `json:"started_at" db:"started_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty" db:"ended_at"`
	IsClosed          bool              `json:"is_closed" db:"is_closed"`
	CommunicationMode CommunicationMode `json:"communication_mode" db:"communication_mode"`
	InitialRole       Role              `json:"initial_role" db:"initial_role"`
	FinalRole         Role              `json:"final_role" db:"final_role"`
	RoleChangeCount   int               `json:"role_change_count" db:"role_change_count"`
	RoleChanges       []RoleChange      `json:"role_changes,omitempty" db:"role_changes"`
	ExitReason        *int              `json:"exit_reason,omitempty" db:"exit_reason"`

	// ForcedClose marks a closure caused by channel teardown rather than a
	// genuine leave. Forced closures remain eligible for reconciliation when
	// the authoritative leave arrives late.
	ForcedClose bool `json:"forced_close" db:"forced_close"`

	// LeaveOnly marks an orphan record created from a leave with no
	// correlatable session. Leave-only records carry zero duration and are
	// excluded from duration metrics; they exist for reason-code tallies.
	LeaveOnly bool `json:"leave_only" db:"leave_only"`

	Platform      string    `json:"platform,omitempty" db:"platform"`
	Product       string    `json:"product,omitempty" db:"product"`
	LastClientSeq int64     `json:"last_client_seq,omitempty" db:"last_client_seq"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// DurationSeconds returns the session duration. Open sessions and leave-only
// records report zero.
func (s *Session) DurationSeconds() float64 {
	if s.EndedAt == nil || s.LeaveOnly {
		return 0
	}
	d := s.EndedAt.Sub(s.StartedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// EndOrNow returns EndedAt for closed sessions and the provided now for open
// ones, so live queries can treat open sessions as provisionally ended.
func (s *Session) EndOrNow(now time.Time) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return now
}

// RoleSegments splits the session lifetime at its role-change timestamps.
// Each segment carries the role active during it. The final segment ends at
// EndedAt, or at asOf for open sessions. Leave-only records produce no
// segments.
func (s *Session) RoleSegments(asOf time.Time) []RoleSegment {
	if s.LeaveOnly {
		return nil
	}
	end := s.EndOrNow(asOf)
	if !end.After(s.StartedAt) {
		return nil
	}

	segments := make([]RoleSegment, 0, len(s.RoleChanges)+1)
	cursor := s.StartedAt
	role := s.InitialRole
	for _, rc := range s.RoleChanges {
		at := rc.At
		if at.Before(cursor) {
			at = cursor
		}
		if at.After(end) {
			at = end
		}
		if at.After(cursor) {
			segments = append(segments, RoleSegment{Start: cursor, End: at, Role: role})
		}
		cursor = at
		role = rc.Role
	}
	if end.After(cursor) {
		segments = append(segments, RoleSegment{Start: cursor, End: end, Role: role})
	}
	return segments
}

// RoleSegment is one contiguous span of a session during which a single role
// was active.
type RoleSegment struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Role  Role      `json:"role"`
}

// Duration returns the segment length.
func (rs RoleSegment) Duration() time.Duration {
	return rs.End.Sub(rs.Start)
}

// SessionFilter narrows session queries. Zero values mean "no constraint".
type SessionFilter struct {
	NamespaceID   string     `json:"namespace_id,omitempty"`
	ChannelName   string     `json:"channel_name,omitempty"`
	ParticipantID string     `json:"participant_id,omitempty"`
	InstanceID    string     `json:"channel_instance_id,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`

	// Closed filters on closure state when non-nil.
	Closed *bool `json:"closed,omitempty"`

	// IncludeLeaveOnly keeps orphan leave records in results. Default false
	// because most consumers want duration-bearing sessions.
	IncludeLeaveOnly bool `json:"include_leave_only,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}
