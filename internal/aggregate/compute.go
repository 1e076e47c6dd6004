// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package aggregate

import (
	"fmt"
	"time"

	"github.com/correlatus/correlatus/internal/models"
)

// dayWindow returns the UTC bounds [start, end) of a metric date.
func dayWindow(date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid metric date %q: %w", date, err)
	}
	return day, day.AddDate(0, 0, 1), nil
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// overlapSeconds returns the length of [start, end) ∩ [from, to) in seconds.
func overlapSeconds(start, end, from, to time.Time) float64 {
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}

// computeChannelDay rolls the qualifying sessions into one channel-day row.
// Minutes are clipped to the day and come only from closed sessions; open
// sessions count toward participants and session_count. Leave-only records
// never reach day metrics. Returns nil when nothing qualifies.
func computeChannelDay(namespaceID, channelName, date string, dayStart, dayEnd, computedAt time.Time, sessions []*models.Session) *models.ChannelDayMetric {
	m := &models.ChannelDayMetric{
		NamespaceID: namespaceID,
		ChannelName: channelName,
		Date:        date,
		ComputedAt:  computedAt,
	}
	participants := make(map[string]bool)
	for _, s := range sessions {
		if s.LeaveOnly {
			continue
		}
		m.SessionCount++
		participants[s.ParticipantID] = true
		if s.EndedAt == nil {
			continue
		}
		m.TotalMinutes += overlapSeconds(s.StartedAt, *s.EndedAt, dayStart, dayEnd) / 60
		host, audience := roleMinutes(s, dayStart, dayEnd)
		m.HostMinutes += host
		m.AudienceMinutes += audience
	}
	if m.SessionCount == 0 {
		return nil
	}
	m.UniqueParticipants = len(participants)
	return m
}

// computeUserDay rolls one participant's qualifying sessions across channels
// into one user-day row.
func computeUserDay(namespaceID, participantID, date string, dayStart, dayEnd, computedAt time.Time, sessions []*models.Session) *models.UserChannelDayMetric {
	m := &models.UserChannelDayMetric{
		NamespaceID:   namespaceID,
		ParticipantID: participantID,
		Date:          date,
		ComputedAt:    computedAt,
	}
	channels := make(map[string]bool)
	for _, s := range sessions {
		if s.LeaveOnly {
			continue
		}
		m.SessionCount++
		channels[s.ChannelName] = true
		if s.EndedAt == nil {
			continue
		}
		m.TotalMinutes += overlapSeconds(s.StartedAt, *s.EndedAt, dayStart, dayEnd) / 60
		host, audience := roleMinutes(s, dayStart, dayEnd)
		m.HostMinutes += host
		m.AudienceMinutes += audience
	}
	if m.SessionCount == 0 {
		return nil
	}
	m.ChannelsVisited = len(channels)
	return m
}

// roleMinutes splits a closed session's in-day minutes across its role
// segments.
func roleMinutes(s *models.Session, dayStart, dayEnd time.Time) (host, audience float64) {
	for _, seg := range s.RoleSegments(*s.EndedAt) {
		minutes := overlapSeconds(seg.Start, seg.End, dayStart, dayEnd) / 60
		if minutes == 0 {
			continue
		}
		if seg.Role == models.RoleHost {
			host += minutes
		} else {
			audience += minutes
		}
	}
	return host, audience
}
