// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package quality

import (
	"sort"

	"github.com/correlatus/correlatus/internal/models"
)

// reconnection aggregates the per-participant classifications across a
// session set: the worst pattern observed plus the total rapid and burst gap
// counts that feed the pattern penalties.
type reconnection struct {
	Worst  models.ReconnectionPattern
	Rapids int
	Bursts int
}

// classifyReconnections groups closed sessions by (channel instance,
// participant), orders each group by start time, and classifies the gaps
// between one session's end and the next session's start. Leave-only and
// still-open records carry no witnessed presence interval and are skipped.
func classifyReconnections(sessions []*models.Session) reconnection {
	type groupKey struct {
		instanceID    string
		participantID string
	}
	groups := make(map[groupKey][]*models.Session)
	for _, s := range sessions {
		if !s.IsClosed || s.LeaveOnly || s.EndedAt == nil {
			continue
		}
		k := groupKey{s.ChannelInstanceID, s.ParticipantID}
		groups[k] = append(groups[k], s)
	}

	agg := reconnection{Worst: models.PatternNoReconnection}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].StartedAt.Equal(group[j].StartedAt) {
				return group[i].StartedAt.Before(group[j].StartedAt)
			}
			return group[i].ID < group[j].ID
		})

		bursts, rapids := 0, 0
		for i := 1; i < len(group); i++ {
			gap := group[i].StartedAt.Sub(*group[i-1].EndedAt)
			switch {
			case gap <= burstGap:
				bursts++
			case gap <= rapidGap:
				rapids++
			}
		}

		pattern := classifyParticipant(len(group), bursts, rapids)
		if patternSeverity(pattern) > patternSeverity(agg.Worst) {
			agg.Worst = pattern
		}
		agg.Bursts += bursts
		agg.Rapids += rapids
	}
	return agg
}

// classifyParticipant labels one participant's rejoin behavior. A burst gap
// sits under both thresholds, so it counts twice toward the unstable cutoff
// of three threshold hits; a rapid gap counts once. One burst plus one rapid
// therefore reads as unstable.
func classifyParticipant(sessionCount, bursts, rapids int) models.ReconnectionPattern {
	if sessionCount <= 1 {
		return models.PatternNoReconnection
	}
	hits := 2*bursts + rapids
	switch {
	case hits >= 3:
		return models.PatternUnstable
	case hits >= 1:
		return models.PatternModerate
	default:
		return models.PatternStable
	}
}

func patternSeverity(p models.ReconnectionPattern) int {
	switch p {
	case models.PatternUnstable:
		return 3
	case models.PatternModerate:
		return 2
	case models.PatternStable:
		return 1
	default:
		return 0
	}
}
