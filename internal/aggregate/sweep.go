// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package aggregate

import (
	"sort"
	"time"

	"github.com/correlatus/correlatus/internal/models"
)

// buildConcurrencySeries runs an interval counting sweep over the sessions:
// sort every session start and end inside [from, to), then walk them with a
// running counter. Boundaries sharing a timestamp are netted into a single
// point, so a session ending exactly when another starts produces no spike.
// Open sessions end provisionally at now. O(n log n) in session count.
func buildConcurrencySeries(namespaceID, channelName string, from, to, now time.Time, sessions []*models.Session) *models.ConcurrencySeries {
	type boundary struct {
		at    time.Time
		delta int
	}
	bounds := make([]boundary, 0, len(sessions)*2)
	for _, s := range sessions {
		if s.LeaveOnly {
			continue
		}
		start := s.StartedAt
		end := s.EndOrNow(now)
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if !end.After(start) {
			continue
		}
		bounds = append(bounds, boundary{at: start, delta: 1}, boundary{at: end, delta: -1})
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].at.Before(bounds[j].at) })

	series := &models.ConcurrencySeries{
		NamespaceID: namespaceID,
		ChannelName: channelName,
		From:        from,
		To:          to,
	}
	count := 0
	for i := 0; i < len(bounds); {
		j := i
		net := 0
		for j < len(bounds) && bounds[j].at.Equal(bounds[i].at) {
			net += bounds[j].delta
			j++
		}
		if net != 0 {
			count += net
			series.Points = append(series.Points, models.ConcurrencyPoint{At: bounds[i].at, Count: count})
			if count > series.Peak {
				series.Peak = count
			}
		}
		i = j
	}
	return series
}
