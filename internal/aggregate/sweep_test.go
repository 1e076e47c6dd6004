// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/correlatus/correlatus/internal/models"
)

func sweepSession(participant string, start time.Time, dur time.Duration) *models.Session {
	return closedSession("lobby", participant, start, dur, models.RoleAudience)
}

func TestBuildConcurrencySeries_StepFunction(t *testing.T) {
	from := aggBase
	to := aggBase.Add(time.Minute)
	now := to
	sessions := []*models.Session{
		sweepSession("alice", aggBase, 10*time.Second),
		sweepSession("bob", aggBase.Add(5*time.Second), 10*time.Second),
	}

	series := buildConcurrencySeries("ns-test", "lobby", from, to, now, sessions)

	if len(series.Points) != 4 {
		t.Fatalf("points = %d, want 4", len(series.Points))
	}
	wantCounts := []int{1, 2, 1, 0}
	wantOffsets := []time.Duration{0, 5 * time.Second, 10 * time.Second, 15 * time.Second}
	for i, p := range series.Points {
		if p.Count != wantCounts[i] {
			t.Errorf("point[%d] count = %d, want %d", i, p.Count, wantCounts[i])
		}
		if !p.At.Equal(aggBase.Add(wantOffsets[i])) {
			t.Errorf("point[%d] at = %v, want %v", i, p.At, aggBase.Add(wantOffsets[i]))
		}
	}
	if series.Peak != 2 {
		t.Errorf("peak = %d, want 2", series.Peak)
	}

	probes := map[time.Duration]int{
		2 * time.Second:  1,
		7 * time.Second:  2,
		12 * time.Second: 1,
		16 * time.Second: 0,
	}
	for offset, want := range probes {
		if got := series.ValueAt(aggBase.Add(offset)); got != want {
			t.Errorf("ValueAt(+%v) = %d, want %d", offset, got, want)
		}
	}
	if got := series.ValueAt(aggBase.Add(-time.Second)); got != 0 {
		t.Errorf("ValueAt before first point = %d, want 0", got)
	}
}

func TestBuildConcurrencySeries_SharedBoundaryDoesNotSpike(t *testing.T) {
	from := aggBase
	to := aggBase.Add(time.Minute)
	sessions := []*models.Session{
		sweepSession("alice", aggBase, 10*time.Second),
		sweepSession("bob", aggBase.Add(10*time.Second), 10*time.Second),
	}

	series := buildConcurrencySeries("ns-test", "lobby", from, to, to, sessions)

	// alice's end and bob's start share a timestamp and net to zero.
	if len(series.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(series.Points))
	}
	if series.Points[0].Count != 1 || !series.Points[0].At.Equal(aggBase) {
		t.Errorf("point[0] = %+v, want count 1 at start", series.Points[0])
	}
	if series.Points[1].Count != 0 || !series.Points[1].At.Equal(aggBase.Add(20*time.Second)) {
		t.Errorf("point[1] = %+v, want count 0 at +20s", series.Points[1])
	}
	if got := series.ValueAt(aggBase.Add(10 * time.Second)); got != 1 {
		t.Errorf("ValueAt(+10s) = %d, want 1 across the handoff", got)
	}
	if series.Peak != 1 {
		t.Errorf("peak = %d, want 1", series.Peak)
	}
}

func TestBuildConcurrencySeries_OpenSessionEndsAtNow(t *testing.T) {
	from := aggBase
	to := aggBase.Add(time.Minute)
	now := aggBase.Add(12 * time.Second)
	open := openSession("lobby", "alice", aggBase, models.RoleAudience)

	series := buildConcurrencySeries("ns-test", "lobby", from, to, now, []*models.Session{open})

	if len(series.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(series.Points))
	}
	if !series.Points[1].At.Equal(now) || series.Points[1].Count != 0 {
		t.Errorf("point[1] = %+v, want count 0 at now", series.Points[1])
	}
}

func TestBuildConcurrencySeries_ClampsToRange(t *testing.T) {
	from := aggBase
	to := aggBase.Add(time.Minute)
	straddle := sweepSession("alice", aggBase.Add(-10*time.Second), 80*time.Second)

	series := buildConcurrencySeries("ns-test", "lobby", from, to, to, []*models.Session{straddle})

	if len(series.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(series.Points))
	}
	if !series.Points[0].At.Equal(from) {
		t.Errorf("first point at %v, want range start", series.Points[0].At)
	}
	if !series.Points[1].At.Equal(to) {
		t.Errorf("last point at %v, want range end", series.Points[1].At)
	}
	if series.Peak != 1 {
		t.Errorf("peak = %d, want 1", series.Peak)
	}
}

func TestBuildConcurrencySeries_SkipsLeaveOnly(t *testing.T) {
	leaveOnly := sweepSession("ghost", aggBase, 10*time.Second)
	leaveOnly.LeaveOnly = true

	series := buildConcurrencySeries("ns-test", "lobby", aggBase, aggBase.Add(time.Minute), aggBase.Add(time.Minute),
		[]*models.Session{leaveOnly})

	if len(series.Points) != 0 {
		t.Errorf("points = %d, want 0", len(series.Points))
	}
	if series.Peak != 0 {
		t.Errorf("peak = %d, want 0", series.Peak)
	}
}

func TestConcurrencySeries_RejectsEmptyRange(t *testing.T) {
	a := newTestAggregator(newFakeMetricStore())
	if _, err := a.ConcurrencySeries(context.Background(), "ns-test", "lobby", aggBase, aggBase); err == nil {
		t.Error("expected error for empty range")
	}
}
