// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package wal

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Table(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{8, 256 * time.Second},
		{10, maxBackoff},
		{60, maxBackoff},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, tt.attempts); got != tt.want {
			t.Errorf("backoff(1s, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestReady_AgeFloorAndBackoff(t *testing.T) {
	r := &RetryLoop{interval: time.Minute}
	now := time.Unix(1700000000, 0).UTC()

	fresh := &Entry{CreatedAt: now.Add(-10 * time.Second)}
	if r.ready(fresh, now) {
		t.Error("entry younger than the interval reported ready")
	}

	idle := &Entry{CreatedAt: now.Add(-2 * time.Minute)}
	if !r.ready(idle, now) {
		t.Error("stale entry with no attempts not ready")
	}

	backingOff := &Entry{
		CreatedAt:     now.Add(-10 * time.Minute),
		Attempts:      1,
		LastAttemptAt: now.Add(-30 * time.Second),
	}
	if r.ready(backingOff, now) {
		t.Error("entry inside its backoff window reported ready")
	}

	dueAgain := &Entry{
		CreatedAt:     now.Add(-10 * time.Minute),
		Attempts:      1,
		LastAttemptAt: now.Add(-3 * time.Minute),
	}
	if !r.ready(dueAgain, now) {
		t.Error("entry past its backoff window not ready")
	}
}

func TestRetryLoop_StartStop(t *testing.T) {
	log := openTestLog(t)
	loop := NewRetryLoop(log, SinkFunc(func(context.Context, *Entry) error { return nil }), time.Hour)

	loop.Start(context.Background())
	if !loop.IsRunning() {
		t.Fatal("loop not running after Start")
	}
	loop.Start(context.Background())

	loop.Stop()
	if loop.IsRunning() {
		t.Fatal("loop still running after Stop")
	}
	loop.Stop()

	loop.Start(context.Background())
	if !loop.IsRunning() {
		t.Fatal("loop did not restart")
	}
	loop.Stop()
}

func TestRetryLoop_HandsStaleEntry(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	id, err := log.Append(ctx, sampleEvent("ntc-1"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Let the entry age past the loop interval so the sweep sees it as
	// stale rather than in flight.
	time.Sleep(50 * time.Millisecond)

	handed := make(chan uint64, 1)
	sink := SinkFunc(func(_ context.Context, entry *Entry) error {
		select {
		case handed <- entry.ID:
		default:
		}
		return nil
	})

	loop := NewRetryLoop(log, sink, 10*time.Millisecond)
	loop.Start(ctx)
	defer loop.Stop()

	select {
	case got := <-handed:
		if got != id {
			t.Errorf("handed id = %d, want %d", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop never handed the stale entry")
	}
}
