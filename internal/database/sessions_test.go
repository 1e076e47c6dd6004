// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/correlatus/correlatus/internal/models"
)

// makeTestSession builds a closed audience session with sane defaults.
func makeTestSession(channel, instance, participant string, startedAt time.Time, duration time.Duration) *models.Session {
	ended := startedAt.Add(duration)
	return &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       channel,
		ParticipantID:     participant,
		ChannelInstanceID: instance,
		StartedAt:         startedAt,
		EndedAt:           &ended,
		IsClosed:          true,
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}
}

func TestUpsertSession_InsertAndUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	session := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_lobby",
		ParticipantID:     "user-42",
		ChannelInstanceID: "inst-1",
		StartedAt:         started,
		IsClosed:          false,
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}

	if err := db.UpsertSession(ctx, session); err != nil {
		t.Fatalf("Insert upsert failed: %v", err)
	}

	got, err := db.GetSessionByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if got.IsClosed {
		t.Error("Expected open session after insert")
	}
	if got.EndedAt != nil {
		t.Error("Expected nil EndedAt on open session")
	}

	// Close it via a second upsert
	ended := started.Add(25 * time.Minute)
	reason := models.ReasonNormal
	session.EndedAt = &ended
	session.IsClosed = true
	session.ExitReason = &reason
	session.RoleChanges = []models.RoleChange{{At: started.Add(10 * time.Minute), Role: models.RoleHost}}
	session.RoleChangeCount = 1
	session.FinalRole = models.RoleHost

	if err := db.UpsertSession(ctx, session); err != nil {
		t.Fatalf("Update upsert failed: %v", err)
	}

	got, err = db.GetSessionByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionByID after close failed: %v", err)
	}
	if !got.IsClosed {
		t.Error("Expected closed session after update")
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
	if got.ExitReason == nil || *got.ExitReason != models.ReasonNormal {
		t.Errorf("ExitReason = %v, want %d", got.ExitReason, models.ReasonNormal)
	}
	if got.FinalRole != models.RoleHost {
		t.Errorf("FinalRole = %q, want host", got.FinalRole)
	}
	if len(got.RoleChanges) != 1 {
		t.Fatalf("len(RoleChanges) = %d, want 1", len(got.RoleChanges))
	}
	if got.RoleChanges[0].Role != models.RoleHost {
		t.Errorf("RoleChanges[0].Role = %q, want host", got.RoleChanges[0].Role)
	}

	// Still exactly one row
	_, total, err := db.ListSessions(ctx, models.SessionFilter{NamespaceID: "ns-test"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestGetOpenSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// No session yet
	got, err := db.GetOpenSession(ctx, "inst-1", "user-42")
	if err != nil {
		t.Fatalf("GetOpenSession failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected nil session for unknown key")
	}

	open := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_lobby",
		ParticipantID:     "user-42",
		ChannelInstanceID: "inst-1",
		StartedAt:         time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		IsClosed:          false,
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}
	if err := db.UpsertSession(ctx, open); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err = db.GetOpenSession(ctx, "inst-1", "user-42")
	if err != nil {
		t.Fatalf("GetOpenSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected open session")
	}
	if got.ID != open.ID {
		t.Errorf("ID = %q, want %q", got.ID, open.ID)
	}

	// Different participant on the same instance sees nothing
	got, err = db.GetOpenSession(ctx, "inst-1", "user-99")
	if err != nil {
		t.Fatalf("GetOpenSession failed: %v", err)
	}
	if got != nil {
		t.Error("Expected nil session for different participant")
	}
}

func TestGetLatestForcedClosure(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// A normally closed session does not qualify
	normal := makeTestSession("rtc_lobby", "inst-1", "user-42", started, 10*time.Minute)
	if err := db.UpsertSession(ctx, normal); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	endedBy := started.Add(24 * time.Hour)
	got, err := db.GetLatestForcedClosure(ctx, "inst-1", "user-42", endedBy)
	if err != nil {
		t.Fatalf("GetLatestForcedClosure failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected no forced closure among normal closures")
	}

	forced := makeTestSession("rtc_lobby", "inst-1", "user-42", started.Add(20*time.Minute), 5*time.Minute)
	forced.ForcedClose = true
	if err := db.UpsertSession(ctx, forced); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	older := makeTestSession("rtc_lobby", "inst-1", "user-42", started.Add(-2*time.Hour), 5*time.Minute)
	older.ForcedClose = true
	if err := db.UpsertSession(ctx, older); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err = db.GetLatestForcedClosure(ctx, "inst-1", "user-42", endedBy)
	if err != nil {
		t.Fatalf("GetLatestForcedClosure failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected forced closure")
	}
	if got.ID != forced.ID {
		t.Errorf("Expected most recent forced closure %q, got %q", forced.ID, got.ID)
	}

	// An upper bound before the newest closure falls back to the older one,
	// so a leave cannot reconcile a closure that happened after it.
	got, err = db.GetLatestForcedClosure(ctx, "inst-1", "user-42", started)
	if err != nil {
		t.Fatalf("GetLatestForcedClosure failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected older forced closure under tight bound")
	}
	if got.ID != older.ID {
		t.Errorf("Expected older forced closure %q, got %q", older.ID, got.ID)
	}
}

func TestListOpenSessionsForInstance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i, participant := range []string{"user-1", "user-2", "user-3"} {
		s := &models.Session{
			ID:                uuid.New().String(),
			NamespaceID:       "ns-test",
			ChannelName:       "rtc_lobby",
			ParticipantID:     participant,
			ChannelInstanceID: "inst-1",
			StartedAt:         started.Add(time.Duration(i) * time.Minute),
			IsClosed:          false,
			CommunicationMode: models.ModeLiveStreaming,
			InitialRole:       models.RoleAudience,
			FinalRole:         models.RoleAudience,
		}
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	// One closed session and one on another instance, both excluded
	closed := makeTestSession("rtc_lobby", "inst-1", "user-4", started, 5*time.Minute)
	if err := db.UpsertSession(ctx, closed); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	otherOpen := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_stage",
		ParticipantID:     "user-5",
		ChannelInstanceID: "inst-2",
		StartedAt:         started,
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}
	if err := db.UpsertSession(ctx, otherOpen); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	open, err := db.ListOpenSessionsForInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ListOpenSessionsForInstance failed: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("len(open) = %d, want 3", len(open))
	}
	// Oldest first
	if open[0].ParticipantID != "user-1" {
		t.Errorf("open[0] = %q, want user-1", open[0].ParticipantID)
	}
}

func TestRebindSessionInstance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for _, participant := range []string{"user-1", "user-2"} {
		s := makeTestSession("rtc_lobby", "prov-abc", participant, started, 5*time.Minute)
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}
	unrelated := makeTestSession("rtc_stage", "inst-9", "user-3", started, 5*time.Minute)
	if err := db.UpsertSession(ctx, unrelated); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	moved, err := db.RebindSessionInstance(ctx, "prov-abc", "inst-real", started.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RebindSessionInstance failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}

	sessions, _, err := db.ListSessions(ctx, models.SessionFilter{InstanceID: "inst-real"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("len(sessions) = %d, want 2", len(sessions))
	}

	remaining, _, err := db.ListSessions(ctx, models.SessionFilter{InstanceID: "prov-abc"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no sessions left on provisional instance, got %d", len(remaining))
	}
}

func TestRebindSessionInstance_CutoffKeepsOlderSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	createTS := started.Add(10 * time.Minute)

	before := makeTestSession("rtc_lobby", "prov-abc", "user-1", started, 5*time.Minute)
	after := makeTestSession("rtc_lobby", "prov-abc", "user-2", createTS.Add(time.Minute), 5*time.Minute)
	for _, s := range []*models.Session{before, after} {
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	moved, err := db.RebindSessionInstance(ctx, "prov-abc", "inst-real", createTS)
	if err != nil {
		t.Fatalf("RebindSessionInstance failed: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}

	remaining, _, err := db.ListSessions(ctx, models.SessionFilter{InstanceID: "prov-abc"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != before.ID {
		t.Errorf("Expected only the pre-create session to remain provisional, got %d rows", len(remaining))
	}
}

func TestListOpenInstanceIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	openA := makeTestSession("rtc_lobby", "inst-a", "user-1", started, 0)
	openA.IsClosed = false
	openA.EndedAt = nil
	openB := makeTestSession("rtc_lobby", "prov-b", "user-2", started, 0)
	openB.IsClosed = false
	openB.EndedAt = nil
	closed := makeTestSession("rtc_lobby", "inst-c", "user-3", started, 5*time.Minute)
	otherChannel := makeTestSession("rtc_stage", "inst-d", "user-4", started, 0)
	otherChannel.IsClosed = false
	otherChannel.EndedAt = nil

	for _, s := range []*models.Session{openA, openB, closed, otherChannel} {
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	ids, err := db.ListOpenInstanceIDs(ctx, "ns-test", "rtc_lobby")
	if err != nil {
		t.Fatalf("ListOpenInstanceIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}
	if ids[0] != "inst-a" || ids[1] != "prov-b" {
		t.Errorf("ids = %v, want [inst-a prov-b]", ids)
	}
}

func TestListSessions_Filters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	closed := makeTestSession("rtc_lobby", "inst-1", "user-1", started, 10*time.Minute)
	open := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_lobby",
		ParticipantID:     "user-2",
		ChannelInstanceID: "inst-1",
		StartedAt:         started.Add(time.Hour),
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}
	orphan := makeTestSession("rtc_lobby", "inst-1", "user-3", started, 0)
	orphan.LeaveOnly = true

	for _, s := range []*models.Session{closed, open, orphan} {
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name      string
		filter    models.SessionFilter
		wantTotal int64
	}{
		{"default excludes leave-only", models.SessionFilter{NamespaceID: "ns-test"}, 2},
		{"include leave-only", models.SessionFilter{NamespaceID: "ns-test", IncludeLeaveOnly: true}, 3},
		{"closed only", models.SessionFilter{NamespaceID: "ns-test", Closed: boolPtr(true)}, 1},
		{"open only", models.SessionFilter{NamespaceID: "ns-test", Closed: boolPtr(false)}, 1},
		{"by participant", models.SessionFilter{NamespaceID: "ns-test", ParticipantID: "user-2"}, 1},
		{"window excludes later start", models.SessionFilter{
			NamespaceID: "ns-test",
			From:        timePtr(started.Add(-time.Minute)),
			To:          timePtr(started.Add(30 * time.Minute)),
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := db.ListSessions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}
}

func TestListSessionsOverlappingRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	dayStart := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	// Entirely inside the day
	inside := makeTestSession("rtc_lobby", "inst-1", "user-1", dayStart.Add(10*time.Hour), time.Hour)
	// Spans midnight into the day
	spanIn := makeTestSession("rtc_lobby", "inst-1", "user-2", dayStart.Add(-time.Hour), 2*time.Hour)
	// Spans midnight out of the day
	spanOut := makeTestSession("rtc_lobby", "inst-1", "user-3", dayEnd.Add(-time.Hour), 2*time.Hour)
	// Entirely before the day
	before := makeTestSession("rtc_lobby", "inst-1", "user-4", dayStart.Add(-3*time.Hour), time.Hour)
	// Open session started inside the day
	stillOpen := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_lobby",
		ParticipantID:     "user-5",
		ChannelInstanceID: "inst-1",
		StartedAt:         dayStart.Add(20 * time.Hour),
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}

	for _, s := range []*models.Session{inside, spanIn, spanOut, before, stillOpen} {
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	sessions, err := db.ListSessionsOverlappingRange(ctx, "ns-test", "rtc_lobby", dayStart, dayEnd, false)
	if err != nil {
		t.Fatalf("ListSessionsOverlappingRange failed: %v", err)
	}

	got := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		got[s.ParticipantID] = true
	}
	for _, want := range []string{"user-1", "user-2", "user-3", "user-5"} {
		if !got[want] {
			t.Errorf("Expected %s in overlap set", want)
		}
	}
	if got["user-4"] {
		t.Error("Session entirely before the day must not overlap")
	}
	if len(sessions) != 4 {
		t.Errorf("len(sessions) = %d, want 4", len(sessions))
	}
}

func TestListSessionsForParticipant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	s1 := makeTestSession("rtc_lobby", "inst-1", "user-1", base, 10*time.Minute)
	s2 := makeTestSession("rtc_stage", "inst-2", "user-1", base.Add(time.Hour), 10*time.Minute)
	other := makeTestSession("rtc_lobby", "inst-1", "user-2", base, 10*time.Minute)

	for _, s := range []*models.Session{s1, s2, other} {
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	sessions, err := db.ListSessionsForParticipant(ctx, "ns-test", "user-1",
		base.Add(-time.Hour), base.Add(2*time.Hour), false)
	if err != nil {
		t.Fatalf("ListSessionsForParticipant failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	// Oldest first
	if sessions[0].ChannelName != "rtc_lobby" || sessions[1].ChannelName != "rtc_stage" {
		t.Errorf("Unexpected order: [%s %s]", sessions[0].ChannelName, sessions[1].ChannelName)
	}
}

func TestListChannels(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Two instances of rtc_lobby, one with an open session
	for i := 0; i < 2; i++ {
		s := makeTestSession("rtc_lobby", "inst-1", "user-1", base.Add(time.Duration(i)*time.Hour), 10*time.Minute)
		if err := db.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}
	openSession := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       "ns-test",
		ChannelName:       "rtc_lobby",
		ParticipantID:     "user-2",
		ChannelInstanceID: "inst-2",
		StartedAt:         base.Add(3 * time.Hour),
		CommunicationMode: models.ModeLiveStreaming,
		InitialRole:       models.RoleAudience,
		FinalRole:         models.RoleAudience,
	}
	if err := db.UpsertSession(ctx, openSession); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	stage := makeTestSession("rtc_stage", "inst-3", "user-3", base, 10*time.Minute)
	if err := db.UpsertSession(ctx, stage); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	channels, total, err := db.ListChannels(ctx, "ns-test", 10, 0)
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(channels) != 2 {
		t.Fatalf("len(channels) = %d, want 2", len(channels))
	}

	// Most recently active first: rtc_lobby has the open session at +3h
	lobby := channels[0]
	if lobby.ChannelName != "rtc_lobby" {
		t.Fatalf("channels[0] = %q, want rtc_lobby", lobby.ChannelName)
	}
	if lobby.SessionCount != 3 {
		t.Errorf("SessionCount = %d, want 3", lobby.SessionCount)
	}
	if lobby.InstanceCount != 2 {
		t.Errorf("InstanceCount = %d, want 2", lobby.InstanceCount)
	}
	if lobby.OpenSessions != 1 {
		t.Errorf("OpenSessions = %d, want 1", lobby.OpenSessions)
	}
	if !lobby.FirstActivity.Equal(base) {
		t.Errorf("FirstActivity = %v, want %v", lobby.FirstActivity, base)
	}
}
