// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package correlator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/models"
)

// fakeSessionStore keeps sessions in memory with the same lookup semantics
// as the real store: open-session lookup by (instance, participant), latest
// forced closure bounded by ended_at, instance rebinds with a cutoff.
type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	lifecycle []*models.Event
	upserts   int
	rebindErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*models.Session)}
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.ExitReason != nil {
		r := *s.ExitReason
		c.ExitReason = &r
	}
	if len(s.RoleChanges) > 0 {
		c.RoleChanges = append([]models.RoleChange(nil), s.RoleChanges...)
	}
	return &c
}

func (f *fakeSessionStore) seed(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = cloneSession(s)
}

func (f *fakeSessionStore) addLifecycle(e *models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = append(f.lifecycle, e)
}

func (f *fakeSessionStore) all() []*models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeSessionStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func (f *fakeSessionStore) GetOpenSession(_ context.Context, instanceID, participantID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ChannelInstanceID == instanceID && s.ParticipantID == participantID && !s.IsClosed {
			return cloneSession(s), nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) GetLatestForcedClosure(_ context.Context, instanceID, participantID string, endedBy time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Session
	for _, s := range f.sessions {
		if s.ChannelInstanceID != instanceID || s.ParticipantID != participantID {
			continue
		}
		if !s.IsClosed || !s.ForcedClose || s.LeaveOnly || s.EndedAt == nil {
			continue
		}
		if s.EndedAt.After(endedBy) {
			continue
		}
		if best == nil || s.EndedAt.After(*best.EndedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneSession(best), nil
}

func (f *fakeSessionStore) ListOpenSessionsForInstance(_ context.Context, instanceID string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if s.ChannelInstanceID == instanceID && !s.IsClosed {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeSessionStore) UpsertSession(_ context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.sessions[session.ID] = cloneSession(session)
	return nil
}

func (f *fakeSessionStore) RebindSessionInstance(_ context.Context, fromInstanceID, toInstanceID string, notBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rebindErr != nil {
		return 0, f.rebindErr
	}
	var moved int64
	for _, s := range f.sessions {
		if s.ChannelInstanceID == fromInstanceID && !s.StartedAt.Before(notBefore) {
			s.ChannelInstanceID = toInstanceID
			moved++
		}
	}
	return moved, nil
}

func (f *fakeSessionStore) ListOpenInstanceIDs(_ context.Context, namespaceID, channelName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	for _, s := range f.sessions {
		if s.NamespaceID == namespaceID && s.ChannelName == channelName && !s.IsClosed {
			seen[s.ChannelInstanceID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSessionStore) ListLifecycleEvents(_ context.Context, namespaceID, channelName string) ([]*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Event
	for _, e := range f.lifecycle {
		if e.NamespaceID == namespaceID && e.ChannelName == channelName && e.Kind.IsChannelLifecycle() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func newTestCorrelator(store Store) *Correlator {
	return New(&config.CorrelatorConfig{
		ReconciliationWindow: 60 * time.Second,
		LockStripes:          8,
	}, store)
}

// process feeds one event through the correlator, recording lifecycle
// events in the fake store first the way admission persists them before
// correlation runs.
func process(t *testing.T, c *Correlator, store *fakeSessionStore, event *models.Event) *Outcome {
	t.Helper()
	if event.Kind.IsChannelLifecycle() {
		store.addLifecycle(event)
	}
	out, err := c.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("Process(%s at %v) failed: %v", event.Kind, event.OccurredAt, err)
	}
	return out
}

func chanEvent(kind models.EventKind, sec int) *models.Event {
	return &models.Event{
		NamespaceID: "ns-test",
		ChannelName: "lobby",
		Kind:        kind,
		OccurredAt:  ts(sec),
	}
}

func joinEvent(kind models.EventKind, participant string, sec int, seq int64) *models.Event {
	e := chanEvent(kind, sec)
	e.ParticipantID = participant
	e.ClientSeq = seq
	e.PlatformHint = "android"
	e.ProductHint = "rtc"
	return e
}

func leaveEvent(kind models.EventKind, participant string, sec int, seq int64, reason int) *models.Event {
	e := joinEvent(kind, participant, sec, seq)
	e.ReasonCode = &reason
	return e
}

func roleEvent(participant string, sec int, role models.Role) *models.Event {
	e := chanEvent(models.KindRoleChange, sec)
	e.ParticipantID = participant
	e.RoleHint = role
	return e
}

func TestProcess_JoinOpensSession(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	out := process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 1))

	if out.Change != ChangeOpened {
		t.Fatalf("change = %s, want %s", out.Change, ChangeOpened)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("outcome sessions = %d, want 1", len(out.Sessions))
	}

	s := out.Sessions[0]
	wantInstance := newTestChannelState().realInstanceID(ts(0))
	if s.ChannelInstanceID != wantInstance {
		t.Errorf("instance = %q, want %q", s.ChannelInstanceID, wantInstance)
	}
	if !s.StartedAt.Equal(ts(1)) {
		t.Errorf("started_at = %v, want %v", s.StartedAt, ts(1))
	}
	if s.IsClosed || s.EndedAt != nil {
		t.Error("fresh session is closed")
	}
	if s.CommunicationMode != models.ModeLiveStreaming {
		t.Errorf("mode = %s, want %s", s.CommunicationMode, models.ModeLiveStreaming)
	}
	if s.InitialRole != models.RoleAudience || s.FinalRole != models.RoleAudience {
		t.Errorf("roles = %s/%s, want audience/audience", s.InitialRole, s.FinalRole)
	}
	if s.Platform != "android" || s.Product != "rtc" {
		t.Errorf("hints = %q/%q, want android/rtc", s.Platform, s.Product)
	}
	if s.LastClientSeq != 1 {
		t.Errorf("last_client_seq = %d, want 1", s.LastClientSeq)
	}
}

func TestProcess_DuplicateJoinIsNoOp(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 1))
	before := store.upsertCount()

	out := process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 2))
	if out.Change != ChangeNone {
		t.Errorf("change = %s, want %s", out.Change, ChangeNone)
	}
	if got := store.upsertCount(); got != before {
		t.Errorf("upserts = %d, want %d: duplicate join wrote to storage", got, before)
	}
	if got := len(store.all()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestProcess_EarlierJoinWidensStart(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))
	out := process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 2, 0))

	if out.Change != ChangeBackdated {
		t.Fatalf("change = %s, want %s", out.Change, ChangeBackdated)
	}
	sessions := store.all()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if !sessions[0].StartedAt.Equal(ts(2)) {
		t.Errorf("started_at = %v, want %v", sessions[0].StartedAt, ts(2))
	}
	if sessions[0].IsClosed {
		t.Error("widened session was closed")
	}
}

func TestProcess_LeaveClosesMatchingSession(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 0))
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeClosed {
		t.Fatalf("change = %s, want %s", out.Change, ChangeClosed)
	}
	s := out.Sessions[0]
	if s.EndedAt == nil || !s.EndedAt.Equal(ts(9)) {
		t.Fatalf("ended_at = %v, want %v", s.EndedAt, ts(9))
	}
	if s.ExitReason == nil || *s.ExitReason != 1 {
		t.Errorf("exit_reason = %v, want 1", s.ExitReason)
	}
	if s.ForcedClose {
		t.Error("genuine leave marked forced")
	}
	if got := s.DurationSeconds(); got != 8 {
		t.Errorf("duration = %.0fs, want 8s", got)
	}
}

func TestProcess_LeaveModeMismatchDoesNotClose(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindCommJoin, "alice", 1, 0))
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeLeaveOnly {
		t.Fatalf("change = %s, want %s", out.Change, ChangeLeaveOnly)
	}
	sessions := store.all()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	// The peer-communication session must still be open.
	if sessions[0].IsClosed {
		t.Error("comm session closed by live-streaming leave")
	}
	if !sessions[1].LeaveOnly {
		t.Error("mismatched leave did not produce a leave-only record")
	}
}

func TestProcess_DestroyForceClosesOpenSessions(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 0))
	process(t, c, store, joinEvent(models.KindBroadcasterJoin, "bob", 2, 0))
	out := process(t, c, store, chanEvent(models.KindChannelDestroy, 10))

	if out.Change != ChangeForcedClosed {
		t.Fatalf("change = %s, want %s", out.Change, ChangeForcedClosed)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("closed sessions = %d, want 2", len(out.Sessions))
	}
	for _, s := range out.Sessions {
		if s.EndedAt == nil || !s.EndedAt.Equal(ts(10)) {
			t.Errorf("session %s ended_at = %v, want %v", s.ID, s.EndedAt, ts(10))
		}
		if !s.ForcedClose {
			t.Errorf("session %s not marked forced", s.ID)
		}
		if s.ExitReason != nil {
			t.Errorf("session %s exit_reason = %v, want nil", s.ID, s.ExitReason)
		}
	}
	for _, s := range store.all() {
		if !s.IsClosed {
			t.Errorf("session %s still open after destroy", s.ID)
		}
	}
}

func TestProcess_LateLeaveReconcilesForcedClosure(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 0, 0))
	process(t, c, store, chanEvent(models.KindChannelDestroy, 10))
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 12, 0, 1))

	if out.Change != ChangeReconciled {
		t.Fatalf("change = %s, want %s", out.Change, ChangeReconciled)
	}
	sessions := store.all()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1: reconciliation minted a new record", len(sessions))
	}

	s := sessions[0]
	if !s.StartedAt.Equal(ts(0)) {
		t.Errorf("started_at = %v, want %v", s.StartedAt, ts(0))
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(ts(12)) {
		t.Errorf("ended_at = %v, want %v", s.EndedAt, ts(12))
	}
	if s.ExitReason == nil || *s.ExitReason != 1 {
		t.Errorf("exit_reason = %v, want 1", s.ExitReason)
	}
	if s.ForcedClose {
		t.Error("reconciled session still marked forced")
	}
}

func TestProcess_LeaveOutsideWindowBecomesLeaveOnly(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 0, 0))
	process(t, c, store, chanEvent(models.KindChannelDestroy, 10))
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 80, 0, 1))

	if out.Change != ChangeLeaveOnly {
		t.Fatalf("change = %s, want %s", out.Change, ChangeLeaveOnly)
	}
	sessions := store.all()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}

	forced, orphan := sessions[0], sessions[1]
	if !forced.ForcedClose || forced.EndedAt == nil || !forced.EndedAt.Equal(ts(10)) {
		t.Errorf("forced closure changed: ended_at = %v", forced.EndedAt)
	}
	if !orphan.LeaveOnly {
		t.Fatal("late leave did not produce a leave-only record")
	}
	if !orphan.StartedAt.Equal(ts(80)) || orphan.EndedAt == nil || !orphan.EndedAt.Equal(ts(80)) {
		t.Errorf("orphan span = [%v, %v], want zero-width at %v", orphan.StartedAt, orphan.EndedAt, ts(80))
	}
	if got := orphan.DurationSeconds(); got != 0 {
		t.Errorf("orphan duration = %.0fs, want 0", got)
	}
}

func TestProcess_LeaveBeforeTeardownTimestampBecomesLeaveOnly(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 0, 0))
	process(t, c, store, chanEvent(models.KindChannelDestroy, 10))

	// The leave's timestamp predates the teardown, so the forced closure at
	// ts 10 is not a closure this leave can account for.
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeLeaveOnly {
		t.Fatalf("change = %s, want %s", out.Change, ChangeLeaveOnly)
	}
	if got := len(store.all()); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestProcess_RoleChangeUpdatesOpenSession(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 0))
	process(t, c, store, roleEvent("alice", 5, models.RoleHost))
	out := process(t, c, store, roleEvent("alice", 8, models.RoleAudience))

	if out.Change != ChangeRoleChanged {
		t.Fatalf("change = %s, want %s", out.Change, ChangeRoleChanged)
	}

	s := out.Sessions[0]
	if s.RoleChangeCount != 2 {
		t.Errorf("role_change_count = %d, want 2", s.RoleChangeCount)
	}
	if s.InitialRole != models.RoleAudience {
		t.Errorf("initial_role = %s, want audience", s.InitialRole)
	}
	if s.FinalRole != models.RoleAudience {
		t.Errorf("final_role = %s, want audience", s.FinalRole)
	}
	if len(s.RoleChanges) != 2 {
		t.Fatalf("role_changes = %d, want 2", len(s.RoleChanges))
	}
	if !s.RoleChanges[0].At.Equal(ts(5)) || s.RoleChanges[0].Role != models.RoleHost {
		t.Errorf("first change = %v/%s, want %v/host", s.RoleChanges[0].At, s.RoleChanges[0].Role, ts(5))
	}
	if !s.RoleChanges[1].At.Equal(ts(8)) || s.RoleChanges[1].Role != models.RoleAudience {
		t.Errorf("second change = %v/%s, want %v/audience", s.RoleChanges[1].At, s.RoleChanges[1].Role, ts(8))
	}
}

func TestProcess_OutOfOrderRoleChangeKeepsChronology(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 0))
	process(t, c, store, roleEvent("alice", 8, models.RoleAudience))
	out := process(t, c, store, roleEvent("alice", 5, models.RoleHost))

	s := out.Sessions[0]
	if len(s.RoleChanges) != 2 {
		t.Fatalf("role_changes = %d, want 2", len(s.RoleChanges))
	}
	if s.RoleChanges[0].Role != models.RoleHost || s.RoleChanges[1].Role != models.RoleAudience {
		t.Errorf("order = %s,%s, want host,audience", s.RoleChanges[0].Role, s.RoleChanges[1].Role)
	}
	// Final role follows the latest timestamp, not arrival order.
	if s.FinalRole != models.RoleAudience {
		t.Errorf("final_role = %s, want audience", s.FinalRole)
	}
}

func TestProcess_RoleChangeWithoutSessionIgnored(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	out := process(t, c, store, roleEvent("alice", 5, models.RoleHost))
	if out.Change != ChangeNone {
		t.Errorf("change with no instance = %s, want %s", out.Change, ChangeNone)
	}

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	out = process(t, c, store, roleEvent("alice", 5, models.RoleHost))
	if out.Change != ChangeNone {
		t.Errorf("change with no session = %s, want %s", out.Change, ChangeNone)
	}
	if got := len(store.all()); got != 0 {
		t.Errorf("sessions = %d, want 0", got)
	}
}

func TestProcess_StaleClientSeqDropped(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 5))

	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 2, 3, 1))
	if out.Change != ChangeNone {
		t.Fatalf("stale leave change = %s, want %s", out.Change, ChangeNone)
	}
	if s := store.all()[0]; s.IsClosed {
		t.Fatal("stale leave closed the session")
	}

	out = process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 3, 6, 1))
	if out.Change != ChangeClosed {
		t.Fatalf("fresh leave change = %s, want %s", out.Change, ChangeClosed)
	}

	// The guard survives the close: a stale join cannot reopen.
	out = process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 4, 2))
	if out.Change != ChangeNone {
		t.Errorf("stale join change = %s, want %s", out.Change, ChangeNone)
	}
	if got := len(store.all()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestProcess_ZeroClientSeqBypassesGuard(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 1, 5))
	out := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeClosed {
		t.Errorf("change = %s, want %s: seq-less leave must bypass the guard", out.Change, ChangeClosed)
	}
}

func TestProcess_LateCreateMergesProvisionalSessions(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))
	if s := store.all()[0]; !strings.HasSuffix(s.ChannelInstanceID, "_provisional") {
		t.Fatalf("pre-create session instance = %q, want provisional", s.ChannelInstanceID)
	}

	out := process(t, c, store, chanEvent(models.KindChannelCreate, 2))
	if out.Change != ChangeInstanceCreated {
		t.Fatalf("change = %s, want %s", out.Change, ChangeInstanceCreated)
	}
	if out.MergedSessions != 1 {
		t.Errorf("merged sessions = %d, want 1", out.MergedSessions)
	}

	s := store.all()[0]
	wantInstance := newTestChannelState().realInstanceID(ts(2))
	if s.ChannelInstanceID != wantInstance {
		t.Errorf("instance = %q, want %q", s.ChannelInstanceID, wantInstance)
	}
	if s.IsClosed {
		t.Error("merge closed the session")
	}

	// A later leave must find the rebound session under the real instance.
	leaveOut := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))
	if leaveOut.Change != ChangeClosed {
		t.Errorf("leave change = %s, want %s", leaveOut.Change, ChangeClosed)
	}
}

func TestProcess_CreateDoesNotCaptureEarlierProvisional(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))
	out := process(t, c, store, chanEvent(models.KindChannelCreate, 10))

	if out.MergedSessions != 0 {
		t.Fatalf("merged sessions = %d, want 0: join predates the create", out.MergedSessions)
	}
	if s := store.all()[0]; !strings.HasSuffix(s.ChannelInstanceID, "_provisional") {
		t.Errorf("instance = %q, want still provisional", s.ChannelInstanceID)
	}

	// An earlier create claims the provisional, bounded by the later real
	// instance.
	out = process(t, c, store, chanEvent(models.KindChannelCreate, 3))
	if out.MergedSessions != 1 {
		t.Fatalf("merged sessions = %d, want 1", out.MergedSessions)
	}
	s := store.all()[0]
	if want := newTestChannelState().realInstanceID(ts(3)); s.ChannelInstanceID != want {
		t.Errorf("instance = %q, want %q", s.ChannelInstanceID, want)
	}
}

func TestProcess_CreateRetriesAfterRebindFailure(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))

	store.rebindErr = errors.New("write conflict")
	create := chanEvent(models.KindChannelCreate, 2)
	store.addLifecycle(create)
	if _, err := c.Process(context.Background(), create); err == nil {
		t.Fatal("Process succeeded despite rebind failure")
	}

	// The registry must not have committed the create, so a redelivery
	// replans the same merge and succeeds.
	store.rebindErr = nil
	out, err := c.Process(context.Background(), create)
	if err != nil {
		t.Fatalf("retried Process failed: %v", err)
	}
	if out.Change != ChangeInstanceCreated || out.MergedSessions != 1 {
		t.Errorf("retry outcome = %s/%d merged, want %s/1", out.Change, out.MergedSessions, ChangeInstanceCreated)
	}
}

func TestProcess_DestroyBeforeCreateConverges(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	out := process(t, c, store, chanEvent(models.KindChannelDestroy, 10))
	if out.Change != ChangeNone {
		t.Fatalf("orphan destroy change = %s, want %s", out.Change, ChangeNone)
	}

	process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))
	out = process(t, c, store, chanEvent(models.KindChannelCreate, 0))

	if out.Change != ChangeInstanceCreated {
		t.Fatalf("create change = %s, want %s", out.Change, ChangeInstanceCreated)
	}
	if out.MergedSessions != 1 {
		t.Errorf("merged sessions = %d, want 1", out.MergedSessions)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("closed sessions = %d, want 1: inherited teardown must close the merged session", len(out.Sessions))
	}

	s := store.all()[0]
	if want := newTestChannelState().realInstanceID(ts(0)); s.ChannelInstanceID != want {
		t.Errorf("instance = %q, want %q", s.ChannelInstanceID, want)
	}
	if !s.IsClosed || !s.ForcedClose {
		t.Error("session not force-closed by inherited teardown")
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(ts(10)) {
		t.Errorf("ended_at = %v, want %v", s.EndedAt, ts(10))
	}
}

func TestProcess_JoinAfterWitnessedTeardownClosesImmediately(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	process(t, c, store, chanEvent(models.KindChannelDestroy, 10))

	out := process(t, c, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))
	if out.Change != ChangeForcedClosed {
		t.Fatalf("change = %s, want %s", out.Change, ChangeForcedClosed)
	}
	s := out.Sessions[0]
	if !s.StartedAt.Equal(ts(5)) {
		t.Errorf("started_at = %v, want %v", s.StartedAt, ts(5))
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(ts(10)) {
		t.Errorf("ended_at = %v, want %v", s.EndedAt, ts(10))
	}
	if !s.ForcedClose {
		t.Error("session not marked forced")
	}

	// The forced closure stays reconcilable by the participant's own leave.
	leaveOut := process(t, c, store, leaveEvent(models.KindAudienceLeave, "alice", 12, 0, 1))
	if leaveOut.Change != ChangeReconciled {
		t.Fatalf("leave change = %s, want %s", leaveOut.Change, ChangeReconciled)
	}
	final := store.all()
	if len(final) != 1 {
		t.Fatalf("sessions = %d, want 1", len(final))
	}
	if final[0].EndedAt == nil || !final[0].EndedAt.Equal(ts(12)) {
		t.Errorf("reconciled ended_at = %v, want %v", final[0].EndedAt, ts(12))
	}
}

func TestProcess_ArrivalOrderIndependence(t *testing.T) {
	build := map[string]func() *models.Event{
		"create":  func() *models.Event { return chanEvent(models.KindChannelCreate, 0) },
		"join":    func() *models.Event { return joinEvent(models.KindAudienceJoin, "alice", 5, 0) },
		"destroy": func() *models.Event { return chanEvent(models.KindChannelDestroy, 10) },
	}
	orders := [][]string{
		{"create", "join", "destroy"},
		{"create", "destroy", "join"},
		{"join", "create", "destroy"},
		{"join", "destroy", "create"},
		{"destroy", "create", "join"},
		{"destroy", "join", "create"},
	}

	wantInstance := newTestChannelState().realInstanceID(ts(0))

	for _, order := range orders {
		t.Run(strings.Join(order, "_"), func(t *testing.T) {
			store := newFakeSessionStore()
			c := newTestCorrelator(store)
			for _, name := range order {
				process(t, c, store, build[name]())
			}

			sessions := store.all()
			if len(sessions) != 1 {
				t.Fatalf("sessions = %d, want 1", len(sessions))
			}
			s := sessions[0]
			if s.ChannelInstanceID != wantInstance {
				t.Errorf("instance = %q, want %q", s.ChannelInstanceID, wantInstance)
			}
			if !s.StartedAt.Equal(ts(5)) {
				t.Errorf("started_at = %v, want %v", s.StartedAt, ts(5))
			}
			if s.EndedAt == nil || !s.EndedAt.Equal(ts(10)) {
				t.Errorf("ended_at = %v, want %v", s.EndedAt, ts(10))
			}
			if !s.IsClosed || !s.ForcedClose {
				t.Errorf("closed/forced = %v/%v, want true/true", s.IsClosed, s.ForcedClose)
			}
			if s.ExitReason != nil {
				t.Errorf("exit_reason = %v, want nil", s.ExitReason)
			}
		})
	}
}

func TestProcess_InvariantViolationAbortsDestroy(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	instanceID := newTestChannelState().realInstanceID(ts(0))

	// Two open sessions for one key cannot be produced through Process;
	// plant them directly to simulate corruption.
	for _, id := range []string{"corrupt-a", "corrupt-b"} {
		store.seed(&models.Session{
			ID:                id,
			NamespaceID:       "ns-test",
			ChannelName:       "lobby",
			ParticipantID:     "alice",
			ChannelInstanceID: instanceID,
			StartedAt:         ts(1),
			CommunicationMode: models.ModeLiveStreaming,
			InitialRole:       models.RoleAudience,
			FinalRole:         models.RoleAudience,
		})
	}
	before := store.upsertCount()

	destroy := chanEvent(models.KindChannelDestroy, 10)
	store.addLifecycle(destroy)
	_, err := c.Process(context.Background(), destroy)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}

	if got := store.upsertCount(); got != before {
		t.Errorf("upserts = %d, want %d: aborted destroy mutated storage", got, before)
	}
	for _, s := range store.all() {
		if s.IsClosed {
			t.Errorf("session %s closed by aborted destroy", s.ID)
		}
	}
}

func TestProcess_InvariantViolationDoesNotPoisonOtherChannels(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCorrelator(store)

	process(t, c, store, chanEvent(models.KindChannelCreate, 0))
	instanceID := newTestChannelState().realInstanceID(ts(0))
	for _, id := range []string{"corrupt-a", "corrupt-b"} {
		store.seed(&models.Session{
			ID:                id,
			NamespaceID:       "ns-test",
			ChannelName:       "lobby",
			ParticipantID:     "alice",
			ChannelInstanceID: instanceID,
			StartedAt:         ts(1),
			CommunicationMode: models.ModeLiveStreaming,
			InitialRole:       models.RoleAudience,
			FinalRole:         models.RoleAudience,
		})
	}
	destroy := chanEvent(models.KindChannelDestroy, 10)
	store.addLifecycle(destroy)
	if _, err := c.Process(context.Background(), destroy); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}

	// A healthy channel keeps correlating.
	other := joinEvent(models.KindAudienceJoin, "bob", 1, 0)
	other.ChannelName = "arena"
	otherCreate := chanEvent(models.KindChannelCreate, 0)
	otherCreate.ChannelName = "arena"
	process(t, c, store, otherCreate)
	out := process(t, c, store, other)
	if out.Change != ChangeOpened {
		t.Errorf("healthy channel change = %s, want %s", out.Change, ChangeOpened)
	}
}

func TestProcess_RestartRebuildsFromStorage(t *testing.T) {
	store := newFakeSessionStore()

	first := newTestCorrelator(store)
	process(t, first, store, chanEvent(models.KindChannelCreate, 0))
	process(t, first, store, joinEvent(models.KindAudienceJoin, "alice", 1, 0))

	// A new correlator over the same storage must resolve the instance from
	// the persisted lifecycle and close the session.
	second := newTestCorrelator(store)
	out := process(t, second, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeClosed {
		t.Fatalf("change = %s, want %s", out.Change, ChangeClosed)
	}
	s := store.all()[0]
	if s.EndedAt == nil || !s.EndedAt.Equal(ts(9)) {
		t.Errorf("ended_at = %v, want %v", s.EndedAt, ts(9))
	}
}

func TestProcess_RestartRestoresProvisionalInstances(t *testing.T) {
	store := newFakeSessionStore()

	first := newTestCorrelator(store)
	process(t, first, store, joinEvent(models.KindAudienceJoin, "alice", 5, 0))

	// No create was ever witnessed; the open session's provisional instance
	// id is all a restarted correlator has to go on.
	second := newTestCorrelator(store)
	out := process(t, second, store, leaveEvent(models.KindAudienceLeave, "alice", 9, 0, 1))

	if out.Change != ChangeClosed {
		t.Fatalf("change = %s, want %s", out.Change, ChangeClosed)
	}

	// And a late create still claims the restored provisional.
	createOut := process(t, second, store, chanEvent(models.KindChannelCreate, 2))
	if createOut.MergedSessions != 1 {
		t.Errorf("merged sessions = %d, want 1", createOut.MergedSessions)
	}
}

func TestOutcome_SessionsChanged(t *testing.T) {
	cases := []struct {
		name string
		out  Outcome
		want bool
	}{
		{"none", Outcome{Change: ChangeNone}, false},
		{"opened", Outcome{Change: ChangeOpened, Sessions: []*models.Session{{}}}, true},
		{"closed", Outcome{Change: ChangeClosed, Sessions: []*models.Session{{}}}, true},
		{"reconciled", Outcome{Change: ChangeReconciled, Sessions: []*models.Session{{}}}, true},
		{"forced_empty", Outcome{Change: ChangeForcedClosed}, false},
		{"forced_nonempty", Outcome{Change: ChangeForcedClosed, Sessions: []*models.Session{{}}}, true},
		{"create_no_merge", Outcome{Change: ChangeInstanceCreated}, false},
		{"create_with_merge", Outcome{Change: ChangeInstanceCreated, MergedSessions: 2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.out.SessionsChanged(); got != tc.want {
				t.Errorf("SessionsChanged() = %v, want %v", got, tc.want)
			}
		})
	}
}
