// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// ErrInvariantViolation marks a correlation attempt abandoned because the
// one-open-session-per-key invariant did not hold. The attempt is aborted
// before any mutation; other keys are unaffected.
var ErrInvariantViolation = errors.New("correlator: open-session invariant violated")

// Store is the slice of persistence the correlator needs. *database.DB
// satisfies it.
type Store interface {
	GetOpenSession(ctx context.Context, instanceID, participantID string) (*models.Session, error)
	GetLatestForcedClosure(ctx context.Context, instanceID, participantID string, endedBy time.Time) (*models.Session, error)
	ListOpenSessionsForInstance(ctx context.Context, instanceID string) ([]*models.Session, error)
	UpsertSession(ctx context.Context, session *models.Session) error
	RebindSessionInstance(ctx context.Context, fromInstanceID, toInstanceID string, notBefore time.Time) (int64, error)
	ListOpenInstanceIDs(ctx context.Context, namespaceID, channelName string) ([]string, error)
	ListLifecycleEvents(ctx context.Context, namespaceID, channelName string) ([]*models.Event, error)
}

// ChangeKind names what a processed event did to session state.
type ChangeKind string

// Correlation outcomes.
const (
	ChangeNone            ChangeKind = "none"
	ChangeOpened          ChangeKind = "opened"
	ChangeBackdated       ChangeKind = "backdated"
	ChangeRoleChanged     ChangeKind = "role_changed"
	ChangeClosed          ChangeKind = "closed"
	ChangeForcedClosed    ChangeKind = "forced_closed"
	ChangeReconciled      ChangeKind = "reconciled"
	ChangeLeaveOnly       ChangeKind = "leave_only"
	ChangeInstanceCreated ChangeKind = "instance_created"
)

// Outcome reports what one event did: which sessions it touched and how.
// Sessions holds the post-application state of every affected session; a
// ChannelDestroy may close many at once.
type Outcome struct {
	Change         ChangeKind
	Sessions       []*models.Session
	MergedSessions int64
}

// SessionsChanged reports whether the outcome mutated any session rows, which
// is what downstream aggregation and live feeds care about.
func (o *Outcome) SessionsChanged() bool {
	switch o.Change {
	case ChangeOpened, ChangeBackdated, ChangeRoleChanged, ChangeClosed,
		ChangeReconciled, ChangeLeaveOnly:
		return true
	case ChangeForcedClosed:
		return len(o.Sessions) > 0
	case ChangeInstanceCreated:
		return o.MergedSessions > 0 || len(o.Sessions) > 0
	}
	return false
}

// Correlator turns admitted events into session records. Each channel's
// state transitions are serialized by a striped lock; different channels
// proceed in parallel. The channel, not the single (instance, participant)
// key, is the serialization domain because ChannelCreate merges provisional
// instances and ChannelDestroy fans out across every participant of an
// instance.
type Correlator struct {
	store  Store
	window time.Duration
	locks  *stripedLocks

	mu       sync.Mutex
	channels map[string]*channelState
}

// New creates a correlator with the configured reconciliation window and
// lock striping.
func New(cfg *config.CorrelatorConfig, store Store) *Correlator {
	window := cfg.ReconciliationWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Correlator{
		store:    store,
		window:   window,
		locks:    newStripedLocks(cfg.LockStripes),
		channels: make(map[string]*channelState),
	}
}

// Process applies one admitted event to session state and reports what
// changed. Safe for concurrent use; events for the same channel are
// serialized. Duplicates never reach Process (the dedup gate owns that), so
// every event here is applied exactly once — though applying the same
// already-persisted state again is harmless, which is what makes crash
// replay safe.
func (c *Correlator) Process(ctx context.Context, event *models.Event) (*Outcome, error) {
	if event == nil {
		return nil, fmt.Errorf("correlator: nil event")
	}

	mu := c.locks.lock(event.NamespaceID, event.ChannelName)
	defer mu.Unlock()

	cs, err := c.ensureChannel(ctx, event.NamespaceID, event.ChannelName)
	if err != nil {
		return nil, err
	}

	switch {
	case event.Kind == models.KindChannelCreate:
		return c.applyCreate(ctx, cs, event)
	case event.Kind == models.KindChannelDestroy:
		return c.applyDestroy(ctx, cs, event)
	case event.Kind == models.KindRoleChange:
		return c.applyRoleChange(ctx, cs, event)
	case event.Kind.IsJoin():
		return c.applyJoin(ctx, cs, event)
	case event.Kind.IsLeave():
		return c.applyLeave(ctx, cs, event)
	default:
		return nil, fmt.Errorf("correlator: unhandled event kind %q", event.Kind)
	}
}

// ensureChannel returns the channel's in-memory state, rebuilding it from
// storage on first touch after startup: real instances from the stored
// create/destroy history, provisional ones from whatever open sessions still
// reference them. Caller must hold the channel's stripe lock.
func (c *Correlator) ensureChannel(ctx context.Context, namespaceID, channelName string) (*channelState, error) {
	key := namespaceID + "\x00" + channelName
	c.mu.Lock()
	cs, ok := c.channels[key]
	if !ok {
		cs = newChannelState(namespaceID, channelName)
		c.channels[key] = cs
	}
	c.mu.Unlock()

	if cs.loaded {
		return cs, nil
	}

	lifecycle, err := c.store.ListLifecycleEvents(ctx, namespaceID, channelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel lifecycle: %w", err)
	}
	for _, e := range lifecycle {
		switch e.Kind {
		case models.KindChannelCreate:
			cs.commitCreate(cs.planCreate(e.OccurredAt))
		case models.KindChannelDestroy:
			if in := cs.resolve(e.OccurredAt); in != nil {
				cs.markDestroyed(in, e.OccurredAt)
			} else {
				cs.recordOrphanDestroy(e.OccurredAt)
			}
		}
	}

	openIDs, err := c.store.ListOpenInstanceIDs(ctx, namespaceID, channelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load open instance ids: %w", err)
	}
	for _, id := range openIDs {
		if !cs.restoreInstance(id) {
			logging.Warn().
				Str("namespace", namespaceID).
				Str("channel", channelName).
				Str("instance_id", id).
				Msg("Open sessions reference an instance id that does not parse")
		}
	}

	cs.loaded = true
	return cs, nil
}

// applyCreate mints the real instance for a create, folds matching
// provisional instances into it, and applies any teardown inherited from
// them. Storage work happens before the registry commit so a failed merge
// retries cleanly.
func (c *Correlator) applyCreate(ctx context.Context, cs *channelState, event *models.Event) (*Outcome, error) {
	plan := cs.planCreate(event.OccurredAt)
	if plan.existing {
		logging.Debug().
			Str("instance_id", plan.instanceID).
			Msg("Duplicate channel create ignored")
		return &Outcome{Change: ChangeNone}, nil
	}

	var moved int64
	for _, p := range plan.merged {
		n, err := c.store.RebindSessionInstance(ctx, p.id, plan.instanceID, plan.createTS)
		if err != nil {
			return nil, fmt.Errorf("failed to merge provisional instance %s: %w", p.id, err)
		}
		moved += n
	}

	in := cs.commitCreate(plan)
	out := &Outcome{Change: ChangeInstanceCreated, MergedSessions: moved}

	if moved > 0 {
		logging.Info().
			Str("namespace", event.NamespaceID).
			Str("channel", event.ChannelName).
			Str("instance_id", in.id).
			Int64("sessions_merged", moved).
			Msg("Provisional sessions merged into created instance")
	}

	// A destroy witnessed before this create was parked on a provisional;
	// the instance arrives already torn down.
	if in.destroyTS != nil {
		closed, err := c.closeInstanceSessions(ctx, cs, in, *in.destroyTS)
		if err != nil {
			return nil, err
		}
		out.Sessions = closed
	}
	return out, nil
}

// applyDestroy force-closes every open session of the instance covering the
// destroy. A destroy with no covering instance is parked for a late create.
func (c *Correlator) applyDestroy(ctx context.Context, cs *channelState, event *models.Event) (*Outcome, error) {
	in := cs.resolve(event.OccurredAt)
	if in == nil {
		cs.recordOrphanDestroy(event.OccurredAt)
		metrics.RecordOutOfOrder("destroy_unmatched")
		logging.Debug().
			Str("namespace", event.NamespaceID).
			Str("channel", event.ChannelName).
			Time("occurred_at", event.OccurredAt).
			Msg("Destroy without covering instance parked for late create")
		return &Outcome{Change: ChangeNone}, nil
	}

	closed, err := c.closeInstanceSessions(ctx, cs, in, event.OccurredAt)
	if err != nil {
		return nil, err
	}
	cs.markDestroyed(in, event.OccurredAt)

	logging.Info().
		Str("instance_id", in.id).
		Int("sessions_closed", len(closed)).
		Msg("Channel instance destroyed")
	return &Outcome{Change: ChangeForcedClosed, Sessions: closed}, nil
}

// closeInstanceSessions force-closes all open sessions of an instance at
// endedAt. Forced closures keep a nil exit reason and stay eligible for
// reconciliation by a late leave.
func (c *Correlator) closeInstanceSessions(ctx context.Context, cs *channelState, in *instance, endedAt time.Time) ([]*models.Session, error) {
	open, err := c.store.ListOpenSessionsForInstance(ctx, in.id)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions for %s: %w", in.id, err)
	}

	seen := make(map[string]string, len(open))
	for _, s := range open {
		if prior, dup := seen[s.ParticipantID]; dup {
			metrics.RecordInvariantViolation("open_session_uniqueness")
			logging.Error().
				Str("instance_id", in.id).
				Str("participant", s.ParticipantID).
				Str("session_a", prior).
				Str("session_b", s.ID).
				Msg("Two open sessions for one correlation key")
			return nil, fmt.Errorf("%w: participant %s in instance %s",
				ErrInvariantViolation, s.ParticipantID, in.id)
		}
		seen[s.ParticipantID] = s.ID
	}

	closed := make([]*models.Session, 0, len(open))
	for _, s := range open {
		ended := endedAt
		if ended.Before(s.StartedAt) {
			ended = s.StartedAt
		}
		s.EndedAt = &ended
		s.IsClosed = true
		s.ForcedClose = true
		s.ExitReason = nil
		if err := c.store.UpsertSession(ctx, s); err != nil {
			return closed, fmt.Errorf("failed to force-close session %s: %w", s.ID, err)
		}
		metrics.RecordSessionClosed("channel_destroy")
		closed = append(closed, s)
	}
	return closed, nil
}

// applyJoin opens a session, widens an open one backward when the join
// carries an earlier timestamp, or ignores the join as a duplicate.
func (c *Correlator) applyJoin(ctx context.Context, cs *channelState, event *models.Event) (*Outcome, error) {
	mode, err := event.Kind.Mode()
	if err != nil {
		return nil, err
	}
	role, err := event.Kind.Role()
	if err != nil {
		return nil, err
	}

	in := cs.resolve(event.OccurredAt)
	if in == nil {
		in = cs.mintProvisional(event.OccurredAt)
	}

	open, err := c.store.GetOpenSession(ctx, in.id, event.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}

	if c.staleSeq(cs, in, event, open) {
		return &Outcome{Change: ChangeNone}, nil
	}

	if open == nil {
		session := &models.Session{
			ID:                uuid.New().String(),
			NamespaceID:       event.NamespaceID,
			ChannelName:       event.ChannelName,
			ParticipantID:     event.ParticipantID,
			ChannelInstanceID: in.id,
			StartedAt:         event.OccurredAt,
			CommunicationMode: mode,
			InitialRole:       role,
			FinalRole:         role,
			Platform:          event.PlatformHint,
			Product:           event.ProductHint,
			LastClientSeq:     event.ClientSeq,
		}
		change := ChangeOpened
		// A join inside the lifetime of an instance whose teardown was
		// already witnessed cannot outlive it.
		if in.destroyTS != nil {
			ended := *in.destroyTS
			if ended.Before(session.StartedAt) {
				ended = session.StartedAt
			}
			session.EndedAt = &ended
			session.IsClosed = true
			session.ForcedClose = true
			change = ChangeForcedClosed
		}
		if err := c.store.UpsertSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to open session: %w", err)
		}
		cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
		metrics.RecordSessionOpened()
		if session.IsClosed {
			metrics.RecordSessionClosed("channel_destroy")
			logging.Debug().
				Str("session_id", session.ID).
				Time("ended_at", *session.EndedAt).
				Msg("Join within ended instance closed at teardown")
		}
		return &Outcome{Change: change, Sessions: []*models.Session{session}}, nil
	}

	if event.OccurredAt.Before(open.StartedAt) {
		open.StartedAt = event.OccurredAt
		if event.ClientSeq > open.LastClientSeq {
			open.LastClientSeq = event.ClientSeq
		}
		if err := c.store.UpsertSession(ctx, open); err != nil {
			return nil, fmt.Errorf("failed to widen session start: %w", err)
		}
		cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
		metrics.RecordOutOfOrder("join_backdated")
		logging.Debug().
			Str("session_id", open.ID).
			Time("started_at", open.StartedAt).
			Msg("Open session start widened by earlier join")
		return &Outcome{Change: ChangeBackdated, Sessions: []*models.Session{open}}, nil
	}

	cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
	logging.Debug().
		Str("session_id", open.ID).
		Str("participant", event.ParticipantID).
		Msg("Duplicate join for open session ignored")
	return &Outcome{Change: ChangeNone}, nil
}

// applyRoleChange records a role transition on the participant's open
// session. Role changes with no open session are out-of-order noise.
func (c *Correlator) applyRoleChange(ctx context.Context, cs *channelState, event *models.Event) (*Outcome, error) {
	in := cs.resolve(event.OccurredAt)
	if in == nil {
		metrics.RecordOutOfOrder("role_change_no_session")
		return &Outcome{Change: ChangeNone}, nil
	}

	open, err := c.store.GetOpenSession(ctx, in.id, event.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}
	if open == nil {
		metrics.RecordOutOfOrder("role_change_no_session")
		logging.Debug().
			Str("instance_id", in.id).
			Str("participant", event.ParticipantID).
			Msg("Role change without open session ignored")
		return &Outcome{Change: ChangeNone}, nil
	}

	insertRoleChange(open, models.RoleChange{At: event.OccurredAt, Role: event.RoleHint})
	if err := c.store.UpsertSession(ctx, open); err != nil {
		return nil, fmt.Errorf("failed to apply role change: %w", err)
	}
	metrics.RoleChangesApplied.Inc()
	return &Outcome{Change: ChangeRoleChanged, Sessions: []*models.Session{open}}, nil
}

// applyLeave closes the participant's open session, reconciles a recent
// forced closure, or records an orphan leave-only session.
func (c *Correlator) applyLeave(ctx context.Context, cs *channelState, event *models.Event) (*Outcome, error) {
	mode, err := event.Kind.Mode()
	if err != nil {
		return nil, err
	}
	role, err := event.Kind.Role()
	if err != nil {
		return nil, err
	}

	// The leave's home instance: the one live at occurred_at, else one whose
	// teardown is recent enough for reconciliation, else a provisional
	// awaiting its create.
	in := cs.resolve(event.OccurredAt)
	if in == nil {
		in = cs.latestEndedBy(event.OccurredAt, c.window)
	}
	if in == nil {
		in = cs.mintProvisional(event.OccurredAt)
	}

	open, err := c.store.GetOpenSession(ctx, in.id, event.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}

	if c.staleSeq(cs, in, event, open) {
		return &Outcome{Change: ChangeNone}, nil
	}

	if open != nil && open.CommunicationMode == mode {
		ended := event.OccurredAt
		if ended.Before(open.StartedAt) {
			ended = open.StartedAt
		}
		open.EndedAt = &ended
		open.IsClosed = true
		open.ForcedClose = false
		open.ExitReason = copyReason(event.ReasonCode)
		if event.ClientSeq > open.LastClientSeq {
			open.LastClientSeq = event.ClientSeq
		}
		if err := c.store.UpsertSession(ctx, open); err != nil {
			return nil, fmt.Errorf("failed to close session %s: %w", open.ID, err)
		}
		cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
		metrics.RecordSessionClosed("leave")
		return &Outcome{Change: ChangeClosed, Sessions: []*models.Session{open}}, nil
	}

	// No open session to close: the hard case. A forced closure shortly
	// before this leave means the channel was torn down first and this is
	// the authoritative account of the exit.
	rec, err := c.store.GetLatestForcedClosure(ctx, in.id, event.ParticipantID, event.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to look up forced closure: %w", err)
	}
	if rec != nil && rec.EndedAt != nil && event.OccurredAt.Sub(*rec.EndedAt) <= c.window {
		ended := event.OccurredAt
		rec.EndedAt = &ended
		rec.ExitReason = copyReason(event.ReasonCode)
		rec.ForcedClose = false
		if err := c.store.UpsertSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to reconcile session %s: %w", rec.ID, err)
		}
		cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
		metrics.RecordReconciliation()
		logging.Info().
			Str("session_id", rec.ID).
			Str("participant", event.ParticipantID).
			Time("ended_at", ended).
			Msg("Forced closure reconciled by late leave")
		return &Outcome{Change: ChangeReconciled, Sessions: []*models.Session{rec}}, nil
	}

	ended := event.OccurredAt
	orphan := &models.Session{
		ID:                uuid.New().String(),
		NamespaceID:       event.NamespaceID,
		ChannelName:       event.ChannelName,
		ParticipantID:     event.ParticipantID,
		ChannelInstanceID: in.id,
		StartedAt:         event.OccurredAt,
		EndedAt:           &ended,
		IsClosed:          true,
		LeaveOnly:         true,
		CommunicationMode: mode,
		InitialRole:       role,
		FinalRole:         role,
		ExitReason:        copyReason(event.ReasonCode),
		Platform:          event.PlatformHint,
		Product:           event.ProductHint,
		LastClientSeq:     event.ClientSeq,
	}
	if err := c.store.UpsertSession(ctx, orphan); err != nil {
		return nil, fmt.Errorf("failed to record orphan leave: %w", err)
	}
	cs.rememberSeq(in.id, event.ParticipantID, event.ClientSeq)
	metrics.RecordLeaveOnly()
	logging.Debug().
		Str("instance_id", in.id).
		Str("participant", event.ParticipantID).
		Msg("Leave without correlatable session recorded as leave-only")
	return &Outcome{Change: ChangeLeaveOnly, Sessions: []*models.Session{orphan}}, nil
}

// staleSeq applies the client sequence guard for join/leave events. The
// guard consults both the in-memory high-water mark and the open session's
// persisted one, so restarts do not forget open sessions' positions. Events
// without a client_seq bypass the guard.
func (c *Correlator) staleSeq(cs *channelState, in *instance, event *models.Event, open *models.Session) bool {
	if event.ClientSeq <= 0 {
		return false
	}
	remembered := cs.rememberedSeq(in.id, event.ParticipantID)
	if open != nil && open.LastClientSeq > remembered {
		remembered = open.LastClientSeq
	}
	if event.ClientSeq >= remembered {
		return false
	}
	metrics.RecordStaleEvent(string(event.Kind))
	logging.Debug().
		Str("instance_id", in.id).
		Str("participant", event.ParticipantID).
		Int64("client_seq", event.ClientSeq).
		Int64("remembered_seq", remembered).
		Msg("Stale event dropped by sequence guard")
	return true
}

// insertRoleChange inserts a role change keeping the list sorted by
// timestamp, equal timestamps in arrival order, and refreshes the derived
// count and final role.
func insertRoleChange(s *models.Session, rc models.RoleChange) {
	i := len(s.RoleChanges)
	for i > 0 && s.RoleChanges[i-1].At.After(rc.At) {
		i--
	}
	s.RoleChanges = append(s.RoleChanges, models.RoleChange{})
	copy(s.RoleChanges[i+1:], s.RoleChanges[i:])
	s.RoleChanges[i] = rc
	s.RoleChangeCount = len(s.RoleChanges)
	s.FinalRole = s.RoleChanges[len(s.RoleChanges)-1].Role
}

func copyReason(reason *int) *int {
	if reason == nil {
		return nil
	}
	r := *reason
	return &r
}
