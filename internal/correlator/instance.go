// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package correlator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// instance is one create-to-destroy lifecycle of a channel name. Provisional
// instances stand in for a create that has not been witnessed yet; their ids
// carry a suffix so they can be told apart and merged once the real create
// arrives.
type instance struct {
	id          string
	createTS    time.Time
	destroyTS   *time.Time
	provisional bool
}

// destroyed reports whether the instance lifetime had ended at ts. A destroy
// at exactly ts counts as ended.
func (in *instance) destroyed(ts time.Time) bool {
	return in.destroyTS != nil && !in.destroyTS.After(ts)
}

// channelState is the correlator's in-memory view of one channel name: its
// known instances plus the per-key client sequence guards. All access is
// serialized by the channel's stripe lock.
type channelState struct {
	namespaceID string
	channelName string

	// instances sorted by createTS ascending, id as tie-break, so merge
	// planning walks chronologically.
	instances []*instance

	// seqGuards remembers the highest client_seq applied per
	// (instance, participant) key.
	seqGuards map[string]int64

	loaded bool
}

func newChannelState(namespaceID, channelName string) *channelState {
	return &channelState{
		namespaceID: namespaceID,
		channelName: channelName,
		seqGuards:   make(map[string]int64),
	}
}

func (cs *channelState) realInstanceID(ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d", cs.namespaceID, cs.channelName, ts.UnixMilli())
}

func (cs *channelState) provisionalInstanceID(ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d_provisional", cs.namespaceID, cs.channelName, ts.UnixMilli())
}

func (cs *channelState) byID(id string) *instance {
	for _, in := range cs.instances {
		if in.id == id {
			return in
		}
	}
	return nil
}

func (cs *channelState) insert(in *instance) {
	cs.instances = append(cs.instances, in)
	sort.Slice(cs.instances, func(i, j int) bool {
		a, b := cs.instances[i], cs.instances[j]
		if !a.createTS.Equal(b.createTS) {
			return a.createTS.Before(b.createTS)
		}
		return a.id < b.id
	})
}

// resolve returns the most recent instance whose lifetime covers ts: created
// at or before ts and not destroyed at or before it. Nil when no instance
// covers ts.
func (cs *channelState) resolve(ts time.Time) *instance {
	var best *instance
	for _, in := range cs.instances {
		if in.createTS.After(ts) {
			continue
		}
		if in.destroyed(ts) {
			continue
		}
		if best == nil || in.createTS.After(best.createTS) {
			best = in
		}
	}
	return best
}

// latestEndedBy returns the most recently destroyed instance whose teardown
// happened at or before ts and no more than grace ago. Late leaves settle
// against it.
func (cs *channelState) latestEndedBy(ts time.Time, grace time.Duration) *instance {
	var best *instance
	for _, in := range cs.instances {
		if in.destroyTS == nil || in.destroyTS.After(ts) {
			continue
		}
		if ts.Sub(*in.destroyTS) > grace {
			continue
		}
		if best == nil || in.destroyTS.After(*best.destroyTS) {
			best = in
		}
	}
	return best
}

// mintProvisional registers (or returns) the provisional instance anchored at
// ts, for events that arrive before their channel's create.
func (cs *channelState) mintProvisional(ts time.Time) *instance {
	id := cs.provisionalInstanceID(ts)
	if existing := cs.byID(id); existing != nil {
		return existing
	}
	in := &instance{id: id, createTS: ts, provisional: true}
	cs.insert(in)
	return in
}

// recordOrphanDestroy keeps a destroy with no covering instance as a
// zero-lifetime provisional, so a create arriving later can inherit the
// teardown instead of leaving the instance open forever.
func (cs *channelState) recordOrphanDestroy(ts time.Time) *instance {
	in := cs.mintProvisional(ts)
	if in.destroyTS == nil {
		t := ts
		in.destroyTS = &t
	}
	return in
}

// markDestroyed ends an instance's lifetime at ts.
func (cs *channelState) markDestroyed(in *instance, ts time.Time) {
	t := ts
	in.destroyTS = &t
}

// createPlan is the pure outcome of planning a ChannelCreate: which real
// instance it mints, which provisional instances fold into it, and the
// teardown time inherited from them, if any. The plan mutates nothing so the
// caller can perform storage work first and commit only once it succeeds.
type createPlan struct {
	instanceID string
	createTS   time.Time
	destroyTS  *time.Time
	merged     []*instance
	existing   bool
}

// planCreate computes the merge plan for a create at ts. Provisional
// instances minted at or after ts belong to this instance, bounded by the
// next real create and by any teardown inherited along the chronological
// walk.
func (cs *channelState) planCreate(ts time.Time) createPlan {
	plan := createPlan{instanceID: cs.realInstanceID(ts), createTS: ts}
	if cs.byID(plan.instanceID) != nil {
		plan.existing = true
		return plan
	}

	var nextReal *time.Time
	for _, other := range cs.instances {
		if !other.provisional && other.createTS.After(ts) {
			t := other.createTS
			nextReal = &t
			break
		}
	}

	for _, p := range cs.instances {
		if !p.provisional || p.createTS.Before(ts) {
			continue
		}
		if nextReal != nil && !p.createTS.Before(*nextReal) {
			continue
		}
		if plan.destroyTS != nil && !p.createTS.Before(*plan.destroyTS) {
			continue
		}
		plan.merged = append(plan.merged, p)
		if p.destroyTS != nil && (plan.destroyTS == nil || p.destroyTS.Before(*plan.destroyTS)) {
			plan.destroyTS = p.destroyTS
		}
	}
	return plan
}

// commitCreate applies a plan: drops the merged provisionals, migrates their
// sequence guards, and registers the real instance. Returns the instance.
func (cs *channelState) commitCreate(plan createPlan) *instance {
	if plan.existing {
		return cs.byID(plan.instanceID)
	}

	in := &instance{id: plan.instanceID, createTS: plan.createTS, destroyTS: plan.destroyTS}
	if len(plan.merged) > 0 {
		drop := make(map[string]bool, len(plan.merged))
		for _, p := range plan.merged {
			drop[p.id] = true
			cs.migrateGuards(p.id, in.id)
		}
		kept := cs.instances[:0]
		for _, existing := range cs.instances {
			if !drop[existing.id] {
				kept = append(kept, existing)
			}
		}
		cs.instances = kept
	}
	cs.insert(in)
	return in
}

// restoreInstance re-registers an instance id found on open sessions after a
// restart. Returns false when the id does not parse as one of ours.
func (cs *channelState) restoreInstance(id string) bool {
	if cs.byID(id) != nil {
		return true
	}
	prefix := cs.namespaceID + "_" + cs.channelName + "_"
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	rest := strings.TrimPrefix(id, prefix)
	provisional := strings.HasSuffix(rest, "_provisional")
	msStr := strings.TrimSuffix(rest, "_provisional")
	ms, err := strconv.ParseInt(msStr, 10, 64)
	if err != nil {
		return false
	}
	cs.insert(&instance{
		id:          id,
		createTS:    time.UnixMilli(ms).UTC(),
		provisional: provisional,
	})
	return true
}

func guardKey(instanceID, participantID string) string {
	return instanceID + "\x00" + participantID
}

// rememberSeq advances the guard for a key. Lower values never regress it.
func (cs *channelState) rememberSeq(instanceID, participantID string, clientSeq int64) {
	if clientSeq <= 0 {
		return
	}
	key := guardKey(instanceID, participantID)
	if clientSeq > cs.seqGuards[key] {
		cs.seqGuards[key] = clientSeq
	}
}

// rememberedSeq returns the highest client_seq applied for a key.
func (cs *channelState) rememberedSeq(instanceID, participantID string) int64 {
	return cs.seqGuards[guardKey(instanceID, participantID)]
}

// migrateGuards rewrites guard keys when a provisional instance merges into
// the real one.
func (cs *channelState) migrateGuards(fromInstanceID, toInstanceID string) {
	prefix := fromInstanceID + "\x00"
	for key, seq := range cs.seqGuards {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		participant := strings.TrimPrefix(key, prefix)
		newKey := guardKey(toInstanceID, participant)
		if seq > cs.seqGuards[newKey] {
			cs.seqGuards[newKey] = seq
		}
		delete(cs.seqGuards, key)
	}
}
