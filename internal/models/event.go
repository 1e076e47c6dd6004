// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package models

import (
	"fmt"
	"time"
)

// EventKind is the closed set of normalized notification kinds. Wire-level
// numeric codes are mapped to this set at the ingestion boundary so that the
// correlator never branches on raw magic numbers.
type EventKind string

// Normalized event kinds.
const (
	KindChannelCreate    EventKind = "channel_create"
	KindChannelDestroy   EventKind = "channel_destroy"
	KindBroadcasterJoin  EventKind = "broadcaster_join"
	KindBroadcasterLeave EventKind = "broadcaster_leave"
	KindAudienceJoin     EventKind = "audience_join"
	KindAudienceLeave    EventKind = "audience_leave"
	KindCommJoin         EventKind = "comm_join"
	KindCommLeave        EventKind = "comm_leave"
	KindRoleChange       EventKind = "role_change"
)

// CommunicationMode distinguishes live-streaming presence (host/audience
// split) from peer-to-peer communication presence.
type CommunicationMode string

// Communication modes.
const (
	ModeLiveStreaming CommunicationMode = "interactive_live_streaming"
	ModePeerComm      CommunicationMode = "peer_communication"
)

// Role is a participant's role within a live-streaming channel. Peer
// communication participants are host-equivalent for minute attribution.
type Role string

// Participant roles.
const (
	RoleHost     Role = "host"
	RoleAudience Role = "audience"
)

// IsJoin reports whether the kind opens a session.
func (k EventKind) IsJoin() bool {
	switch k {
	case KindBroadcasterJoin, KindAudienceJoin, KindCommJoin:
		return true
	}
	return false
}

// IsLeave reports whether the kind closes a session.
func (k EventKind) IsLeave() bool {
	switch k {
	case KindBroadcasterLeave, KindAudienceLeave, KindCommLeave:
		return true
	}
	return false
}

// IsChannelLifecycle reports whether the kind affects the channel instance
// rather than a single participant.
func (k EventKind) IsChannelLifecycle() bool {
	return k == KindChannelCreate || k == KindChannelDestroy
}

// Mode returns the communication mode implied by a join/leave kind.
// Returns an error for kinds that carry no mode (lifecycle, role change).
func (k EventKind) Mode() (CommunicationMode, error) {
	switch k {
	case KindBroadcasterJoin, KindBroadcasterLeave, KindAudienceJoin, KindAudienceLeave:
		return ModeLiveStreaming, nil
	case KindCommJoin, KindCommLeave:
		return ModePeerComm, nil
	}
	return "", fmt.Errorf("event kind %q carries no communication mode", k)
}

// Role returns the participant role implied by a join/leave kind.
// Comm participants are host-equivalent.
func (k EventKind) Role() (Role, error) {
	switch k {
	case KindBroadcasterJoin, KindBroadcasterLeave, KindCommJoin, KindCommLeave:
		return RoleHost, nil
	case KindAudienceJoin, KindAudienceLeave:
		return RoleAudience, nil
	}
	return "", fmt.Errorf("event kind %q carries no role", k)
}

// Valid reports whether k is a member of the closed kind set.
func (k EventKind) Valid() bool {
	switch k {
	case KindChannelCreate, KindChannelDestroy,
		KindBroadcasterJoin, KindBroadcasterLeave,
		KindAudienceJoin, KindAudienceLeave,
		KindCommJoin, KindCommLeave,
		KindRoleChange:
		return true
	}
	return false
}

// Event is one immutable normalized notification fact. Events are append-only
// and never mutated after ingestion.
//
// Identity: (NamespaceID, NoticeID) when the wire carried a notice id,
// otherwise the fallback tuple (NamespaceID, ChannelName, ParticipantID,
// Kind, ClientSeq, OccurredAt). DedupKey derives the stable string form used
// by the deduplication gate and the event store's unique index.
type Event struct {
	ID            int64     `json:"id" db:"id"`
	NamespaceID   string    `json:"namespace_id" db:"namespace_id"`
	NoticeID      string    `json:"notice_id" db:"notice_id"`
	ChannelName   string    `json:"channel_name" db:"channel_name"`
	ParticipantID string    `json:"participant_id,omitempty" db:"participant_id"`
	Kind          EventKind `json:"event_kind" db:"event_kind"`

	// SequenceNo is the notification sequence hint (wire notifyMs). Zero when
	// the wire omitted it. Used only for deterministic tie-breaking between
	// events with identical timestamps.
	SequenceNo int64 `json:"sequence_no,omitempty" db:"sequence_no"`

	// ClientSeq is the client-side action counter. Zero when absent. Events
	// carrying a lower ClientSeq than one already applied for the same
	// (channel instance, participant) are stale.
	ClientSeq int64 `json:"client_seq,omitempty" db:"client_seq"`

	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
	RoleHint     Role      `json:"role_hint,omitempty" db:"role_hint"`
	PlatformHint string    `json:"platform_hint,omitempty" db:"platform_hint"`
	ProductHint  string    `json:"product_hint,omitempty" db:"product_hint"`
	ReasonCode   *int      `json:"reason_code,omitempty" db:"reason_code"`

	// SessionRef is the delivery-side correlation id (wire sid), opaque here.
	SessionRef string `json:"session_ref,omitempty" db:"session_ref"`

	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// DedupKey returns the stable deduplication key for the event. Prefers the
// wire notice id; falls back to the identity tuple for sources that do not
// assign one.
func (e *Event) DedupKey() string {
	if e.NoticeID != "" {
		return e.NamespaceID + ":" + e.NoticeID
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d",
		e.NamespaceID, e.ChannelName, e.ParticipantID, e.Kind,
		e.ClientSeq, e.OccurredAt.UnixMilli())
}

// Exit reason codes carried by leave events. The scorer's penalty model is
// keyed on these. Reason values outside this set pass through untouched.
const (
	ReasonUnknown      = 0
	ReasonNormal       = 1
	ReasonTimeout      = 2
	ReasonNoPermission = 3
	ReasonServerLoad   = 4
	ReasonDeviceSwitch = 5
	ReasonMultiIP      = 9
	ReasonNetwork      = 10
	ReasonAbnormal     = 999
)
