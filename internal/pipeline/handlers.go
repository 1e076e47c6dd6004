// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/aggregate"
	"github.com/correlatus/correlatus/internal/correlator"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
	"github.com/correlatus/correlatus/internal/wal"
)

// SessionChange is the payload carried on sessions.changed: what one
// event did and the post-application state of every session it touched.
type SessionChange struct {
	Change   correlator.ChangeKind `json:"change"`
	Sessions []*models.Session     `json:"sessions"`
}

// MetricsRefresh is the payload carried on metrics.refreshed, naming the
// partitions whose rollups were just recomputed.
type MetricsRefresh struct {
	Partitions  []aggregate.Partition `json:"partitions"`
	RefreshedAt time.Time             `json:"refreshed_at"`
}

// handleAdmitted correlates one admitted event and, when session rows
// changed, emits a sessions.changed notice.
//
// Error handling follows the middleware split: undecodable payloads are
// permanent, correlation failures are transient. The journal entry is
// settled as soon as correlation lands; a failed settle is only logged
// because the retry loop re-hands the entry and re-correlation is
// idempotent.
func (p *Pipeline) handleAdmitted(msg *message.Message) ([]*message.Message, error) {
	start := time.Now()

	var event models.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.RecordPipelineConsume(TopicEventsAdmitted, time.Since(start), err)
		return nil, NewPermanentError("decode admitted event", err)
	}

	ctx := msg.Context()
	outcome, err := p.correlator.Process(ctx, &event)
	if err != nil {
		metrics.RecordPipelineConsume(TopicEventsAdmitted, time.Since(start), err)
		return nil, fmt.Errorf("correlate %s: %w", event.DedupKey(), err)
	}

	p.settle(msg)
	metrics.RecordPipelineConsume(TopicEventsAdmitted, time.Since(start), nil)

	if !outcome.SessionsChanged() {
		return nil, nil
	}

	out, err := newSessionChangeMessage(outcome)
	if err != nil {
		return nil, NewPermanentError("encode session change", err)
	}
	metrics.RecordPipelinePublish(TopicSessionsChanged)
	return []*message.Message{out}, nil
}

// handleSessionsChanged recomputes every metric partition the changed
// sessions touch and announces the refresh.
func (p *Pipeline) handleSessionsChanged(msg *message.Message) ([]*message.Message, error) {
	start := time.Now()

	var change SessionChange
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		metrics.RecordPipelineConsume(TopicSessionsChanged, time.Since(start), err)
		return nil, NewPermanentError("decode session change", err)
	}
	if len(change.Sessions) == 0 {
		metrics.RecordPipelineConsume(TopicSessionsChanged, time.Since(start), nil)
		return nil, nil
	}

	ctx := msg.Context()
	if err := p.aggregator.RecomputeForSessions(ctx, change.Sessions); err != nil {
		metrics.RecordPipelineConsume(TopicSessionsChanged, time.Since(start), err)
		return nil, fmt.Errorf("recompute partitions: %w", err)
	}
	metrics.RecordPipelineConsume(TopicSessionsChanged, time.Since(start), nil)

	refresh := MetricsRefresh{
		Partitions:  aggregate.AffectedPartitions(change.Sessions),
		RefreshedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(refresh)
	if err != nil {
		return nil, NewPermanentError("encode metrics refresh", err)
	}

	out := message.NewMessage(watermill.NewUUID(), payload)
	metrics.RecordPipelinePublish(TopicMetricsRefreshed)
	return []*message.Message{out}, nil
}

// settle commits the journal entry named in the message metadata, if any.
// A missing entry means a replay or an earlier delivery already settled
// it.
func (p *Pipeline) settle(msg *message.Message) {
	if p.journal == nil {
		return
	}
	raw := msg.Metadata.Get(metadataJournalEntry)
	if raw == "" {
		return
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		logging.Warn().Str("journal_entry", raw).Msg("Admitted event carries unparseable journal entry id")
		return
	}

	if err := p.journal.Commit(id); err != nil && !errors.Is(err, wal.ErrEntryNotFound) {
		logging.Warn().Err(err).
			Uint64("journal_entry", id).
			Msg("Journal commit failed, retry loop will settle the entry")
	}
}

func newSessionChangeMessage(outcome *correlator.Outcome) (*message.Message, error) {
	payload, err := json.Marshal(SessionChange{
		Change:   outcome.Change,
		Sessions: outcome.Sessions,
	})
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataChange, string(outcome.Change))
	return msg, nil
}
