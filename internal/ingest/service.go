// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// ErrStorageUnavailable is returned when an event could not be durably
// recorded. Nothing was admitted; the caller should retry the delivery.
var ErrStorageUnavailable = errors.New("ingest: durable admission unavailable")

// Result is the terminal outcome of a successful submission.
type Result string

// Submission outcomes. Duplicate is success: the earlier delivery already
// owns the event.
const (
	ResultAccepted  Result = "accepted"
	ResultDuplicate Result = "duplicate"
)

// Gate decides whether an event is new and durably appends it when so.
// *dedup.Gate satisfies it.
type Gate interface {
	Admit(ctx context.Context, event *models.Event) (bool, error)
}

// Journal stages events for crash-safe correlation. An entry is appended
// before admission and settled by the pipeline once correlation lands, so a
// crash anywhere between leaves a pending entry for startup replay.
// *wal.Log satisfies it.
type Journal interface {
	Append(ctx context.Context, event *models.Event) (uint64, error)
	Discard(id uint64) error
}

// Publisher hands an admitted event to the correlation pipeline. The journal
// id travels with the message so the pipeline can settle the entry after
// correlating. *pipeline.Pipeline satisfies it.
type Publisher interface {
	PublishAdmitted(ctx context.Context, event *models.Event, journalID uint64) error
}

// Service runs one notification from raw bytes to an admitted, published
// event. Safe for concurrent use.
type Service struct {
	gate      Gate
	journal   Journal
	publisher Publisher
}

// New creates the submission service. journal may be nil when journaling is
// disabled; publisher may be nil in tests, but production wiring always sets
// it so admitted events reach the correlator.
func New(gate Gate, journal Journal, publisher Publisher) *Service {
	return &Service{gate: gate, journal: journal, publisher: publisher}
}

// Submit decodes, journals, admits, and publishes one notification.
//
// The order matters: the journal entry is staged before the dedup gate runs,
// so an event can never be admitted without a pending entry covering it. A
// crash after admission is repaired by journal replay; a crash before it
// leaves at most a discardable entry. Duplicate and failed admissions
// discard their staged entry.
func (s *Service) Submit(ctx context.Context, namespaceID string, body []byte) (result Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordIngest(resultLabel(result, err), time.Since(start))
	}()

	event, err := Decode(namespaceID, body)
	if err != nil {
		logging.Debug().
			Err(err).
			Str("namespace_id", namespaceID).
			Msg("Notification rejected at decode")
		return "", err
	}
	event.IngestedAt = time.Now().UTC()

	var journalID uint64
	if s.journal != nil {
		journalID, err = s.journal.Append(ctx, event)
		if err != nil {
			logging.Error().
				Err(err).
				Str("dedup_key", event.DedupKey()).
				Msg("Journal append failed, refusing event")
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	inserted, err := s.gate.Admit(ctx, event)
	if err != nil {
		s.discard(journalID)
		logging.Error().
			Err(err).
			Str("dedup_key", event.DedupKey()).
			Msg("Event admission failed")
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !inserted {
		s.discard(journalID)
		logging.Debug().
			Str("dedup_key", event.DedupKey()).
			Msg("Duplicate notification acknowledged")
		return ResultDuplicate, nil
	}

	metrics.RecordAccepted(string(event.Kind))
	if s.publisher != nil {
		if perr := s.publisher.PublishAdmitted(ctx, event, journalID); perr != nil {
			// The event store has it and the journal entry is still
			// pending, so replay will carry it to the correlator.
			logging.Warn().
				Err(perr).
				Str("dedup_key", event.DedupKey()).
				Msg("Failed to hand admitted event to pipeline, journal replay will retry")
		}
	}
	logging.Debug().
		Str("namespace_id", event.NamespaceID).
		Str("channel", event.ChannelName).
		Str("kind", string(event.Kind)).
		Msg("Event admitted")
	return ResultAccepted, nil
}

// discard drops a staged journal entry that no longer covers anything.
func (s *Service) discard(journalID uint64) {
	if s.journal == nil || journalID == 0 {
		return
	}
	if err := s.journal.Discard(journalID); err != nil {
		logging.Warn().
			Err(err).
			Uint64("journal_id", journalID).
			Msg("Failed to discard journal entry")
	}
}

// resultLabel collapses an outcome to the metric label vocabulary.
func resultLabel(result Result, err error) string {
	switch {
	case err == nil:
		return string(result)
	case IsMalformed(err):
		return "malformed"
	case errors.Is(err, ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
