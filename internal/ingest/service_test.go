// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/correlatus/correlatus/internal/dedup"
	"github.com/correlatus/correlatus/internal/models"
)

type fakeGate struct {
	inserted bool
	err      error
	events   []*models.Event
}

func (g *fakeGate) Admit(_ context.Context, event *models.Event) (bool, error) {
	g.events = append(g.events, event)
	if g.err != nil {
		return false, g.err
	}
	return g.inserted, nil
}

type fakeJournal struct {
	nextID     uint64
	appendErr  error
	discardErr error
	appended   []*models.Event
	discarded  []uint64
}

func (j *fakeJournal) Append(_ context.Context, event *models.Event) (uint64, error) {
	if j.appendErr != nil {
		return 0, j.appendErr
	}
	j.nextID++
	j.appended = append(j.appended, event)
	return j.nextID, nil
}

func (j *fakeJournal) Discard(id uint64) error {
	j.discarded = append(j.discarded, id)
	return j.discardErr
}

type fakePublisher struct {
	err    error
	events []*models.Event
	ids    []uint64
}

func (p *fakePublisher) PublishAdmitted(_ context.Context, event *models.Event, journalID uint64) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	p.ids = append(p.ids, journalID)
	return nil
}

func joinBody() []byte {
	return []byte(`{
		"noticeId": "ntc-1",
		"productId": 1,
		"eventType": 103,
		"notifyMs": 1700000000123,
		"payload": {
			"channelName": "lobby",
			"uid": 7001,
			"ts": 1700000000,
			"clientSeq": 5,
			"platform": 1
		}
	}`)
}

func TestSubmit_AcceptedFlow(t *testing.T) {
	gate := &fakeGate{inserted: true}
	journal := &fakeJournal{}
	pub := &fakePublisher{}
	svc := New(gate, journal, pub)

	result, err := svc.Submit(context.Background(), "acme", joinBody())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result != ResultAccepted {
		t.Errorf("result = %q, want %q", result, ResultAccepted)
	}
	if len(journal.appended) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(journal.appended))
	}
	if len(journal.discarded) != 0 {
		t.Errorf("discarded entries = %v, want none", journal.discarded)
	}
	if len(gate.events) != 1 {
		t.Fatalf("admitted events = %d, want 1", len(gate.events))
	}
	if gate.events[0].IngestedAt.IsZero() {
		t.Error("IngestedAt not stamped before admission")
	}
	if len(pub.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(pub.events))
	}
	if pub.ids[0] != 1 {
		t.Errorf("published journal id = %d, want 1", pub.ids[0])
	}
}

func TestSubmit_DuplicateDiscardsJournal(t *testing.T) {
	gate := &fakeGate{inserted: false}
	journal := &fakeJournal{}
	pub := &fakePublisher{}
	svc := New(gate, journal, pub)

	result, err := svc.Submit(context.Background(), "acme", joinBody())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result != ResultDuplicate {
		t.Errorf("result = %q, want %q", result, ResultDuplicate)
	}
	if len(journal.discarded) != 1 || journal.discarded[0] != 1 {
		t.Errorf("discarded = %v, want [1]", journal.discarded)
	}
	if len(pub.events) != 0 {
		t.Errorf("published events = %d, want 0", len(pub.events))
	}
}

func TestSubmit_MalformedStopsBeforeJournal(t *testing.T) {
	gate := &fakeGate{inserted: true}
	journal := &fakeJournal{}
	svc := New(gate, journal, &fakePublisher{})

	_, err := svc.Submit(context.Background(), "acme", []byte("{nope"))
	if !IsMalformed(err) {
		t.Fatalf("Submit() error = %v, want malformed", err)
	}
	if len(journal.appended) != 0 {
		t.Errorf("journal entries = %d, want 0", len(journal.appended))
	}
	if len(gate.events) != 0 {
		t.Errorf("gate saw %d events, want 0", len(gate.events))
	}
}

func TestSubmit_JournalFailureFailsClosed(t *testing.T) {
	gate := &fakeGate{inserted: true}
	journal := &fakeJournal{appendErr: errors.New("disk full")}
	svc := New(gate, journal, &fakePublisher{})

	_, err := svc.Submit(context.Background(), "acme", joinBody())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrStorageUnavailable", err)
	}
	if len(gate.events) != 0 {
		t.Errorf("gate saw %d events, want 0", len(gate.events))
	}
}

func TestSubmit_AdmissionFailureDiscardsEntry(t *testing.T) {
	gate := &fakeGate{err: dedup.ErrStorageUnavailable}
	journal := &fakeJournal{}
	pub := &fakePublisher{}
	svc := New(gate, journal, pub)

	_, err := svc.Submit(context.Background(), "acme", joinBody())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrStorageUnavailable", err)
	}
	if len(journal.discarded) != 1 {
		t.Errorf("discarded = %v, want one entry", journal.discarded)
	}
	if len(pub.events) != 0 {
		t.Errorf("published events = %d, want 0", len(pub.events))
	}
}

func TestSubmit_PublishFailureStillAccepts(t *testing.T) {
	gate := &fakeGate{inserted: true}
	journal := &fakeJournal{}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := New(gate, journal, pub)

	result, err := svc.Submit(context.Background(), "acme", joinBody())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result != ResultAccepted {
		t.Errorf("result = %q, want %q", result, ResultAccepted)
	}
	if len(journal.discarded) != 0 {
		t.Error("journal entry discarded, want pending for replay")
	}
}

func TestSubmit_WithoutJournal(t *testing.T) {
	gate := &fakeGate{inserted: true}
	pub := &fakePublisher{}
	svc := New(gate, nil, pub)

	result, err := svc.Submit(context.Background(), "acme", joinBody())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result != ResultAccepted {
		t.Errorf("result = %q, want %q", result, ResultAccepted)
	}
	if len(pub.ids) != 1 || pub.ids[0] != 0 {
		t.Errorf("published journal ids = %v, want [0]", pub.ids)
	}
}
