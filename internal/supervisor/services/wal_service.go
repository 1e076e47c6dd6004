// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package services

import (
	"context"
)

// JournalWorker matches the lifecycle of the journal's background
// loops. Satisfied by *wal.RetryLoop and *wal.Compactor; Start spawns
// the worker goroutine and Stop blocks until it has exited.
type JournalWorker interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// JournalRetryService supervises the journal retry loop, which
// periodically re-dispatches pending entries whose delivery failed.
type JournalRetryService struct {
	worker JournalWorker
	name   string
}

// NewJournalRetryService wraps the retry loop as a supervised service.
func NewJournalRetryService(worker JournalWorker) *JournalRetryService {
	return &JournalRetryService{worker: worker, name: "journal-retry"}
}

// Serve implements suture.Service. The worker owns its goroutine; this
// method starts it, parks until shutdown, then waits for it to stop.
func (s *JournalRetryService) Serve(ctx context.Context) error {
	s.worker.Start(ctx)
	<-ctx.Done()
	s.worker.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *JournalRetryService) String() string {
	return s.name
}

// JournalCompactionService supervises the journal compactor, which
// removes settled entries past their retention window and runs value
// log garbage collection.
type JournalCompactionService struct {
	worker JournalWorker
	name   string
}

// NewJournalCompactionService wraps the compactor as a supervised service.
func NewJournalCompactionService(worker JournalWorker) *JournalCompactionService {
	return &JournalCompactionService{worker: worker, name: "journal-compaction"}
}

// Serve implements suture.Service.
func (s *JournalCompactionService) Serve(ctx context.Context) error {
	s.worker.Start(ctx)
	<-ctx.Done()
	s.worker.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *JournalCompactionService) String() string {
	return s.name
}
