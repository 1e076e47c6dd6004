// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// Journal errors.
var (
	ErrClosed        = errors.New("wal: journal is closed")
	ErrNilEvent      = errors.New("wal: event cannot be nil")
	ErrEntryNotFound = errors.New("wal: entry not found")
)

// Key prefixes. Entry keys append the big-endian id to the prefix, so badger
// iteration walks them in id order.
const (
	prefixPending = "pending:"
	prefixSettled = "settled:"
	sequenceKey   = "journal_seq"
)

// sequenceBandwidth is the id lease size. A crash burns the unused part of
// the lease, leaving a gap; ids stay unique and increasing.
const sequenceBandwidth = 128

// gcRatio is the value log rewrite threshold for garbage collection.
const gcRatio = 0.5

// Entry is one journaled admission. Attempts and LastError track re-handoff
// history for entries whose correlation did not settle on the first pass.
type Entry struct {
	ID            uint64        `json:"id"`
	Event         *models.Event `json:"event"`
	CreatedAt     time.Time     `json:"created_at"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt time.Time     `json:"last_attempt_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

// Stats is a point-in-time view of the journal for monitoring.
type Stats struct {
	Pending        int64
	Settled        int64
	TotalAppends   int64
	TotalCommits   int64
	TotalRetries   int64
	LastCompaction time.Time
	SizeBytes      int64
}

// Log is the BadgerDB-backed journal. Safe for concurrent use. Appends are
// synchronous writes; an Append that returns is on disk.
type Log struct {
	db         *badger.DB
	seq        *badger.Sequence
	retryLimit int

	totalAppends atomic.Int64
	totalCommits atomic.Int64
	totalRetries atomic.Int64

	mu             sync.RWMutex
	closed         bool
	lastCompaction time.Time

	// claims guards against the retry loop and startup replay handing the
	// same entry to the pipeline at once.
	claims sync.Map
}

// Open creates or reopens the journal at cfg.Dir.
func Open(cfg *config.WALConfig) (*Log, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = true
	opts.NumCompactors = 2
	opts.Compression = options.Snappy
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open journal sequence: %w", err)
	}

	retryLimit := cfg.MaxRetries
	if retryLimit <= 0 {
		retryLimit = 10
	}

	log := &Log{
		db:             db,
		seq:            seq,
		retryLimit:     retryLimit,
		lastCompaction: time.Now(),
	}
	logging.Info().
		Str("dir", cfg.Dir).
		Int("retry_limit", retryLimit).
		Msg("Journal opened")
	return log, nil
}

// Append stages one event as a pending entry and returns its id. Ids start
// at 1 so callers can use 0 as "no entry".
func (l *Log) Append(ctx context.Context, event *models.Event) (uint64, error) {
	if l.isClosed() {
		return 0, ErrClosed
	}
	if event == nil {
		return 0, ErrNilEvent
	}

	next, err := l.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next journal id: %w", err)
	}
	id := next + 1

	entry := &Entry{
		ID:        id,
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal journal entry: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("write journal entry: %w", err)
	}

	l.totalAppends.Add(1)
	metrics.RecordWALAppend()
	return id, nil
}

// Commit settles a pending entry after its correlation landed. The entry
// moves to the settled keyspace and is removed by the next compaction run
// past the retention window.
func (l *Log) Commit(id uint64) error {
	if l.isClosed() {
		return ErrClosed
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get pending entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		now := time.Now().UTC()
		entry.SettledAt = &now

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal settled entry: %w", err)
		}
		if err := txn.Set(settledKey(id), data); err != nil {
			return fmt.Errorf("set settled entry: %w", err)
		}
		return txn.Delete(pendingKey(id))
	})
	if err != nil {
		return err
	}

	l.totalCommits.Add(1)
	return nil
}

// Discard removes a pending entry that no longer covers anything, such as a
// duplicate or a failed admission.
func (l *Log) Discard(id uint64) error {
	if l.isClosed() {
		return ErrClosed
	}

	return l.db.Update(func(txn *badger.Txn) error {
		key := pendingKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return fmt.Errorf("get pending entry: %w", err)
		}
		return txn.Delete(key)
	})
}

// Pending returns all unsettled entries in admission order from a consistent
// snapshot.
func (l *Log) Pending(ctx context.Context) ([]*Entry, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}

	var entries []*Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().
					Err(err).
					Str("key", string(it.Item().Key())).
					Msg("Skipping unreadable journal entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// MarkAttempt records a failed handoff on a pending entry.
func (l *Log) MarkAttempt(id uint64, cause string) error {
	if l.isClosed() {
		return ErrClosed
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		key := pendingKey(id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get pending entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = cause

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}

	l.totalRetries.Add(1)
	return nil
}

// deleteEntry removes an entry from both keyspaces. Used when an entry
// exceeds the retry limit.
func (l *Log) deleteEntry(id uint64) error {
	return l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(pendingKey(id)); err != nil {
			return err
		}
		return txn.Delete(settledKey(id))
	})
}

// Stats counts both keyspaces and refreshes the pending depth gauge.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	closed := l.closed
	lastCompaction := l.lastCompaction
	l.mu.RUnlock()
	if closed {
		return Stats{}
	}

	var pending, settled int64
	if err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pendingPrefix := []byte(prefixPending)
		for it.Seek(pendingPrefix); it.ValidForPrefix(pendingPrefix); it.Next() {
			pending++
		}
		settledPrefix := []byte(prefixSettled)
		for it.Seek(settledPrefix); it.ValidForPrefix(settledPrefix); it.Next() {
			settled++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("Journal stats count failed")
	}

	lsm, vlog := l.db.Size()
	metrics.UpdateWALPendingDepth(pending)

	return Stats{
		Pending:        pending,
		Settled:        settled,
		TotalAppends:   l.totalAppends.Load(),
		TotalCommits:   l.totalCommits.Load(),
		TotalRetries:   l.totalRetries.Load(),
		LastCompaction: lastCompaction,
		SizeBytes:      lsm + vlog,
	}
}

// RunGC rewrites the value log until badger reports nothing left to reclaim.
func (l *Log) RunGC() error {
	if l.isClosed() {
		return ErrClosed
	}
	for {
		err := l.db.RunValueLogGC(gcRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal gc: %w", err)
		}
	}
}

// Close releases the id sequence and shuts the store down, giving up after
// closeTimeout so shutdown cannot hang on a wedged compaction.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Journal sequence release failed")
	}

	done := make(chan error, 1)
	go func() {
		done <- l.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close journal store: %w", err)
		}
		logging.Info().Msg("Journal closed")
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("journal close timed out after %v", closeTimeout)
	}
}

const closeTimeout = 30 * time.Second

// tryClaim marks an entry as in flight. Callers must release the claim when
// done; a false return means another goroutine holds it.
func (l *Log) tryClaim(id uint64) bool {
	_, held := l.claims.LoadOrStore(id, time.Now())
	return !held
}

func (l *Log) release(id uint64) {
	l.claims.Delete(id)
}

func (l *Log) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func pendingKey(id uint64) []byte { return entryKey(prefixPending, id) }
func settledKey(id uint64) []byte { return entryKey(prefixSettled, id) }

func entryKey(prefix string, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}
