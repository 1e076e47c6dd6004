// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package wal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
)

// settledRetention is how long settled entries stay visible before
// compaction removes them. Long enough to inspect recent correlations,
// short enough to keep the store small.
const settledRetention = time.Hour

// Compactor periodically removes aged settled entries and runs value log
// garbage collection.
type Compactor struct {
	log       *Log
	interval  time.Duration
	retention time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCompactor creates a compactor ticking at interval.
func NewCompactor(log *Log, interval time.Duration) *Compactor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Compactor{log: log, interval: interval, retention: settledRetention}
}

// Start begins the background compaction loop.
func (c *Compactor) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(loopCtx)

	logging.Info().
		Dur("interval", c.interval).
		Dur("retention", c.retention).
		Msg("Journal compactor started")
}

// Stop cancels the loop and waits for it to exit.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("Journal compactor stopped")
}

// IsRunning reports whether the compactor is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compactor) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.compact()
		}
	}
}

// compact removes settled entries past retention and reclaims space.
func (c *Compactor) compact() {
	start := time.Now()

	removed, err := c.removeAgedSettled(start.Add(-c.retention))
	if err != nil {
		logging.Error().Err(err).Msg("Journal compaction could not remove settled entries")
	}

	if err := c.log.RunGC(); err != nil && !errors.Is(err, ErrClosed) {
		logging.Error().Err(err).Msg("Journal compaction gc failed")
	}

	c.log.mu.Lock()
	c.log.lastCompaction = start
	c.log.mu.Unlock()

	stats := c.log.Stats()
	metrics.RecordWALCompaction()

	if removed > 0 {
		logging.Info().
			Int("removed", removed).
			Int64("pending", stats.Pending).
			Int64("settled", stats.Settled).
			Dur("duration", time.Since(start)).
			Msg("Journal compaction complete")
	}
}

// removeAgedSettled deletes settled entries whose settlement predates the
// cutoff. Keys are collected under a read snapshot, then deleted in one
// write transaction.
func (c *Compactor) removeAgedSettled(cutoff time.Time) (int, error) {
	var aged [][]byte
	err := c.log.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSettled)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				aged = append(aged, item.KeyCopy(nil))
				continue
			}
			if entry.SettledAt != nil && entry.SettledAt.Before(cutoff) {
				aged = append(aged, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(aged) == 0 {
		return 0, nil
	}

	err = c.log.db.Update(func(txn *badger.Txn) error {
		for _, key := range aged {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(aged), nil
}
