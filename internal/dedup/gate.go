// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package dedup

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/correlatus/correlatus/internal/cache"
	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/database"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// ErrStorageUnavailable is returned when the event store cannot give an
// authoritative duplicate verdict. The event is neither admitted nor
// rejected; the caller should retry the delivery.
var ErrStorageUnavailable = errors.New("dedup: event store unavailable, failing closed")

// breakerName labels the gate's breaker in logs and metrics.
const breakerName = "dedup-store"

// EventStore is the slice of the database the gate needs: a race-free
// insert whose inserted=false answer is the authoritative duplicate verdict.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.Event) (inserted bool, err error)
}

// Gate is the deduplication gate in front of the correlator. Two layers:
// a bounded recency cache answers the common redelivery burst without
// touching storage, and the event store's unique index arbitrates
// everything else. Cache eviction can never readmit a duplicate because
// the store layer is authoritative.
//
// When the store cannot answer, Admit fails closed: better to make the
// source redeliver than to let one notification open two sessions.
type Gate struct {
	recency *cache.RecencyCache
	store   EventStore
	breaker *gobreaker.CircuitBreaker[bool]
	timeout time.Duration
}

// New creates the gate with its recency cache and store breaker.
func New(cfg *config.DedupConfig, store EventStore) *Gate {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	failureThreshold := cfg.BreakerFailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Warn().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("Dedup store breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &Gate{
		recency: cache.NewRecencyCache(cacheSize, cacheTTL),
		store:   store,
		breaker: breaker,
		timeout: timeout,
	}
}

// Admit decides one event. Returns (true, nil) when the event is new and
// has been durably appended to the event store; (false, nil) when it is a
// duplicate (idempotent no-op for the caller); (false, ErrStorageUnavailable)
// when no authoritative verdict was possible.
func (g *Gate) Admit(ctx context.Context, event *models.Event) (bool, error) {
	key := event.DedupKey()

	// Fast path: recently seen keys never reach storage. Seen records the
	// key atomically, so of N concurrent submitters of one key at most one
	// proceeds to the store.
	if g.recency.Seen(key) {
		metrics.RecordDuplicate("cache")
		logging.Debug().
			Str("dedup_key", key).
			Str("event_kind", string(event.Kind)).
			Msg("Duplicate suppressed by recency cache")
		g.publishCacheSize()
		return false, nil
	}
	g.publishCacheSize()

	// Authoritative path: the insert is the durability check. The unique
	// index makes it race-free across processes, not just goroutines.
	metrics.RecordDedupStoreCheck()
	storeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	inserted, err := g.breaker.Execute(func() (bool, error) {
		return g.store.InsertEvent(storeCtx, event)
	})
	if err != nil {
		// The key was provisionally recorded by Seen above. Drop it so a
		// redelivery of this event is not mistaken for a duplicate.
		g.recency.Forget(key)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
			metrics.IngestStorageUnavailable.Inc()
			return false, ErrStorageUnavailable
		}

		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		if database.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded) {
			metrics.IngestStorageUnavailable.Inc()
			logging.Error().
				Err(err).
				Str("dedup_key", key).
				Msg("Event store unreachable, failing closed")
			return false, ErrStorageUnavailable
		}
		return false, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()

	if !inserted {
		metrics.RecordDuplicate("store")
		logging.Debug().
			Str("dedup_key", key).
			Str("event_kind", string(event.Kind)).
			Msg("Duplicate detected by event store")
		return false, nil
	}

	return true, nil
}

// Forget removes a key from the recency cache. Admin escape hatch for
// replaying a notification on purpose; the store layer still rejects keys
// it has already admitted.
func (g *Gate) Forget(key string) bool {
	return g.recency.Forget(key)
}

// Warm seeds the recency cache, newest last so eviction order matches
// admission order. Called on startup with the most recently admitted keys.
func (g *Gate) Warm(keys []string, firstSeen time.Time) {
	for _, key := range keys {
		g.recency.Record(key, firstSeen)
	}
	g.publishCacheSize()
}

// Stats reports recency cache counters for the admin surface.
func (g *Gate) Stats() GateStats {
	hits, misses, size := g.recency.Stats()
	return GateStats{
		CacheHits:    hits,
		CacheMisses:  misses,
		CacheSize:    size,
		BreakerState: stateToString(g.breaker.State()),
	}
}

// GateStats is the dedup admin endpoint payload.
type GateStats struct {
	CacheHits    int64  `json:"cache_hits"`
	CacheMisses  int64  `json:"cache_misses"`
	CacheSize    int    `json:"cache_size"`
	BreakerState string `json:"breaker_state"`
}

// SweepExpired drops expired cache entries. Run periodically under the
// supervision tree.
func (g *Gate) SweepExpired() int {
	n := g.recency.SweepExpired()
	g.publishCacheSize()
	return n
}

func (g *Gate) publishCacheSize() {
	metrics.DedupCacheSize.Set(float64(g.recency.Len()))
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
