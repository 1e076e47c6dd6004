// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package cache provides thread-safe in-memory caching for deduplication and
query results.

Two structures live here, each tuned for a different access pattern:

  - RecencyCache: a bounded LRU keyed by event dedup keys. The ingestion
    dedup gate consults it before touching the event store, so the common
    case (a redelivered notification arriving seconds after the original)
    is rejected without a database round trip.
  - Cache: an unbounded TTL map used by the query API to hold computed
    responses (day metrics, quality reports, concurrency series) for a
    short window.

# RecencyCache

The recency cache stores the first-seen timestamp per dedup key and caps
memory with LRU eviction. Eviction is why it can only serve as a first-pass
filter: a key falling out of the cache says nothing about whether the event
was processed, so a miss must be confirmed against the event store.

	rc := cache.NewRecencyCache(10000, time.Hour)
	if rc.Seen(key) {
	    // duplicate, reject without storage access
	}

Seen performs the check and the record under one lock acquisition, so two
concurrent submissions of the same key cannot both pass.

# Query cache

The TTL cache holds arbitrary values and expires them lazily on read plus
a periodic sweep:

	qc := cache.New(5 * time.Minute)
	qc.Set(cache.GenerateKey("channel_day", params), metric)
	if v, ok := qc.Get(key); ok {
	    return v.(*models.ChannelDayMetric), nil
	}

Writes to the underlying stores invalidate with Clear; the aggregator calls
it after every recompute so readers never see metrics older than one TTL
past the last rebuild.
*/
package cache
