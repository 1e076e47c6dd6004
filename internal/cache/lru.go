// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package cache

import (
	"sync"
	"time"
)

// lruEntry is a node in the recency list. The value is the first-seen
// timestamp of the dedup key.
type lruEntry struct {
	key       string
	firstSeen time.Time
	prev      *lruEntry
	next      *lruEntry
	expiresAt time.Time
}

// RecencyCache is a thread-safe LRU cache of recently seen dedup keys with
// TTL support. It backs the fast path of the deduplication gate: lookups,
// inserts, and eviction are all O(1) via a doubly-linked list plus hashmap.
//
// The cache is bounded, so absence of a key is never proof the event is new.
// Callers must treat a miss as "unknown" and fall through to the event store.
type RecencyCache struct {
	mu sync.RWMutex

	// capacity is the maximum number of tracked keys
	capacity int

	// ttl is how long a key counts as recently seen
	ttl time.Duration

	// items maps dedup keys to list nodes for O(1) lookup
	items map[string]*lruEntry

	// head and tail are sentinel nodes for the doubly-linked list.
	// head.next is the most recently seen, tail.prev the least.
	head *lruEntry
	tail *lruEntry

	// stats
	hits   int64
	misses int64
}

// NewRecencyCache creates a recency cache with the given capacity and TTL.
func NewRecencyCache(capacity int, ttl time.Duration) *RecencyCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &RecencyCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry, capacity),
		head:     &lruEntry{},
		tail:     &lruEntry{},
	}

	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Seen reports whether the key was seen within the TTL and, if not, records
// it with the current timestamp. Check and record happen under a single lock
// acquisition so concurrent submissions of the same key cannot both pass.
func (c *RecencyCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if entry, exists := c.items[key]; exists {
		if !now.After(entry.expiresAt) {
			c.moveToFront(entry)
			c.hits++
			return true
		}
		// Expired, remove and treat as new
		c.removeEntry(entry)
	}

	entry := &lruEntry{
		key:       key,
		firstSeen: now,
		expiresAt: now.Add(c.ttl),
	}
	c.addToFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}

	c.misses++
	return false
}

// FirstSeen returns the first-seen timestamp for a key.
// Found entries are moved to the front (most recently used).
func (c *RecencyCache) FirstSeen(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		if time.Now().After(entry.expiresAt) {
			c.removeEntry(entry)
			c.misses++
			return time.Time{}, false
		}

		c.moveToFront(entry)
		c.hits++
		return entry.firstSeen, true
	}

	c.misses++
	return time.Time{}, false
}

// Contains checks if a key is tracked without updating access order.
func (c *RecencyCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, exists := c.items[key]; exists {
		return !time.Now().After(entry.expiresAt)
	}
	return false
}

// Record adds or refreshes a key with the given first-seen timestamp.
// If the cache is at capacity, the least recently seen key is evicted.
// Used to warm the cache during write-ahead log replay.
func (c *RecencyCache) Record(key string, firstSeen time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if entry, exists := c.items[key]; exists {
		entry.firstSeen = firstSeen
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &lruEntry{
		key:       key,
		firstSeen: firstSeen,
		expiresAt: expiresAt,
	}

	c.addToFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Forget removes a key from the cache.
// Returns true if the key was tracked.
func (c *RecencyCache) Forget(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the current number of tracked keys.
func (c *RecencyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear drops all tracked keys.
func (c *RecencyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruEntry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// SweepExpired removes all expired keys and returns how many were dropped.
func (c *RecencyCache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	// Walk from tail (oldest) to head (newest)
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}

	return removed
}

// Stats returns hit/miss counters and the current size.
func (c *RecencyCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// Internal methods (must be called with lock held)

func (c *RecencyCache) addToFront(entry *lruEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *RecencyCache) moveToFront(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *RecencyCache) removeEntry(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *RecencyCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
