// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRecencyCache_BasicOperations(t *testing.T) {
	c := NewRecencyCache(3, time.Minute)

	c.Record("a", time.Now())
	c.Record("b", time.Now())
	c.Record("c", time.Now())

	if _, found := c.FirstSeen("a"); !found {
		t.Error("Expected to find key 'a'")
	}
	if _, found := c.FirstSeen("b"); !found {
		t.Error("Expected to find key 'b'")
	}
	if _, found := c.FirstSeen("c"); !found {
		t.Error("Expected to find key 'c'")
	}

	if c.Len() != 3 {
		t.Errorf("Expected len 3, got %d", c.Len())
	}
}

func TestRecencyCache_Eviction(t *testing.T) {
	c := NewRecencyCache(3, time.Minute)

	c.Record("a", time.Now())
	c.Record("b", time.Now())
	c.Record("c", time.Now())

	// Access 'a' to make it most recently used
	c.FirstSeen("a")

	// Add new key, should evict 'b' (least recently used)
	c.Record("d", time.Now())

	if _, found := c.FirstSeen("b"); found {
		t.Error("Expected 'b' to be evicted")
	}

	// 'a', 'c', 'd' should still be present
	if _, found := c.FirstSeen("a"); !found {
		t.Error("Expected 'a' to be present")
	}
	if _, found := c.FirstSeen("c"); !found {
		t.Error("Expected 'c' to be present")
	}
	if _, found := c.FirstSeen("d"); !found {
		t.Error("Expected 'd' to be present")
	}
}

func TestRecencyCache_TTLExpiration(t *testing.T) {
	c := NewRecencyCache(10, 50*time.Millisecond)

	c.Record("a", time.Now())

	if _, found := c.FirstSeen("a"); !found {
		t.Error("Expected to find key 'a' immediately")
	}

	time.Sleep(60 * time.Millisecond)

	if _, found := c.FirstSeen("a"); found {
		t.Error("Expected key 'a' to be expired")
	}
}

func TestRecencyCache_Seen(t *testing.T) {
	c := NewRecencyCache(100, time.Minute)

	// First occurrence is new
	if c.Seen("rtc_lobby:notice-0001") {
		t.Error("First occurrence should not count as seen")
	}

	// Redelivery of the same key is a duplicate
	if !c.Seen("rtc_lobby:notice-0001") {
		t.Error("Second occurrence should count as seen")
	}

	// A different notice is new
	if c.Seen("rtc_lobby:notice-0002") {
		t.Error("Different key should not count as seen")
	}
}

func TestRecencyCache_SeenAfterExpiry(t *testing.T) {
	c := NewRecencyCache(100, 50*time.Millisecond)

	if c.Seen("k") {
		t.Error("First occurrence should not count as seen")
	}

	time.Sleep(60 * time.Millisecond)

	// Expired entries are forgotten, so the key reads as new again.
	// The dedup gate covers this window with the event store check.
	if c.Seen("k") {
		t.Error("Expected expired key to read as new")
	}
}

func TestRecencyCache_Forget(t *testing.T) {
	c := NewRecencyCache(10, time.Minute)

	c.Record("a", time.Now())
	c.Record("b", time.Now())

	if !c.Forget("a") {
		t.Error("Expected Forget to return true for existing key")
	}

	if c.Forget("a") {
		t.Error("Expected Forget to return false for non-existing key")
	}

	if _, found := c.FirstSeen("a"); found {
		t.Error("Expected key 'a' to be removed")
	}

	if _, found := c.FirstSeen("b"); !found {
		t.Error("Expected key 'b' to still be present")
	}
}

func TestRecencyCache_Clear(t *testing.T) {
	c := NewRecencyCache(10, time.Minute)

	c.Record("a", time.Now())
	c.Record("b", time.Now())
	c.Record("c", time.Now())

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got len %d", c.Len())
	}

	if _, found := c.FirstSeen("a"); found {
		t.Error("Expected no keys after Clear")
	}
}

func TestRecencyCache_SweepExpired(t *testing.T) {
	c := NewRecencyCache(10, 50*time.Millisecond)

	c.Record("a", time.Now())
	c.Record("b", time.Now())
	c.Record("c", time.Now())

	time.Sleep(60 * time.Millisecond)

	// Add a fresh key that should survive the sweep
	c.Record("d", time.Now())

	removed := c.SweepExpired()
	if removed != 3 {
		t.Errorf("Expected 3 expired keys removed, got %d", removed)
	}

	if c.Len() != 1 {
		t.Errorf("Expected 1 key remaining, got %d", c.Len())
	}

	if _, found := c.FirstSeen("d"); !found {
		t.Error("Expected 'd' to still be present")
	}
}

func TestRecencyCache_Stats(t *testing.T) {
	c := NewRecencyCache(10, time.Minute)

	c.Record("a", time.Now())
	c.FirstSeen("a")        // hit
	c.FirstSeen("a")        // hit
	c.FirstSeen("nonexist") // miss

	hits, misses, size := c.Stats()
	if hits != 2 {
		t.Errorf("Expected 2 hits, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("Expected 1 miss, got %d", misses)
	}
	if size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}
}

func TestRecencyCache_Concurrent(t *testing.T) {
	c := NewRecencyCache(1000, time.Minute)

	var wg sync.WaitGroup
	numGoroutines := 100
	numOperations := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				key := string(rune('a' + (id+j)%26))
				c.Record(key, time.Now())
				c.FirstSeen(key)
				c.Contains(key)
				c.Seen(key)
			}
		}(i)
	}

	wg.Wait()

	// Cache should still be functional
	c.Record("test", time.Now())
	if _, found := c.FirstSeen("test"); !found {
		t.Error("Cache should still work after concurrent access")
	}
}

func TestRecencyCache_SeenConcurrentSameKey(t *testing.T) {
	c := NewRecencyCache(1000, time.Minute)

	// With check and record under one lock, exactly one goroutine
	// may observe the key as new.
	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("contended-key") {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if newCount != 1 {
		t.Errorf("Expected exactly 1 goroutine to see the key as new, got %d", newCount)
	}
}

func TestRecencyCache_RecordExisting(t *testing.T) {
	c := NewRecencyCache(3, time.Minute)

	t1 := time.Now()
	c.Record("a", t1)

	t2 := t1.Add(time.Second)
	c.Record("a", t2)

	// Should still have only 1 entry
	if c.Len() != 1 {
		t.Errorf("Expected len 1 after update, got %d", c.Len())
	}

	if val, found := c.FirstSeen("a"); !found || !val.Equal(t2) {
		t.Error("Expected updated first-seen value")
	}
}

func BenchmarkRecencyCache_Record(b *testing.B) {
	c := NewRecencyCache(10000, time.Minute)
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := string(rune('a' + i%26))
		c.Record(key, now)
	}
}

func BenchmarkRecencyCache_Seen(b *testing.B) {
	c := NewRecencyCache(10000, time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := string(rune('a' + i%26))
		c.Seen(key)
	}
}

func BenchmarkRecencyCache_SeenUnique(b *testing.B) {
	c := NewRecencyCache(10000, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Seen(fmt.Sprintf("ns:notice-%d", i))
	}
}
