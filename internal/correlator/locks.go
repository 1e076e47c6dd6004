// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package correlator

import (
	"hash/fnv"
	"sync"
)

// stripedLocks serializes correlation per channel. Stripe count must be a
// power of two so the hash can be masked instead of modded.
//
// Striping is per (namespace, channel), not per (instance, participant):
// ChannelCreate merges provisional instances and ChannelDestroy fans out
// across every participant of an instance, so the channel is the smallest
// domain in which those operations are atomic. Different channels almost
// always land on different stripes and proceed in parallel.
type stripedLocks struct {
	stripes []sync.Mutex
	mask    uint64
}

func newStripedLocks(count int) *stripedLocks {
	if count <= 0 || count&(count-1) != 0 {
		count = 256
	}
	return &stripedLocks{
		stripes: make([]sync.Mutex, count),
		mask:    uint64(count - 1),
	}
}

func (l *stripedLocks) lock(namespaceID, channelName string) *sync.Mutex {
	h := fnv.New64a()
	h.Write([]byte(namespaceID))
	h.Write([]byte{0})
	h.Write([]byte(channelName))
	m := &l.stripes[h.Sum64()&l.mask]
	m.Lock()
	return m
}
