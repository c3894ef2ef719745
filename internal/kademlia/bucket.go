// Package kademlia adapts the teacher's Kademlia routing table
// (internal/core/discovery/dht/routing.go) to spec §3's
// BoundPeer-keyed, configurable-size table, and implements the
// PING/FIND/NEIGHBORS protocol spec §4.G describes as a contract.
package kademlia

import (
	"sync"
	"time"

	"github.com/kadewire/transport/pkg/types"
)

// bucketEntry is one routing-table occupant: the peer plus when it was
// last confirmed live.
type bucketEntry struct {
	peer     types.BoundPeer
	lastSeen time.Time
}

// KBucket holds up to bucketSize peers ordered most-recently-seen
// first, plus a same-sized replacement cache for candidates that arrive
// while the bucket is full.
type KBucket struct {
	mu               sync.Mutex
	bucketSize       int
	nodes            []bucketEntry
	replacementCache []bucketEntry
	lastRefresh      time.Time
}

func newKBucket(bucketSize int) *KBucket {
	return &KBucket{
		bucketSize:  bucketSize,
		nodes:       make([]bucketEntry, 0, bucketSize),
		lastRefresh: time.Now(),
	}
}

// Size returns the number of live entries.
func (b *KBucket) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

// IsFull reports whether the bucket has reached bucketSize entries.
func (b *KBucket) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes) >= b.bucketSize
}

// Entries returns a snapshot of the live peers, most-recent first.
func (b *KBucket) Entries() []types.BoundPeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.BoundPeer, len(b.nodes))
	for i, e := range b.nodes {
		out[i] = e.peer
	}
	return out
}

// Update moves peer to the front if already present, or inserts it at
// the front if there's room; otherwise it is added to the replacement
// cache. Returns true if the bucket itself changed.
func (b *KBucket) Update(peer types.BoundPeer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr := peer.Address()
	for i, e := range b.nodes {
		if e.peer.Address() == addr {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append([]bucketEntry{{peer: peer, lastSeen: time.Now()}}, b.nodes...)
			return true
		}
	}

	if len(b.nodes) < b.bucketSize {
		b.nodes = append([]bucketEntry{{peer: peer, lastSeen: time.Now()}}, b.nodes...)
		return true
	}

	b.addToReplacementCache(peer)
	return false
}

func (b *KBucket) addToReplacementCache(peer types.BoundPeer) {
	addr := peer.Address()
	for i, e := range b.replacementCache {
		if e.peer.Address() == addr {
			b.replacementCache[i] = bucketEntry{peer: peer, lastSeen: time.Now()}
			return
		}
	}
	if len(b.replacementCache) >= b.bucketSize {
		b.replacementCache = b.replacementCache[1:]
	}
	b.replacementCache = append(b.replacementCache, bucketEntry{peer: peer, lastSeen: time.Now()})
}

// Remove deletes addr from the bucket, promoting the newest
// replacement-cache candidate into its place if one exists.
func (b *KBucket) Remove(addr types.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.nodes {
		if e.peer.Address() == addr {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			if len(b.replacementCache) > 0 {
				promoted := b.replacementCache[len(b.replacementCache)-1]
				b.replacementCache = b.replacementCache[:len(b.replacementCache)-1]
				b.nodes = append(b.nodes, promoted)
			}
			return true
		}
	}
	return false
}

// StaleEntries returns peers not seen within maxAge, for refresh_table.
func (b *KBucket) StaleEntries(maxAge time.Duration) []types.BoundPeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var stale []types.BoundPeer
	for _, e := range b.nodes {
		if now.Sub(e.lastSeen) > maxAge {
			stale = append(stale, e.peer)
		}
	}
	return stale
}

// PromoteReplacements moves up to n replacement-cache candidates into
// the live bucket, for check_replacement_cache when entries have died.
func (b *KBucket) PromoteReplacements(n int) []types.BoundPeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	var promoted []types.BoundPeer
	for n > 0 && len(b.replacementCache) > 0 && len(b.nodes) < b.bucketSize {
		cand := b.replacementCache[len(b.replacementCache)-1]
		b.replacementCache = b.replacementCache[:len(b.replacementCache)-1]
		b.nodes = append(b.nodes, cand)
		promoted = append(promoted, cand.peer)
		n--
	}
	return promoted
}
