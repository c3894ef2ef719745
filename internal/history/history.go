// Package history combines the spec-mandated bounded MessageHistory
// ring buffer with an O(1) duplicate-envelope check, grounded on the
// teacher's bounded-cache style in internal/core/discovery/dht and,
// for the dedup cache specifically, on
// ethereum-go-ethereum/swarm/storage's hashicorp/golang-lru usage
// elsewhere in the retrieved pack.
//
// The LRU cache is defensive only: it is never authoritative for
// ordering or the 30-entry bound, both of which the ring buffer alone
// guarantees.
package history

import (
	"crypto/sha256"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kadewire/transport/pkg/types"
)

// dedupCacheSize bounds the duplicate-detection window well beyond the
// 30-entry visible history, so a message echoed slightly later than
// its eviction from MessageHistory is still recognized as a repeat.
const dedupCacheSize = 512

// dedupKey identifies an envelope for duplicate detection: the sender's
// address plus a hash of the signature, which is unique per signed
// message.
type dedupKey [types.AddressSize + 8]byte

// Recorder is the router/dealer-facing combination of MessageHistory
// and the dedup cache.
type Recorder struct {
	history *types.MessageHistory
	dedup   *lru.Cache[dedupKey, struct{}]
}

// New creates a Recorder with an empty history and dedup cache.
func New() *Recorder {
	cache, _ := lru.New[dedupKey, struct{}](dedupCacheSize)
	return &Recorder{
		history: types.NewMessageHistory(),
		dedup:   cache,
	}
}

// Observe records entry in the history unconditionally (Testable
// Property 3 never depends on dedup) and reports whether this exact
// envelope has been seen before.
func (r *Recorder) Observe(entry types.HistoryEntry) (duplicate bool) {
	r.history.Record(entry)

	key := keyFor(entry.Envelope)
	if _, ok := r.dedup.Get(key); ok {
		return true
	}
	r.dedup.Add(key, struct{}{})
	return false
}

// Snapshot returns the current MessageHistory contents.
func (r *Recorder) Snapshot() []types.HistoryEntry {
	return r.history.Snapshot()
}

// Len reports how many entries the visible history currently holds.
func (r *Recorder) Len() int {
	return r.history.Len()
}

func keyFor(env types.Envelope) dedupKey {
	sum := sha256.Sum256(env.Signature)
	var key dedupKey
	copy(key[:types.AddressSize], env.Sender.Address().Bytes())
	binary.BigEndian.PutUint64(key[types.AddressSize:], binary.BigEndian.Uint64(sum[:8]))
	return key
}
