package kademlia

import (
	"sync"

	"github.com/kadewire/transport/pkg/types"
)

// DefaultTableSize is 20-byte addresses * 8 bits.
const DefaultTableSize = types.AddressSize * 8

// DefaultBucketSize mirrors the teacher's BucketSize constant.
const DefaultBucketSize = 20

// Table is the Kademlia routing table: tableSize buckets, each holding
// up to bucketSize BoundPeers plus a replacement cache. No peer may
// appear in more than one bucket; the bucket is chosen by the
// bit-length of the XOR distance between the peer's address and the
// local address (spec §3).
type Table struct {
	localAddr types.Address
	buckets   []*KBucket

	mu        sync.RWMutex
	byAddress map[types.Address]int
}

// NewTable creates an empty routing table sized for this local address.
func NewTable(localAddr types.Address, tableSize, bucketSize int) *Table {
	if tableSize <= 0 {
		tableSize = DefaultTableSize
	}
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	t := &Table{
		localAddr: localAddr,
		buckets:   make([]*KBucket, tableSize),
		byAddress: make(map[types.Address]int),
	}
	for i := range t.buckets {
		t.buckets[i] = newKBucket(bucketSize)
	}
	return t
}

// bucketIndex returns the index of the bucket peer's address belongs
// in, clamped to the last bucket for an exact (zero-distance) match.
func (t *Table) bucketIndex(addr types.Address) int {
	distance := types.XORDistance(t.localAddr.Bytes(), addr.Bytes())
	idx := types.LeadingZeroBits(distance)
	if idx >= len(t.buckets) {
		idx = len(t.buckets) - 1
	}
	return idx
}

// Update records a liveness observation of peer, placing or refreshing
// it in its bucket. A self-observation is ignored.
func (t *Table) Update(peer types.BoundPeer) bool {
	addr := peer.Address()
	if addr == t.localAddr {
		return false
	}
	idx := t.bucketIndex(addr)
	changed := t.buckets[idx].Update(peer)

	t.mu.Lock()
	t.byAddress[addr] = idx
	t.mu.Unlock()
	return changed
}

// Remove deletes addr from the table.
func (t *Table) Remove(addr types.Address) bool {
	t.mu.Lock()
	idx, ok := t.byAddress[addr]
	if ok {
		delete(t.byAddress, addr)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	return t.buckets[idx].Remove(addr)
}

// Get returns the BoundPeer for addr, if known.
func (t *Table) Get(addr types.Address) (types.BoundPeer, bool) {
	t.mu.RLock()
	idx, ok := t.byAddress[addr]
	t.mu.RUnlock()
	if !ok {
		return types.BoundPeer{}, false
	}
	for _, p := range t.buckets[idx].Entries() {
		if p.Address() == addr {
			return p, true
		}
	}
	return types.BoundPeer{}, false
}

// Size returns the number of peers currently held across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddress)
}

// AllPeers returns every peer currently in the table.
func (t *Table) AllPeers() []types.BoundPeer {
	var out []types.BoundPeer
	for _, b := range t.buckets {
		out = append(out, b.Entries()...)
	}
	return out
}

// ClosestTo returns up to n peers ordered by ascending XOR distance to
// target, used by find_specific_peer to build a NEIGHBORS reply.
func (t *Table) ClosestTo(target types.Address, n int) []types.BoundPeer {
	all := t.AllPeers()
	sortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func sortByDistance(peers []types.BoundPeer, target types.Address) {
	less := func(i, j int) bool {
		di := types.XORDistance(peers[i].Address().Bytes(), target.Bytes())
		dj := types.XORDistance(peers[j].Address().Bytes(), target.Bytes())
		return compareBytes(di, dj) < 0
	}
	insertionSort(peers, less)
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// insertionSort avoids pulling in sort.Slice's reflection for a table
// that is bucketSize*tableSize bounded and small in practice.
func insertionSort(peers []types.BoundPeer, less func(i, j int) bool) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
}
