package kademlia

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kadewire/transport/pkg/lib/log"
	"github.com/kadewire/transport/pkg/types"
)

// RefreshInterval is how often the transport's RefreshTable loop runs
// (spec §4.G).
const RefreshInterval = 10 * time.Second

// RebuildInterval is how often RebuildConnection runs.
const RebuildInterval = 30 * time.Minute

// Protocol implements the PING/FIND/NEIGHBORS state machine spec §4.G
// describes as a contract the transport consumes. It owns the routing
// table; the transport owns Protocol by composition reference.
type Protocol struct {
	table  *Table
	net    Network
	logger *slog.Logger

	bootstrapMu      sync.Mutex
	everBootstrapped bool

	onFirstPeer   func()
	firstPeerOnce sync.Once
}

// New creates a routing protocol over net's capabilities, keyed by
// net.LocalPeer()'s derived address.
func New(net Network, tableSize, bucketSize int, logger *slog.Logger) *Protocol {
	local := net.LocalPeer().Address()
	return &Protocol{
		table:  NewTable(local, tableSize, bucketSize),
		net:    net,
		logger: log.Logger(logger, "kademlia"),
	}
}

// OnFirstPeer registers a callback fired exactly once, the first time
// the table transitions from empty to non-empty. The transport uses
// this to kick an immediate bootstrap-retry instead of waiting for the
// next RefreshTable tick (spec §4 SUPPLEMENT, grounded in the teacher's
// own NotifyPeerConnected cold-start fix).
func (p *Protocol) OnFirstPeer(fn func()) {
	p.onFirstPeer = fn
}

// Receive updates the routing table from an observed envelope's sender,
// bound to the endpoint the message actually arrived from.
func (p *Protocol) Receive(remote types.BoundPeer) {
	wasEmpty := p.table.Size() == 0
	p.table.Update(remote)
	if wasEmpty && p.table.Size() > 0 && p.onFirstPeer != nil {
		p.firstPeerOnce.Do(p.onFirstPeer)
	}
}

// PeersToBroadcast returns every known peer except the one at except,
// if given. Bounded concurrency for the actual fan-out is the caller's
// responsibility (internal/requestqueue).
func (p *Protocol) PeersToBroadcast(except types.Address) []types.BoundPeer {
	all := p.table.AllPeers()
	if except.IsZero() {
		return all
	}
	out := make([]types.BoundPeer, 0, len(all))
	for _, peer := range all {
		if peer.Address() != except {
			out = append(out, peer)
		}
	}
	return out
}

// Ping sends a PING to peer and reports whether a PONG was received
// within timeout.
func (p *Protocol) Ping(ctx context.Context, peer types.BoundPeer, timeout time.Duration) error {
	msg := types.Message{Kind: types.KindPing}
	replies, err := p.net.SendWithReply(ctx, peer, msg, timeout, 1)
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return errors.New("kademlia: no PONG received")
	}
	p.Receive(peer)
	return nil
}

// FindSpecificPeer asks via for the peers nearest target, then asks
// each newly learned peer in turn, sending at most depth FIND requests
// in total. It returns every distinct peer learned this way, in the
// order learned; candidates are not filtered by distance.
func (p *Protocol) FindSpecificPeer(ctx context.Context, target types.Address, via types.BoundPeer, depth int, timeout time.Duration) ([]types.BoundPeer, error) {
	seen := map[types.Address]bool{via.Address(): true}
	frontier := []types.BoundPeer{via}
	var closest []types.BoundPeer

	for d := 0; d < depth && len(frontier) > 0; d++ {
		next := frontier[0]
		frontier = frontier[1:]

		msg := types.Message{Kind: types.KindFind, Body: encodeFindTarget(target)}
		replies, err := p.net.SendWithReply(ctx, next, msg, timeout, 1)
		if err != nil || len(replies) == 0 {
			continue
		}
		p.Receive(next)

		peers, err := decodeNeighbors(replies[0].Message.Body)
		if err != nil {
			continue
		}
		for _, peer := range peers {
			addr := peer.Address()
			if seen[addr] {
				continue
			}
			seen[addr] = true
			closest = append(closest, peer)
			frontier = append(frontier, peer)
		}
	}
	return closest, nil
}

// HandleFind answers a FIND request with this table's closest known
// peers to the requested target, for use by the transport's inbound
// dispatch when it sees a KindFind message.
func (p *Protocol) HandleFind(target types.Address, limit int) types.Message {
	closest := p.table.ClosestTo(target, limit)
	return types.Message{Kind: types.KindNeighbors, Body: encodeNeighbors(closest)}
}

// Bootstrap pings each seed, then recursively finds peers near this
// node's own address via every seed that answered, priming the table.
func (p *Protocol) Bootstrap(ctx context.Context, seeds []types.BoundPeer, pingTimeout, findTimeout time.Duration, depth int) error {
	p.bootstrapMu.Lock()
	p.everBootstrapped = true
	p.bootstrapMu.Unlock()

	local := p.net.LocalPeer().Address()
	for _, seed := range seeds {
		if err := p.Ping(ctx, seed, pingTimeout); err != nil {
			p.logger.Debug("bootstrap ping failed", "seed", seed.Endpoint, "error", err)
			continue
		}
		if _, err := p.FindSpecificPeer(ctx, local, seed, depth, findTimeout); err != nil {
			p.logger.Debug("bootstrap find failed", "seed", seed.Endpoint, "error", err)
		}
	}
	return nil
}

// RefreshTable re-PINGs or evicts entries older than maxAge.
func (p *Protocol) RefreshTable(ctx context.Context, maxAge time.Duration) {
	for _, bucket := range p.table.buckets {
		for _, stale := range bucket.StaleEntries(maxAge) {
			if err := p.Ping(ctx, stale, 2*time.Second); err != nil {
				p.table.Remove(stale.Address())
			}
		}
	}
}

// CheckReplacementCache promotes replacement candidates into buckets
// that lost entries during RefreshTable.
func (p *Protocol) CheckReplacementCache() {
	for _, bucket := range p.table.buckets {
		bucket.PromoteReplacements(1)
	}
}

// RebuildConnection re-pings every known peer to reestablish useful
// neighborhoods, pruning ones that no longer answer.
func (p *Protocol) RebuildConnection(ctx context.Context) {
	for _, peer := range p.table.AllPeers() {
		if err := p.Ping(ctx, peer, 2*time.Second); err != nil {
			p.table.Remove(peer.Address())
		}
	}
}

// TableSize reports how many peers are currently known, for
// diagnostics and tests.
func (p *Protocol) TableSize() int {
	return p.table.Size()
}
