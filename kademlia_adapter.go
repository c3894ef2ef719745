package transport

import (
	"context"
	"time"

	"github.com/kadewire/transport/internal/requestqueue"
	"github.com/kadewire/transport/pkg/types"
)

// networkAdapter implements kademlia.Network by delegating to the
// transport's own request queue — the resolution spec §9 prescribes
// for the cyclic ownership between the routing protocol and the
// transport, grounded on the teacher's NetworkAdapter pattern in
// internal/core/discovery/dht/network_adapter.go.
type networkAdapter struct {
	cfg   *Config
	queue *requestqueue.Queue
}

func (a *networkAdapter) LocalPeer() types.Peer {
	return a.cfg.localPeer()
}

func (a *networkAdapter) SendWithReply(ctx context.Context, peer types.BoundPeer, msg types.Message, timeout time.Duration, expectedReplies int) ([]types.Envelope, error) {
	return a.queue.SendWithReply(ctx, peer, msg, timeout, expectedReplies)
}
