package kademlia

import (
	"context"
	"time"

	"github.com/kadewire/transport/pkg/types"
)

// Network is the transport-capability surface the routing protocol
// needs, passed in at construction rather than the protocol owning (or
// being owned by) the transport — resolving the cyclic-ownership note
// in spec §9 the same way the teacher's NetworkAdapter resolves
// DHT-needs-to-dial-through-the-endpoint: the protocol holds a
// narrow interface, the transport facade implements it.
type Network interface {
	// LocalPeer returns this node's own unbound Peer record.
	LocalPeer() types.Peer

	// SendWithReply dials peer, sends msg, and awaits expectedReplies
	// replies bounded by timeout. Used for PING and FIND.
	SendWithReply(ctx context.Context, peer types.BoundPeer, msg types.Message, timeout time.Duration, expectedReplies int) ([]types.Envelope, error)
}
