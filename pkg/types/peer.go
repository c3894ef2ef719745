package types

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a dialable host:port pair for a peer's router socket.
type Endpoint struct {
	Host string
	Port uint16
}

// String renders the endpoint as "host:port".
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// IsZero reports whether the endpoint has no host set.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// DialAddr returns the zmq4 dial string for this endpoint's DEALER socket.
func (e Endpoint) DialAddr() string {
	return fmt.Sprintf("tcp://%s", e.String())
}

// Peer is an unbound remote node: an identity, its declared protocol
// version, and an optional public IP hint (from a signaling exchange or a
// NAT-traversal candidate). It is not addressable by the transport until
// bound to an Endpoint.
type Peer struct {
	Identity   PeerIdentity
	AppVersion AppProtocolVersion
	PublicIP   net.IP
}

// Address returns the peer's derived routing address.
func (p Peer) Address() Address {
	return p.Identity.Address()
}

// Bind attaches an endpoint, producing the addressable BoundPeer form.
func (p Peer) Bind(ep Endpoint) BoundPeer {
	return BoundPeer{Peer: p, Endpoint: ep}
}

// BoundPeer additionally carries a network endpoint; it is the only peer
// form the dealer and router components can dial or identify replies to.
type BoundPeer struct {
	Peer
	Endpoint Endpoint
}
