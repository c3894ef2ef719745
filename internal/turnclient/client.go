// Package turnclient wraps github.com/pion/turn/v4's client to implement
// the allocate/refresh/permission/accept operations spec §4.B requires,
// plus the standalone STUN mapped-address check in stun.go.
//
// pion/turn/v4 is already present in the dependency graph transitively
// (pulled in by pion/ice/pion/webrtc) but was never directly imported;
// this package is what exercises it for real.
package turnclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/turn/v4"
	"go.uber.org/multierr"

	"github.com/kadewire/transport/pkg/lib/log"
)

// DefaultAllocationLifetime is the TURN allocation lease spec §6 asks
// for by default.
const DefaultAllocationLifetime = 777 * time.Second

// DefaultPermissionLifetime is the RFC 5766 permission lifetime.
const DefaultPermissionLifetime = 5 * time.Minute

// refreshSkew is how far ahead of expiry refresh/permission renewal
// fires (spec §4.B: "MUST be called at lease - 60s").
const refreshSkew = 60 * time.Second

// Config configures a Client.
type Config struct {
	// TURNServerAddr is the TURN/STUN server ("host:port").
	TURNServerAddr string
	Username       string
	Password       string
	Realm          string

	// Conn is the local UDP socket the client allocates through. If
	// nil, a new ephemeral UDP socket is opened.
	Conn net.PacketConn

	// Clock defaults to the real clock and is stored on the Client.
	// No Client method reads it: allocation and permission refreshes
	// are scheduled by the caller.
	Clock clock.Clock

	Logger *slog.Logger
}

// Client manages one TURN allocation and its permissions.
type Client struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	turnClient *turn.Client
	conn       net.PacketConn

	mu         sync.Mutex
	relayConn  net.PacketConn
	relayAddr  net.Addr
	lifetime   time.Duration

	permMu      sync.Mutex
	permissions map[string]time.Duration

	streams chan *RelayedStream

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates and starts a turn.Client against cfg.TURNServerAddr. It
// does not allocate; call Allocate for that.
func New(cfg Config) (*Client, error) {
	if cfg.TURNServerAddr == "" {
		return nil, ErrNoServers
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := log.Logger(cfg.Logger, "turnclient")

	conn := cfg.Conn
	if conn == nil {
		var err error
		conn, err = net.ListenPacket("udp4", "0.0.0.0:0")
		if err != nil {
			return nil, fmt.Errorf("turnclient: listen: %w", err)
		}
	}

	tc, err := turn.NewClient(&turn.ClientConfig{
		STUNServerAddr: cfg.TURNServerAddr,
		TURNServerAddr: cfg.TURNServerAddr,
		Conn:           conn,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Realm:          cfg.Realm,
	})
	if err != nil {
		return nil, fmt.Errorf("turnclient: new client: %w", err)
	}
	if err := tc.Listen(); err != nil {
		return nil, fmt.Errorf("turnclient: listen: %w", err)
	}

	return &Client{
		cfg:         cfg,
		clock:       cfg.Clock,
		logger:      logger,
		turnClient:  tc,
		conn:        conn,
		permissions: make(map[string]time.Duration),
		streams:     make(chan *RelayedStream, 16),
		closed:      make(chan struct{}),
	}, nil
}

// GetMappedAddress returns this client's server-reflexive address.
func (c *Client) GetMappedAddress() (*net.UDPAddr, error) {
	addr, err := c.turnClient.SendBindingRequest()
	if err != nil {
		return nil, err
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, ErrNoMappedAddress
	}
	return udpAddr, nil
}

// IsBehindNAT reports whether the mapped address differs from a local
// interface address.
func (c *Client) IsBehindNAT() (bool, error) {
	mapped, err := c.GetMappedAddress()
	if err != nil {
		return false, err
	}
	return IsBehindNAT(mapped)
}

// Allocate requests a relayed transport address with the given
// lifetime, starts the inbound-stream demux loop, and records the
// lease for RefreshAllocation.
func (c *Client) Allocate(lifetime time.Duration) (net.Addr, error) {
	if lifetime <= 0 {
		lifetime = DefaultAllocationLifetime
	}
	relayConn, err := c.turnClient.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	c.mu.Lock()
	c.relayConn = relayConn
	c.relayAddr = relayConn.LocalAddr()
	c.lifetime = lifetime
	c.mu.Unlock()

	go c.demuxLoop(relayConn)
	return relayConn.LocalAddr(), nil
}

// RefreshAllocation extends the allocation's lease. Callers should
// invoke this at lifetime-refreshSkew before expiry; on error the
// caller logs and retries on its next tick (spec §4.B failure policy).
func (c *Client) RefreshAllocation(lifetime time.Duration) (time.Duration, error) {
	c.mu.Lock()
	relayConn, ok := c.relayConn.(*turn.UDPConn)
	c.mu.Unlock()
	if !ok {
		return 0, ErrNotAllocated
	}
	if err := relayConn.Refresh(lifetime); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	c.mu.Lock()
	c.lifetime = lifetime
	c.mu.Unlock()
	return lifetime, nil
}

// CreatePermission authorizes peerAddr to exchange traffic via the
// relay, and records when it should be refreshed.
func (c *Client) CreatePermission(peerAddr net.Addr) error {
	c.mu.Lock()
	relayConn, ok := c.relayConn.(*turn.UDPConn)
	c.mu.Unlock()
	if !ok {
		return ErrNotAllocated
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", peerAddr.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionFailed, err)
	}
	if err := relayConn.CreatePermission(udpAddr); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionFailed, err)
	}
	c.permMu.Lock()
	c.permissions[peerAddr.String()] = DefaultPermissionLifetime
	c.permMu.Unlock()
	return nil
}

// RefreshPermissions re-authorizes every peer with an active
// permission, extending each one's lifetime. Callers should invoke
// this at permission_lifetime-RefreshSkew() before the earliest expiry
// (spec §4.B).
func (c *Client) RefreshPermissions() error {
	c.mu.Lock()
	relayConn, ok := c.relayConn.(*turn.UDPConn)
	c.mu.Unlock()
	if !ok {
		return ErrNotAllocated
	}

	c.permMu.Lock()
	peers := make([]string, 0, len(c.permissions))
	for addr := range c.permissions {
		peers = append(peers, addr)
	}
	c.permMu.Unlock()

	var errs error
	for _, addr := range peers {
		udpAddr, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", ErrPermissionFailed, err))
			continue
		}
		if err := relayConn.CreatePermission(udpAddr); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", ErrPermissionFailed, err))
			continue
		}
		c.permMu.Lock()
		c.permissions[addr] = DefaultPermissionLifetime
		c.permMu.Unlock()
	}
	return errs
}

// RefreshSkew returns the lead time before an expiry refresh should
// fire (spec §4.B / §5: "lease - 60s").
func RefreshSkew() time.Duration { return refreshSkew }

// AllocationLifetime reports the current allocation lease, if any.
func (c *Client) AllocationLifetime() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifetime, c.relayConn != nil
}

// RelayedStream is one inbound relayed connection, demultiplexed from
// the shared relay PacketConn by remote address and handed to
// AcceptRelayedStream. It satisfies io.ReadWriteCloser so the relay
// proxy can io.Copy it bidirectionally.
type RelayedStream struct {
	conn   net.PacketConn
	remote net.Addr
	in     chan []byte
	closed chan struct{}
}

func (s *RelayedStream) Read(p []byte) (int, error) {
	select {
	case b, ok := <-s.in:
		if !ok {
			return 0, net.ErrClosed
		}
		n := copy(p, b)
		return n, nil
	case <-s.closed:
		return 0, net.ErrClosed
	}
}

func (s *RelayedStream) Write(p []byte) (int, error) {
	return s.conn.WriteTo(p, s.remote)
}

func (s *RelayedStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// RemoteAddr returns the relayed peer's address.
func (s *RelayedStream) RemoteAddr() net.Addr { return s.remote }

// AcceptRelayedStream yields the next inbound relayed stream, or an
// error if ctx is cancelled or the client is closed. Per spec §4.B,
// accept errors are logged by the caller and the loop immediately
// retries; this call itself never retries internally.
func (c *Client) AcceptRelayedStream(ctx context.Context) (*RelayedStream, error) {
	select {
	case s := <-c.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// demuxLoop reads datagrams off the shared relay connection and routes
// each to a per-remote-address RelayedStream, creating one on first
// contact and publishing it via c.streams.
func (c *Client) demuxLoop(relayConn net.PacketConn) {
	active := make(map[string]*RelayedStream)
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := relayConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
				c.logger.Warn("relay read failed", "error", err)
				continue
			}
		}
		key := addr.String()
		stream, ok := active[key]
		if !ok {
			stream = &RelayedStream{
				conn:   relayConn,
				remote: addr,
				in:     make(chan []byte, 64),
				closed: make(chan struct{}),
			}
			active[key] = stream
			select {
			case c.streams <- stream:
			case <-c.closed:
				return
			}
		}
		data := append([]byte{}, buf[:n]...)
		select {
		case stream.in <- data:
		default:
			c.logger.Warn("relay stream backlog full, dropping datagram", "remote", key)
		}
	}
}

// Close releases the TURN client and underlying socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.turnClient.Close()
		c.conn.Close()
	})
	return nil
}
