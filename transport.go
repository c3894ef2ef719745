// Package transport wires the envelope codec, TURN/NAT traversal, the
// ZeroMQ router/dealer pair, the Kademlia routing protocol, and the
// request queue into the message transport core: a library consumed by
// an outer node process that owns ledger/application state.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kadewire/transport/internal/codec"
	"github.com/kadewire/transport/internal/dealer"
	"github.com/kadewire/transport/internal/kademlia"
	"github.com/kadewire/transport/internal/relayproxy"
	"github.com/kadewire/transport/internal/requestqueue"
	"github.com/kadewire/transport/internal/router"
	"github.com/kadewire/transport/internal/turnclient"
	"github.com/kadewire/transport/pkg/lib/log"
	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
	"go.uber.org/multierr"
)

// Transport is a message transport core instance. Instances are
// single-use: once Stopped, a Transport cannot be Started again.
type Transport struct {
	cfg       *Config
	lifecycle *lifecycle

	queue      *requestqueue.Queue
	protocol   *kademlia.Protocol
	router     *router.Router
	dealerPool *dealer.Pool

	turnClient *turnclient.Client
	relayPool  *relayproxy.Pool

	listenPort uint16

	lifetimeMu     sync.Mutex
	lifetimeCtx    context.Context
	lifetimeCancel context.CancelFunc
	workersDone    chan struct{}
}

// New constructs a Transport in State New. It does not bind any socket
// or start any goroutine — call Start for that.
func New(opts ...Option) (*Transport, error) {
	cfg := newConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return &Transport{
		cfg:       cfg,
		lifecycle: newLifecycle(),
	}, nil
}

// State returns the transport's current lifecycle state.
func (t *Transport) State() State {
	return t.lifecycle.get()
}

// Start binds the router socket, determines the public endpoint (via
// Host or TURN allocation), and — when behind NAT — starts the relay
// proxy and TURN refresh loops. It does not start RefreshTable,
// RebuildConnection, or the router's receive/reply loop; call Run for
// that (spec §4.H).
func (t *Transport) Start(ctx context.Context) error {
	switch t.lifecycle.get() {
	case StateStarting, StateRunning:
		return txerrors.ErrAlreadyRunning
	case StateStopped, StateDisposed:
		return txerrors.ErrRestartForbidden
	}
	t.lifecycle.set(StateStarting)

	if err := t.cfg.Validate(); err != nil {
		t.lifecycle.set(StateNew)
		return err
	}

	lifetimeCtx, cancel := context.WithCancel(context.Background())
	t.lifetimeMu.Lock()
	t.lifetimeCtx = lifetimeCtx
	t.lifetimeCancel = cancel
	t.lifetimeMu.Unlock()

	logger := log.Logger(t.cfg.Logger, "transport")

	adapter := &networkAdapter{cfg: t.cfg}
	t.protocol = kademlia.New(adapter, t.cfg.TableSize, t.cfg.BucketSize, t.cfg.Logger)
	t.queue = requestqueue.New(t.protocol, t.cfg.Logger)
	adapter.queue = t.queue

	if len(t.cfg.BootstrapSeeds) > 0 {
		t.protocol.OnFirstPeer(func() {
			go t.protocol.Bootstrap(lifetimeCtx, t.cfg.BootstrapSeeds, 2*time.Second, 2*time.Second, 3)
		})
	}

	if err := t.bindRouter(lifetimeCtx); err != nil {
		cancel()
		t.lifecycle.set(StateNew)
		return fmt.Errorf("transport: bind router: %w", err)
	}

	if t.cfg.Host == "" {
		if err := t.setupNAT(lifetimeCtx); err != nil {
			cancel()
			t.router.Close()
			t.lifecycle.set(StateNew)
			return fmt.Errorf("transport: NAT setup: %w", err)
		}
	}

	t.dealerPool = dealer.New(dealer.Config{
		Workers:         t.cfg.Workers,
		Requests:        t.queue.Requests(),
		Requeuer:        t.queue,
		Liveness:        t.protocol,
		VersionGate:     compatibilityGate{cfg: t.cfg},
		Self:            t.cfg.localPeer(),
		PrivateKey:      t.cfg.PrivateKey,
		Logger:          t.cfg.Logger,
		PreDisposeDelay: t.cfg.PreDisposeDelay,
	})

	logger.Info("transport started", "listen_port", t.listenPort)
	return nil
}

func (t *Transport) bindRouter(ctx context.Context) error {
	port := t.cfg.ListenPort
	addr := fmt.Sprintf("tcp://*:%d", port)

	r, err := router.New(ctx, router.Config{
		ListenAddr:   addr,
		ReplyTimeout: t.cfg.ReplyTimeout,
		VersionGate:  compatibilityGate{cfg: t.cfg},
		Liveness:     t,
		Handlers: router.Handlers{
			OnMessage:          t.dispatchInbound,
			OnDifferentVersion: t.dispatchDifferentVersion,
		},
		Logger: t.cfg.Logger,
	})
	if err != nil {
		return err
	}
	t.router = r

	if tcpAddr, ok := r.Addr().(*net.TCPAddr); ok {
		t.listenPort = uint16(tcpAddr.Port)
	} else {
		t.listenPort = port
	}
	return nil
}

// Receive implements router.LivenessSink by forwarding to the Kademlia
// protocol; the transport itself holds no routing state.
func (t *Transport) Receive(remote types.BoundPeer) {
	t.authorizeRelayPeer(remote)
	t.protocol.Receive(remote)
}

// authorizeRelayPeer creates a TURN permission for remote's endpoint so
// the relay accepts inbound traffic from it (spec §4.B
// create_permission). A no-op when the transport isn't behind NAT.
func (t *Transport) authorizeRelayPeer(remote types.BoundPeer) {
	if t.relayPool == nil {
		return
	}
	addr, err := net.ResolveUDPAddr("udp4", remote.Endpoint.String())
	if err != nil {
		return
	}
	if err := t.turnClient.CreatePermission(addr); err != nil {
		log.Logger(t.cfg.Logger, "transport").Debug("create permission failed", "peer", remote.Endpoint, "error", err)
	}
}

func (t *Transport) setupNAT(ctx context.Context) error {
	if len(t.cfg.ICEServers) == 0 {
		return txerrors.ErrNoAddress
	}

	tc, err := turnclient.New(turnclient.Config{
		TURNServerAddr: t.cfg.ICEServers[0],
		Username:       t.cfg.TURNUser,
		Password:       t.cfg.TURNPass,
		Realm:          t.cfg.TURNRealm,
		Logger:         t.cfg.Logger,
	})
	if err != nil {
		return err
	}
	t.turnClient = tc

	behindNAT, err := tc.IsBehindNAT()
	if err != nil {
		return err
	}
	if !behindNAT {
		return nil
	}

	if _, err := tc.Allocate(turnclient.DefaultAllocationLifetime); err != nil {
		return err
	}

	t.relayPool = relayproxy.New(t.acceptRelayedStream, t.listenPort, t.cfg.RelayProxyWorkers, t.cfg.Logger)
	go t.relayPool.Run(ctx)
	go t.refreshAllocationLoop(ctx)
	go t.refreshPermissionsLoop(ctx)

	return nil
}

func (t *Transport) acceptRelayedStream(ctx context.Context) (relayproxy.Source, error) {
	return t.turnClient.AcceptRelayedStream(ctx)
}

func (t *Transport) refreshAllocationLoop(ctx context.Context) {
	lifetime, _ := t.turnClient.AllocationLifetime()
	for {
		select {
		case <-time.After(lifetime - turnclient.RefreshSkew()):
			newLifetime, err := t.turnClient.RefreshAllocation(lifetime)
			if err != nil {
				log.Logger(t.cfg.Logger, "transport").Debug("refresh allocation failed", "error", err)
				continue
			}
			lifetime = newLifetime
		case <-ctx.Done():
			return
		}
	}
}

// refreshPermissionsLoop re-authorizes every peer with an active TURN
// permission before its permission_lifetime-RefreshSkew() deadline
// (spec §4.B).
func (t *Transport) refreshPermissionsLoop(ctx context.Context) {
	interval := turnclient.DefaultPermissionLifetime - turnclient.RefreshSkew()
	for {
		select {
		case <-time.After(interval):
			if err := t.turnClient.RefreshPermissions(); err != nil {
				log.Logger(t.cfg.Logger, "transport").Debug("refresh permissions failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatchInbound answers PING and FIND requests itself — they are
// routing-protocol traffic the transport owns — and forwards everything
// else to the application's MessageHandler.
func (t *Transport) dispatchInbound(env types.Envelope) {
	switch env.Message.Kind {
	case types.KindPing:
		if err := t.ReplyMessage(env, types.Message{Kind: types.KindPong}); err != nil {
			log.Logger(t.cfg.Logger, "transport").Debug("pong reply failed", "error", err)
		}
	case types.KindFind:
		target, err := kademlia.DecodeFindTarget(env.Message.Body)
		if err != nil {
			return
		}
		reply := t.protocol.HandleFind(target, t.cfg.BucketSize)
		if err := t.ReplyMessage(env, reply); err != nil {
			log.Logger(t.cfg.Logger, "transport").Debug("neighbors reply failed", "error", err)
		}
	default:
		if t.cfg.MessageHandler != nil {
			t.cfg.MessageHandler(env)
		}
	}
}

func (t *Transport) dispatchDifferentVersion(remote types.Peer) {
	if t.cfg.DifferentVersionHandler != nil {
		t.cfg.DifferentVersionHandler(remote)
	}
}

// Run marks the transport Running and launches the three long-running
// loops (RefreshTable, RebuildConnection, the router's receive/reply
// loop); it returns when the first of these completes.
func (t *Transport) Run(ctx context.Context) error {
	if t.lifecycle.get() != StateStarting {
		return txerrors.ErrNotRunning
	}
	t.lifecycle.set(StateRunning)
	t.lifecycle.running.signal()

	t.lifetimeMu.Lock()
	lifetimeCtx := t.lifetimeCtx
	lifetimeCancel := t.lifetimeCancel
	t.lifetimeMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			lifetimeCancel()
		case <-lifetimeCtx.Done():
		}
	}()

	t.workersDone = make(chan struct{})
	go func() {
		t.dealerPool.Run(lifetimeCtx)
		close(t.workersDone)
	}()
	go t.queue.RunBroadcastLoop(lifetimeCtx)

	done := make(chan struct{}, 3)
	go func() { t.router.Run(lifetimeCtx); done <- struct{}{} }()
	go func() { t.refreshTableLoop(lifetimeCtx); done <- struct{}{} }()
	go func() { t.rebuildConnectionLoop(lifetimeCtx); done <- struct{}{} }()

	<-done
	return nil
}

func (t *Transport) refreshTableLoop(ctx context.Context) {
	ticker := time.NewTicker(kademlia.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.protocol.RefreshTable(ctx, kademlia.RefreshInterval)
			t.protocol.CheckReplacementCache()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) rebuildConnectionLoop(ctx context.Context) {
	ticker := time.NewTicker(kademlia.RebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.protocol.RebuildConnection(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// WaitForRunning returns once the transport transitions to Running.
func (t *Transport) WaitForRunning(ctx context.Context) error {
	select {
	case <-t.lifecycle.running.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the worker pool and periodic loops, waits waitFor for
// in-flight work to settle, then closes the router socket and the TURN
// client. The request and broadcast queues are left as they are.
func (t *Transport) Stop(waitFor time.Duration) error {
	if t.lifecycle.get() != StateRunning {
		return txerrors.ErrNotRunning
	}
	t.lifecycle.set(StateStopping)

	t.lifetimeMu.Lock()
	cancel := t.lifetimeCancel
	t.lifetimeMu.Unlock()
	if cancel != nil {
		cancel()
	}

	time.Sleep(waitFor)

	var err error
	if t.router != nil {
		err = multierr.Append(err, t.router.Close())
	}
	if t.turnClient != nil {
		err = multierr.Append(err, t.turnClient.Close())
	}

	t.lifecycle.set(StateStopped)
	t.lifecycle.running.reset()
	return err
}

// Dispose joins the worker pool after Stop has cancelled it. Afterward
// Start returns txerrors.ErrRestartForbidden and the send, broadcast
// and reply methods return txerrors.ErrNotRunning; txerrors.ErrDisposed
// is not returned.
func (t *Transport) Dispose() error {
	if t.workersDone != nil {
		<-t.workersDone
	}
	t.lifecycle.set(StateDisposed)
	return nil
}

// SendWithReply enqueues a request to peer and awaits expectedReplies
// replies, bounded by timeout.
func (t *Transport) SendWithReply(ctx context.Context, peer types.BoundPeer, msg types.Message, timeout time.Duration, expectedReplies int) ([]types.Envelope, error) {
	if t.lifecycle.get() != StateRunning {
		return nil, txerrors.ErrNotRunning
	}
	return t.queue.SendWithReply(ctx, peer, msg, timeout, expectedReplies)
}

// SendMessage is a fire-and-await send with no expected replies.
func (t *Transport) SendMessage(ctx context.Context, peer types.BoundPeer, msg types.Message) error {
	if t.lifecycle.get() != StateRunning {
		return txerrors.ErrNotRunning
	}
	return t.queue.SendMessage(ctx, peer, msg)
}

// BroadcastMessage fans msg out to every known peer except the one at
// except.
func (t *Transport) BroadcastMessage(ctx context.Context, except types.Address, msg types.Message) error {
	if t.lifecycle.get() != StateRunning {
		return txerrors.ErrNotRunning
	}
	return t.queue.BroadcastMessage(ctx, except, msg)
}

// ReplyMessage encodes msg and enqueues it for delivery back to the
// originator of env, using env's router-assigned identity token.
func (t *Transport) ReplyMessage(env types.Envelope, msg types.Message) error {
	if t.lifecycle.get() != StateRunning {
		return txerrors.ErrNotRunning
	}
	payload, err := codec.Encode(msg, t.cfg.PrivateKey, t.cfg.localPeer())
	if err != nil {
		return err
	}
	t.router.EnqueueReply(env.IdentityFrame, payload)
	return nil
}

// Bootstrap primes the routing table from seeds.
func (t *Transport) Bootstrap(ctx context.Context, seeds []types.BoundPeer, pingTimeout, findTimeout time.Duration, depth int) error {
	return t.protocol.Bootstrap(ctx, seeds, pingTimeout, findTimeout, depth)
}

// LocalPeer returns this node's own unbound Peer record.
func (t *Transport) LocalPeer() types.Peer {
	return t.cfg.localPeer()
}

// ListenPort returns the router socket's bound port, valid after Start.
func (t *Transport) ListenPort() uint16 {
	return t.listenPort
}

// InboundHistory returns the envelopes this transport's router has
// observed, oldest first (spec §3).
func (t *Transport) InboundHistory() []types.HistoryEntry {
	return t.router.History()
}

// OutboundHistory returns the reply envelopes this transport's dealer
// pool has observed, oldest first (spec §3).
func (t *Transport) OutboundHistory() []types.HistoryEntry {
	return t.dealerPool.History()
}
