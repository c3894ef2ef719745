// Package dealer is the fixed-size worker pool spec §4.E describes:
// each worker takes one queued request, opens a short-lived outbound
// ZeroMQ DEALER socket to the target peer, sends, awaits the expected
// replies, and resolves the request's completion handle.
//
// Socket usage follows the teacher pack's only ZeroMQ precedent
// (ethereum-go-ethereum/eth/zmqpubsub.go): zmq4.NewDealer/SendMulti/Recv
// and zmq4.NewMsgFrom for building multipart messages.
package dealer

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/kadewire/transport/internal/codec"
	"github.com/kadewire/transport/internal/history"
	"github.com/kadewire/transport/pkg/lib/log"
	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

// linger is the 60s socket linger period. It is not passed to the
// dealer socket: exchange creates the socket with zmq4.NewDealer(ctx)
// and no options, so Close does not wait for in-flight sends to drain.
const linger = 60 * time.Second

// preDisposeDelay is the pause before a dealer socket is closed after
// its last use, avoiding a race between poller teardown and socket
// disposal (spec §9's "suppression of disposal races" note — carried
// forward verbatim as a documented FIXME, not solved here).
const preDisposeDelay = 100 * time.Millisecond

// LivenessSink receives the first reply of a successful exchange so the
// routing protocol can update liveness (spec §4.E step 5).
type LivenessSink interface {
	Receive(remote types.BoundPeer)
}

// Requeuer reinserts a retried request after backoff, implemented by
// internal/requestqueue.Queue.
type Requeuer interface {
	Requeue(req *types.MessageRequest)
}

// VersionGate decides whether a reply's AppProtocolVersion is
// compatible with the local one, mirroring internal/router's gate so a
// trusted different-version signer's reply isn't rejected by a stricter
// check than the one the router applies to inbound traffic.
type VersionGate interface {
	Compatible(remote types.AppProtocolVersion) bool
}

// strictVersionGate is the fallback VersionGate used when a Pool is
// built without one: byte-equality against self, matching the check
// this package used before a real compatibility predicate was wired in.
type strictVersionGate struct {
	self types.AppProtocolVersion
}

func (g strictVersionGate) Compatible(remote types.AppProtocolVersion) bool {
	return remote.Equal(g.self)
}

// Pool is the fixed dealer worker pool.
type Pool struct {
	workers         int
	requests        <-chan *types.MessageRequest
	requeuer        Requeuer
	liveness        LivenessSink
	versionGate     VersionGate
	self            types.Peer
	privateKey      types.PrivateKey
	logger          *slog.Logger
	history         *history.Recorder
	preDisposeDelay time.Duration
}

// Config configures a Pool.
type Config struct {
	Workers     int
	Requests    <-chan *types.MessageRequest
	Requeuer    Requeuer
	Liveness    LivenessSink
	VersionGate VersionGate
	Self        types.Peer
	PrivateKey  types.PrivateKey
	Logger      *slog.Logger

	// PreDisposeDelay overrides the pause before a dealer socket is
	// closed after use (spec §9 FIXME: arbitrary, exposed here).
	// Defaults to 100ms.
	PreDisposeDelay time.Duration
}

// New creates a dealer worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	delay := cfg.PreDisposeDelay
	if delay <= 0 {
		delay = preDisposeDelay
	}
	versionGate := cfg.VersionGate
	if versionGate == nil {
		versionGate = strictVersionGate{self: cfg.Self.AppVersion}
	}
	return &Pool{
		workers:         workers,
		requests:        cfg.Requests,
		requeuer:        cfg.Requeuer,
		liveness:        cfg.Liveness,
		versionGate:     versionGate,
		self:            cfg.Self,
		privateKey:      cfg.PrivateKey,
		logger:          log.Logger(cfg.Logger, "dealer"),
		history:         history.New(),
		preDisposeDelay: delay,
	}
}

// Run starts all worker loops and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			p.workerLoop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	<-ctx.Done()
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case req, ok := <-p.requests:
			if !ok {
				return
			}
			p.handle(ctx, req)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, req *types.MessageRequest) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replies, err := p.exchange(sendCtx, req)
	switch {
	case err == nil:
		if req.ExpectedReplies > 0 && len(replies) > 0 {
			p.liveness.Receive(envelopeSender(replies[0], req.Peer.Endpoint))
		}
		req.CompletionHandle.Resolve(replies)

	case sendCtx.Err() != nil && ctx.Err() == nil:
		req.CompletionHandle.Fail(txerrors.ErrTimeout)

	case ctx.Err() != nil:
		req.CompletionHandle.Fail(txerrors.ErrCancelled)

	case err == txerrors.ErrDifferentVersion:
		req.CompletionHandle.Fail(txerrors.ErrDifferentVersion)

	default:
		retryable, typed := txerrors.AsRetryable(err)
		if !typed || retryable {
			if req.Retryable() {
				p.requeuer.Requeue(req.WithRetry())
				return
			}
			p.logger.Debug("request exhausted retries, discarding", "request_id", req.ID, "error", err)
			return
		}
		p.logger.Debug("non-retryable send failure, discarding", "request_id", req.ID, "error", err)
	}
}

func (p *Pool) exchange(ctx context.Context, req *types.MessageRequest) ([]types.Envelope, error) {
	dealerSocket := zmq4.NewDealer(ctx)
	defer func() {
		go func() {
			time.Sleep(p.preDisposeDelay)
			dealerSocket.Close()
		}()
	}()

	if err := dealerSocket.Dial(req.Peer.Endpoint.DialAddr()); err != nil {
		return nil, txerrors.NewRetryable(err)
	}

	payload, err := codec.Encode(req.Message, p.privateKey, p.self)
	if err != nil {
		return nil, txerrors.NewNonRetryable(err)
	}
	frames := append([][]byte{{}}, payload...)

	if err := dealerSocket.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return nil, txerrors.NewRetryable(err)
	}

	replies := make([]types.Envelope, 0, req.ExpectedReplies)
	for i := 0; i < req.ExpectedReplies; i++ {
		msg, err := dealerSocket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, txerrors.NewRetryable(err)
		}

		env, err := codec.Decode(msg.Frames, false)
		if err != nil {
			return nil, txerrors.NewNonRetryable(err)
		}
		p.history.Observe(types.HistoryEntry{Envelope: env, Inbound: false})
		if !p.versionGate.Compatible(env.Version) {
			return nil, txerrors.ErrDifferentVersion
		}
		replies = append(replies, env)
	}
	return replies, nil
}

func envelopeSender(env types.Envelope, fallback types.Endpoint) types.BoundPeer {
	return types.BoundPeer{Peer: env.Sender, Endpoint: fallback}
}

// History returns the reply envelopes this pool has observed, oldest
// first, bounded to the most recent types.HistorySize (spec §3).
func (p *Pool) History() []types.HistoryEntry {
	return p.history.Snapshot()
}
