// Package router implements the inbound-only ZeroMQ ROUTER endpoint
// spec §4.D describes: bind, receive-dispatch pipeline, and a reply
// queue drained by a poller with a bounded send timeout.
//
// Router handover (a later connection from the same ZMQ identity
// displacing an earlier one) is zmq4's own ROUTER default behavior; no
// extra bookkeeping is needed here.
package router

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/kadewire/transport/internal/codec"
	"github.com/kadewire/transport/internal/history"
	"github.com/kadewire/transport/pkg/lib/log"
	"github.com/kadewire/transport/pkg/types"
)

// DefaultReplyTimeout is the poller's send timeout for replies (spec
// §9 FIXME: arbitrary, exposed here as a configurable default).
const DefaultReplyTimeout = 1 * time.Second

// DefaultReplyQueueCapacity bounds the outbound reply queue.
const DefaultReplyQueueCapacity = 256

// VersionGate decides whether a remote's AppProtocolVersion is
// compatible with the local one, and is invoked on every non-PING
// inbound message (spec §4.D step 4).
type VersionGate interface {
	Compatible(remote types.AppProtocolVersion) bool
}

// LivenessSink is notified of every valid inbound sender so the
// routing protocol can update its buckets (spec §4.D step 5).
type LivenessSink interface {
	Receive(remote types.BoundPeer)
}

// Handlers bundles the two application-facing callbacks Router invokes.
type Handlers struct {
	// OnMessage fires for every envelope that passes parsing and
	// version gating, exactly once per message (Testable Property 5).
	OnMessage func(env types.Envelope)
	// OnDifferentVersion fires when a non-PING sender's version is
	// rejected by VersionGate.
	OnDifferentVersion func(remote types.Peer)
}

// Config configures a Router.
type Config struct {
	ListenAddr   string // "tcp://*:PORT" or "tcp://*:0" for a random port
	ReplyTimeout time.Duration
	VersionGate  VersionGate
	Liveness     LivenessSink
	Handlers     Handlers
	Logger       *slog.Logger
}

// Router is the inbound ZeroMQ ROUTER endpoint.
type Router struct {
	socket       zmq4.Socket
	replyTimeout time.Duration
	versionGate  VersionGate
	liveness     LivenessSink
	handlers     Handlers
	history      *history.Recorder
	logger       *slog.Logger

	replies chan replyJob
}

type replyJob struct {
	identity []byte
	payload  [][]byte
}

// New creates a Router bound to cfg.ListenAddr. The caller is
// responsible for calling Run to start the receive/reply loops.
func New(ctx context.Context, cfg Config) (*Router, error) {
	timeout := cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	socket := zmq4.NewRouter(ctx)
	if err := socket.Listen(cfg.ListenAddr); err != nil {
		return nil, err
	}

	return &Router{
		socket:       socket,
		replyTimeout: timeout,
		versionGate:  cfg.VersionGate,
		liveness:     cfg.Liveness,
		handlers:     cfg.Handlers,
		history:      history.New(),
		logger:       log.Logger(cfg.Logger, "router"),
		replies:      make(chan replyJob, DefaultReplyQueueCapacity),
	}, nil
}

// Addr returns the bound socket's listen address.
func (r *Router) Addr() net.Addr {
	return r.socket.Addr()
}

// EnqueueReply queues a reply payload (the codec's payload frames, not
// yet wrapped with the identity/delimiter pair) for delivery to
// identity. Failure to send is logged, never retried (spec §4.D).
func (r *Router) EnqueueReply(identity []byte, payload [][]byte) {
	select {
	case r.replies <- replyJob{identity: identity, payload: payload}:
	default:
		r.logger.Warn("reply queue full, dropping reply")
	}
}

// Run starts the receive loop and the reply-drain poller, blocking
// until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	go r.replyLoop(ctx)
	r.receiveLoop(ctx)
}

func (r *Router) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := r.socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Debug("router recv failed", "error", err)
			continue
		}
		r.dispatch(msg)
	}
}

func (r *Router) dispatch(msg zmq4.Msg) {
	env, err := codec.Decode(msg.Frames, true)
	if err != nil {
		r.logger.Debug("dropping malformed envelope", "error", err)
		return
	}

	r.history.Observe(types.HistoryEntry{Envelope: env, Inbound: true})

	if env.Message.Kind != types.KindPing {
		if !r.versionGate.Compatible(env.Version) {
			if r.handlers.OnDifferentVersion != nil {
				r.handlers.OnDifferentVersion(env.Sender)
			}
			return
		}
	}

	r.liveness.Receive(types.BoundPeer{Peer: env.Sender})

	if r.handlers.OnMessage != nil {
		r.handlers.OnMessage(env)
	}
}

func (r *Router) replyLoop(ctx context.Context) {
	for {
		select {
		case job := <-r.replies:
			r.sendReply(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) sendReply(ctx context.Context, job replyJob) {
	sendCtx, cancel := context.WithTimeout(ctx, r.replyTimeout)
	defer cancel()

	frames := append([][]byte{job.identity, {}}, job.payload...)
	done := make(chan error, 1)
	go func() {
		done <- r.socket.SendMulti(zmq4.NewMsgFrom(frames...))
	}()

	select {
	case err := <-done:
		if err != nil {
			r.logger.Debug("reply send failed", "error", err)
		}
	case <-sendCtx.Done():
		r.logger.Debug("reply send timed out")
	}
}

// History returns the envelopes this router has observed, oldest
// first, bounded to the most recent types.HistorySize (spec §3).
func (r *Router) History() []types.HistoryEntry {
	return r.history.Snapshot()
}

// Close shuts down the router socket.
func (r *Router) Close() error {
	return r.socket.Close()
}
