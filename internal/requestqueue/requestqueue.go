// Package requestqueue is the bounded async FIFO and per-request
// correlator spec §4.F describes: SendWithReply/SendMessage enqueue a
// *types.MessageRequest and await its CompletionHandle; BroadcastMessage
// fans a message out to every peer a BroadcastSink returns.
package requestqueue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kadewire/transport/pkg/lib/log"
	"github.com/kadewire/transport/pkg/types"
)

// DefaultCapacity bounds the request queue depth.
const DefaultCapacity = 256

// DefaultSendMessageTimeout is SendMessage's fixed timeout (spec §5).
const DefaultSendMessageTimeout = 3 * time.Second

// DefaultBroadcastConcurrency bounds the fan-out started per
// BroadcastMessage drain, replacing the REDESIGN-FLAGGED
// sequential-per-peer loop spec §9 calls out.
const DefaultBroadcastConcurrency = 16

// BroadcastSink selects the peers a broadcast should fan out to,
// implemented by internal/kademlia.Protocol.PeersToBroadcast.
type BroadcastSink interface {
	PeersToBroadcast(except types.Address) []types.BoundPeer
}

type broadcastJob struct {
	except  types.Address
	message types.Message
}

// Queue is the bounded request queue plus broadcast drain loop.
type Queue struct {
	requests  chan *types.MessageRequest
	broadcast chan broadcastJob
	sink      BroadcastSink
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// New creates a Queue with DefaultCapacity request and broadcast slots.
func New(sink BroadcastSink, logger *slog.Logger) *Queue {
	return &Queue{
		requests:  make(chan *types.MessageRequest, DefaultCapacity),
		broadcast: make(chan broadcastJob, DefaultCapacity),
		sink:      sink,
		sem:       semaphore.NewWeighted(DefaultBroadcastConcurrency),
		logger:    log.Logger(logger, "requestqueue"),
	}
}

// Requests exposes the dequeue side for the dealer worker pool.
func (q *Queue) Requests() <-chan *types.MessageRequest {
	return q.requests
}

// Enqueue places req on the request queue, blocking while the queue is
// full until there is room or ctx is done; on cancellation it returns
// ctx's error. It never reports queue-full on its own.
func (q *Queue) Enqueue(ctx context.Context, req *types.MessageRequest) error {
	select {
	case q.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requeue reinserts req (already incremented via WithRetry) after the
// 100ms backoff spec §4.E prescribes. Called by the dealer worker pool,
// not by callers of SendWithReply.
func (q *Queue) Requeue(req *types.MessageRequest) {
	time.AfterFunc(100*time.Millisecond, func() {
		select {
		case q.requests <- req:
		default:
			q.logger.Warn("retry requeue dropped, queue full", "request_id", req.ID)
		}
	})
}

// SendWithReply enqueues a request for peer and awaits its completion
// handle, honoring both ctx cancellation and the per-call timeout.
func (q *Queue) SendWithReply(ctx context.Context, peer types.BoundPeer, msg types.Message, timeout time.Duration, expectedReplies int) ([]types.Envelope, error) {
	req := types.NewMessageRequest(peer, msg, timeout, expectedReplies)
	if err := q.Enqueue(ctx, req); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return req.CompletionHandle.Wait(waitCtx)
}

// SendMessage is a fire-and-await variant with no expected replies and
// spec §5's fixed 3s timeout.
func (q *Queue) SendMessage(ctx context.Context, peer types.BoundPeer, msg types.Message) error {
	_, err := q.SendWithReply(ctx, peer, msg, DefaultSendMessageTimeout, 0)
	return err
}

// BroadcastMessage enqueues msg for fan-out to every peer BroadcastSink
// returns except the one at except.
func (q *Queue) BroadcastMessage(ctx context.Context, except types.Address, msg types.Message) error {
	select {
	case q.broadcast <- broadcastJob{except: except, message: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunBroadcastLoop drains the broadcast queue until ctx is cancelled,
// issuing a bounded-concurrency SendMessage per selected peer. Failures
// are swallowed per spec §4.F; BroadcastMessage is fire-and-forget.
func (q *Queue) RunBroadcastLoop(ctx context.Context) {
	for {
		select {
		case job := <-q.broadcast:
			q.fanOut(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) fanOut(ctx context.Context, job broadcastJob) {
	peers := q.sink.PeersToBroadcast(job.except)
	for _, peer := range peers {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(peer types.BoundPeer) {
			defer q.sem.Release(1)
			if err := q.SendMessage(ctx, peer, job.message); err != nil {
				q.logger.Debug("broadcast send failed", "peer", peer.Endpoint, "error", err)
			}
		}(peer)
	}
}
