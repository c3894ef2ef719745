package types

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxRetries bounds how many times a MessageRequest may be requeued
// after an unexpected send failure (spec §7, Testable Property 4).
const MaxRetries = 10

// CompletionHandle is a single-resolution async result: exactly one of
// Resolve or Fail may take effect, and Wait delivers that outcome to any
// number of waiters. It plays the role spec §9 calls a "completion
// handle" — deliberately not a boolean or a plain channel, so repeated
// or concurrent waits observe the same terminal outcome.
type CompletionHandle struct {
	done    chan struct{}
	once    sync.Once
	replies []Envelope
	err     error
}

// NewCompletionHandle creates a pending completion handle.
func NewCompletionHandle() *CompletionHandle {
	return &CompletionHandle{done: make(chan struct{})}
}

// Resolve completes the handle successfully with replies. A no-op if
// already resolved.
func (h *CompletionHandle) Resolve(replies []Envelope) {
	h.once.Do(func() {
		h.replies = replies
		close(h.done)
	})
}

// Fail completes the handle with err. A no-op if already resolved.
func (h *CompletionHandle) Fail(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the handle resolves, for select
// loops that need to watch it alongside other events.
func (h *CompletionHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx is cancelled, whichever
// comes first. A ctx cancellation does not resolve the handle itself —
// per spec §5, per-call cancellation only cancels the waiting caller's
// view of it, not the in-flight send.
func (h *CompletionHandle) Wait(ctx context.Context) ([]Envelope, error) {
	select {
	case <-h.done:
		return h.replies, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MessageRequest is a queued outbound request awaiting dispatch by a
// dealer worker.
type MessageRequest struct {
	ID               uuid.UUID
	Message          Message
	Peer             BoundPeer
	EnqueuedAt       time.Time
	Timeout          time.Duration
	ExpectedReplies  int
	CompletionHandle *CompletionHandle
	Retries          int
}

// NewMessageRequest builds a fresh, zero-retry request with a new
// completion handle and a generated ID.
func NewMessageRequest(peer BoundPeer, msg Message, timeout time.Duration, expectedReplies int) *MessageRequest {
	return &MessageRequest{
		ID:               uuid.New(),
		Message:          msg,
		Peer:             peer,
		EnqueuedAt:       time.Now(),
		Timeout:          timeout,
		ExpectedReplies:  expectedReplies,
		CompletionHandle: NewCompletionHandle(),
	}
}

// Retryable reports whether this request may be requeued again.
func (r *MessageRequest) Retryable() bool {
	return r.Retries < MaxRetries
}

// WithRetry returns a copy of r with Retries incremented by one,
// sharing the same CompletionHandle so the original caller still
// observes the eventual outcome.
func (r *MessageRequest) WithRetry() *MessageRequest {
	next := *r
	next.Retries = r.Retries + 1
	return &next
}
