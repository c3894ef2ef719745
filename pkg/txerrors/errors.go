// Package txerrors is the sentinel error taxonomy shared across the
// transport's components, mirroring the teacher's per-package
// errors.go convention: a flat var block of wrapped sentinels, plus one
// typed error for validation failures that need to carry detail.
package txerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage means the frame layout was malformed or the
	// signature did not verify. Dropped silently; never surfaced to the
	// application (spec §7).
	ErrInvalidMessage = errors.New("txerrors: invalid message")

	// ErrDifferentVersion means the remote peer's AppProtocolVersion was
	// rejected by the compatibility predicate.
	ErrDifferentVersion = errors.New("txerrors: different protocol version")

	// ErrTimeout means a per-request deadline was exceeded.
	ErrTimeout = errors.New("txerrors: timeout")

	// ErrCancelled means the caller's context was cancelled before the
	// request resolved.
	ErrCancelled = errors.New("txerrors: cancelled")

	// ErrAlreadyRunning means Start was called on a transport that is
	// already Running or Starting.
	ErrAlreadyRunning = errors.New("txerrors: already running")

	// ErrNotRunning means an operation requiring a Running transport was
	// attempted outside that state.
	ErrNotRunning = errors.New("txerrors: not running")

	// ErrDisposed means the transport was used after Dispose.
	ErrDisposed = errors.New("txerrors: disposed")

	// ErrRestartForbidden means Start was called on a transport that has
	// already been Stopped; instances are single-use after Dispose.
	ErrRestartForbidden = errors.New("txerrors: restart forbidden after stop")

	// ErrQueueFull means a bounded request or broadcast queue rejected
	// an enqueue because it was at capacity.
	ErrQueueFull = errors.New("txerrors: queue full")

	// ErrNoAddress means Start was called with neither host nor
	// ice_servers configured.
	ErrNoAddress = errors.New("txerrors: no host or ice_servers configured")
)

// RetryableError wraps an unexpected send failure, recording whether the
// worker pool should requeue the request (spec §7's Unexpected
// taxonomy: retry up to 10 times, otherwise discard).
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("txerrors: retryable: %v", e.Err)
	}
	return fmt.Sprintf("txerrors: non-retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable unexpected failure.
func NewRetryable(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryable wraps err as a terminal, discard-on-failure error.
func NewNonRetryable(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// InvalidConfigError lists every violated configuration constraint
// found by Config.Validate, mirroring the teacher's
// sentinel-plus-detail style for construction-time validation.
type InvalidConfigError struct {
	Violations []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("txerrors: invalid config: %v", e.Violations)
}

// AsRetryable reports whether err is a *RetryableError and, if so,
// whether it is retryable.
func AsRetryable(err error) (retryable bool, ok bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Retryable, true
	}
	return false, false
}
