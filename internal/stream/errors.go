package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected means the engine refused the credential. Fatal for the
	// subscription: no reconnect, no fallback.
	ErrAuthRejected = errors.New("stream credential rejected")

	// ErrTransportExhausted means both the websocket reconnect budget and the
	// poll fallback failed. Retryable from the caller's side.
	ErrTransportExhausted = errors.New("all stream transports exhausted")
)

// IntervalMismatchError is raised when the engine tags a chart payload with a
// different series name than the one requested. The mislabeled data is
// discarded rather than silently substituted.
type IntervalMismatchError struct {
	Requested string
	Received  string
}

func (e *IntervalMismatchError) Error() string {
	return fmt.Sprintf("interval mismatch: requested %q, engine returned %q", e.Requested, e.Received)
}
