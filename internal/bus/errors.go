package bus

import "errors"

// Transport errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrTimeout is returned when an instance does not reply in time.
	ErrTimeout = errors.New("bus: request timed out")

	// ErrNoResponder is returned when no instance is listening for a request.
	ErrNoResponder = errors.New("bus: no responder")

	// ErrRemote is returned when the transport reports a delivery error for a request.
	ErrRemote = errors.New("bus: remote error")

	// ErrClosed is returned after the transport was closed.
	ErrClosed = errors.New("bus: transport closed")
)
