package action

import "errors"

// Domain errors for the action package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSessionBusy is returned when a session is already open for the target.
	ErrSessionBusy = errors.New("action: a session is already open for this target")

	// ErrUnknownOrigin is returned when no session matches an origin token.
	ErrUnknownOrigin = errors.New("action: unknown origin")

	// ErrNotWaiting is returned when a session is not waiting for a reply.
	ErrNotWaiting = errors.New("action: session is not waiting for a reply")

	// ErrInvalidReply is returned when a reply does not fit the pending prompt.
	ErrInvalidReply = errors.New("action: reply does not match prompt")

	// ErrProtocol is recorded when an instance breaks the exchange rules.
	ErrProtocol = errors.New("action: protocol violation")
)
