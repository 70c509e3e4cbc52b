package control

import "errors"

// Domain errors for the control package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrReadOnly is returned when writing a control that only displays.
	ErrReadOnly = errors.New("control: control is read-only")

	// ErrNotBound is returned when a control has no binding.
	ErrNotBound = errors.New("control: control not bound")

	// ErrBindingClosed is returned when using a binding after teardown.
	ErrBindingClosed = errors.New("control: binding closed")

	// ErrRejected is returned when the backend answers a write with an error.
	ErrRejected = errors.New("control: write rejected")
)
