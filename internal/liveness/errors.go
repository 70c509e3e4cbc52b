package liveness

import "errors"

// Domain errors for the liveness registry.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotDeviceManager is returned when an instance answers instanceInfo
	// with an API version the console does not speak.
	ErrNotDeviceManager = errors.New("liveness: instance does not speak device manager v1")

	// ErrUnknownInstance is returned when an instance id is not registered.
	ErrUnknownInstance = errors.New("liveness: unknown instance")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("liveness: registry closed")
)
