package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNoInstance is returned when no instance is selected.
	ErrNoInstance = errors.New("device: no instance selected")

	// ErrDeviceNotFound is returned when a device is not in the loaded list.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNoDetails is returned when an instance has no details for a device.
	ErrNoDetails = errors.New("device: no details available")
)
