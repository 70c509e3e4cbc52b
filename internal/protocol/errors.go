package protocol

import "errors"

// Decoding errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyResponse is returned when an instance replied with nothing.
	ErrEmptyResponse = errors.New("protocol: empty response")

	// ErrMalformedResponse is returned when a reply cannot be decoded.
	ErrMalformedResponse = errors.New("protocol: malformed response")
)
