// Package logging provides structured logging for the device console.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the level configured in console.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components never import this package directly. They declare a small
// Logger interface (Debug/Info/Warn/Error) which *Logger satisfies.
//
// Never log broker credentials or bearer tokens.
package logging
