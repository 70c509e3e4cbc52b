package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-console/internal/action"
	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/control"
	"github.com/nerrad567/gray-logic-console/internal/device"
	"github.com/nerrad567/gray-logic-console/internal/liveness"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeBadGateway   = "bad_gateway"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps component errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, liveness.ErrUnknownInstance),
		errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrNoDetails),
		errors.Is(err, control.ErrNotBound),
		errors.Is(err, action.ErrUnknownOrigin):
		writeNotFound(w, err.Error())
	case errors.Is(err, action.ErrSessionBusy),
		errors.Is(err, action.ErrNotWaiting),
		errors.Is(err, control.ErrBindingClosed),
		errors.Is(err, device.ErrNoInstance):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, action.ErrInvalidReply),
		errors.Is(err, control.ErrReadOnly):
		writeBadRequest(w, err.Error())
	case errors.Is(err, control.ErrRejected),
		errors.Is(err, liveness.ErrNotDeviceManager),
		errors.Is(err, protocol.ErrMalformedResponse),
		errors.Is(err, protocol.ErrEmptyResponse),
		errors.Is(err, bus.ErrRemote):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, bus.ErrTimeout),
		errors.Is(err, bus.ErrNoResponder),
		errors.Is(err, bus.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
