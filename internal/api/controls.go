package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-console/internal/control"
	"github.com/nerrad567/gray-logic-console/internal/device"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

type controlResponse struct {
	Key     control.Key      `json:"key"`
	Control protocol.Control `json:"control"`
	State   protocol.State   `json:"state"`
}

type controlWriteRequest struct {
	Value json.RawMessage `json:"value"`
}

type controlWriteResponse struct {
	controlResponse
	Reply *protocol.State `json:"reply,omitempty"`
}

func (s *Server) binding(w http.ResponseWriter, r *http.Request) (*control.Binding, bool) {
	instance := s.devices.Selected()
	if instance == "" {
		writeDomainError(w, device.ErrNoInstance)
		return nil, false
	}
	b, err := s.controls.Binding(instance, chi.URLParam(r, "id"), chi.URLParam(r, "controlId"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return b, true
}

func describe(b *control.Binding) controlResponse {
	return controlResponse{Key: b.Key(), Control: b.Control(), State: b.State()}
}

// handleGetControl returns the displayed value. With ?refresh=true the
// value is first read back from the instance.
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	b, ok := s.binding(w, r)
	if !ok {
		return
	}
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		if _, err := b.Refresh(ctx); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, describe(b))
}

// handleSetControl writes a value. The reply is returned alongside the
// displayed state, which only moves when the reply is newer.
func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req controlWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 {
		writeBadRequest(w, "value is required")
		return
	}
	// Decode the value into its JSON type
	var val any
	if err := json.Unmarshal(req.Value, &val); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	b, ok := s.binding(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	reply, err := b.Write(ctx, val)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlWriteResponse{controlResponse: describe(b), Reply: reply})
}
