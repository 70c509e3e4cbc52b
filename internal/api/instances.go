package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	instances := s.live.Instances()
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": instances,
		"count":     len(instances),
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	in, err := s.live.Instance(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// handleRefreshInstanceInfo re-reads dm:instanceInfo and returns it.
func (s *Server) handleRefreshInstanceInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.live.Instance(id); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	info, err := s.live.RefreshInfo(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleInstanceAction starts an instance action and returns the session
// as it stands after the first reply.
func (s *Server) handleInstanceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actionID := chi.URLParam(r, "actionId")
	in, err := s.live.Instance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	// Actions are offered by the instance info; fetch it if not cached yet
	info := in.Info
	if info == nil {
		if info, err = s.live.RefreshInfo(ctx, id); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	a, ok := info.Action(actionID)
	if !checkInvocable(w, a, ok, in.Alive) {
		return
	}

	snap, err := s.actions.InvokeInstanceAction(ctx, id, actionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// checkInvocable rejects actions the operator could not have triggered:
// unknown ones with 404, disabled ones or those of a dead instance with 409.
func checkInvocable(w http.ResponseWriter, a protocol.Action, found, alive bool) bool {
	switch {
	case !found:
		writeNotFound(w, "action not found")
		return false
	case a.Disabled:
		writeError(w, http.StatusConflict, ErrCodeConflict, "action "+a.ID+" is disabled")
		return false
	case !alive:
		writeError(w, http.StatusConflict, ErrCodeConflict, "instance is not alive")
		return false
	}
	return true
}
