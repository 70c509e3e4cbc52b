package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-console/internal/action"
)

type formUpdateRequest struct {
	Data map[string]any `json:"data"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.actions.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.actions.Session(chi.URLParam(r, "origin"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleReplySession answers the pending prompt and returns the session
// after the instance's next response.
func (s *Server) handleReplySession(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var reply action.Reply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	// Validate reply kind
	switch reply.Kind {
	case action.ReplyAck, action.ReplyConfirm, action.ReplySubmit, action.ReplyCancel:
	default:
		writeBadRequest(w, "kind must be ack, confirm, submit or cancel")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	snap, err := s.actions.Reply(ctx, chi.URLParam(r, "origin"), reply)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleUpdateForm stores edits to an open form without contacting the instance.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req formUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	snap, err := s.actions.UpdateForm(chi.URLParam(r, "origin"), req.Data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAbandonSession dismisses the pending prompt with a cancel.
func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	snap, err := s.actions.Abandon(ctx, chi.URLParam(r, "origin"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
