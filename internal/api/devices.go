package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-console/internal/device"
)

type selectionRequest struct {
	Instance string `json:"instance"`
}

type filterRequest struct {
	Text  *string `json:"text"`
	Group *string `json:"group"`
}

func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, selectionRequest{Instance: s.devices.Selected()})
}

// handleSetSelection selects an instance and waits for its device list.
func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	// Validate
	if req.Instance == "" {
		writeBadRequest(w, "instance is required")
		return
	}
	if _, err := s.live.Instance(req.Instance); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	// Load failures show up in the view's error field, not as a status
	if err := s.devices.Select(ctx, req.Instance); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.devices.View())
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.View())
}

func (s *Server) handleReloadDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.devices.TriggerReload(ctx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.devices.View())
}

// handleSetFilter applies the group at once and the text after the
// debounce delay, so the response reports what was accepted.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	// Parse request body
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Group != nil {
		s.devices.SetGroup(*req.Group)
	}
	if req.Text != nil {
		s.devices.SetFilterText(*req.Text)
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceDetails(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	details, err := s.devices.Details(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// handleDeviceAction starts a device action on the selected instance.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	instance := s.devices.Selected()
	if instance == "" {
		writeDomainError(w, device.ErrNoInstance)
		return
	}
	deviceID := chi.URLParam(r, "id")
	actionID := chi.URLParam(r, "actionId")
	d, err := s.devices.Device(deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Only actions the device currently offers
	a, ok := d.Action(actionID)
	if !checkInvocable(w, a, ok, s.live.IsAlive(instance)) {
		return
	}

	refresh := func() { go s.refreshDeviceControls(instance, deviceID) }

	ctx, cancel := s.requestContext(r)
	defer cancel()
	snap, err := s.actions.InvokeDeviceAction(ctx, instance, deviceID, actionID, refresh)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// refreshDeviceControls re-reads every bound control of one device.
func (s *Server) refreshDeviceControls(instance, deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for _, b := range s.controls.Bindings() {
		k := b.Key()
		if k.Instance != instance || k.DeviceID != deviceID {
			continue
		}
		if _, err := b.Refresh(ctx); err != nil {
			s.logger.Warn("control refresh after action failed",
				"instance", instance, "device_id", deviceID, "control_id", k.ControlID, "error", err)
		}
	}
}
