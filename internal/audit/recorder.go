package audit

import (
	"context"

	"github.com/nerrad567/gray-logic-console/internal/action"
)

// Audit vocabulary for action sessions.
const (
	ActionSession  = "action_session"
	EntityInstance = "instance"
	EntityDevice   = "device"
	SourceConsole  = "console"
)

// SessionRecorder writes finished action sessions to a Repository.
type SessionRecorder struct {
	repo   Repository
	userID string
}

// NewSessionRecorder returns a recorder attributing entries to userID,
// which may be empty.
func NewSessionRecorder(repo Repository, userID string) *SessionRecorder {
	return &SessionRecorder{repo: repo, userID: userID}
}

// RecordSession stores one entry for rec.
func (r *SessionRecorder) RecordSession(ctx context.Context, rec action.Record) error {
	e := &Entry{
		Action:     ActionSession,
		EntityType: EntityInstance,
		EntityID:   rec.Target.Instance,
		UserID:     r.userID,
		Source:     SourceConsole,
		CreatedAt:  rec.Finished,
		Details: map[string]any{
			"session_id":  rec.SessionID,
			"instance":    rec.Target.Instance,
			"action_id":   rec.ActionID,
			"command":     rec.Command,
			"outcome":     string(rec.Outcome),
			"round_trips": rec.RoundTrips,
			"duration_ms": rec.Finished.Sub(rec.Started).Milliseconds(),
		},
	}
	if rec.Target.DeviceID != "" {
		e.EntityType = EntityDevice
		e.EntityID = rec.Target.DeviceID
	}
	if rec.Error != "" {
		e.Details["error"] = rec.Error
	}
	return r.repo.Create(ctx, e)
}

var _ action.Recorder = (*SessionRecorder)(nil)
