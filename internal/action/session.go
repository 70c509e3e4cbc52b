package action

import (
	"maps"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Phase is the position of a session in the exchange.
type Phase string

// Session phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseSent     Phase = "sent"
	PhaseMessage  Phase = "message"
	PhaseConfirm  Phase = "confirm"
	PhaseForm     Phase = "form"
	PhaseProgress Phase = "progress"
)

// Outcome is how a session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeProtocolError  Outcome = "protocol_error"
	OutcomeAbandoned      Outcome = "abandoned"
)

// Target is what an action acts on. An empty DeviceID means the instance.
type Target struct {
	Instance string `json:"instance"`
	DeviceID string `json:"device_id,omitempty"`
}

// Prompt is an interactive dialog waiting for the operator.
type Prompt struct {
	Type    protocol.ResponseType `json:"type"`
	Message protocol.Text         `json:"message,omitzero"`
	Form    *protocol.Form        `json:"form,omitempty"`
	Data    map[string]any        `json:"data,omitempty"`
}

// ReplyKind selects how a prompt is answered.
type ReplyKind string

// Reply kinds.
const (
	ReplyAck     ReplyKind = "ack"
	ReplyConfirm ReplyKind = "confirm"
	ReplySubmit  ReplyKind = "submit"
	ReplyCancel  ReplyKind = "cancel"
)

// Reply is the operator's answer to a prompt.
type Reply struct {
	Kind    ReplyKind      `json:"kind"`
	Confirm bool           `json:"confirm,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ack acknowledges a message.
func Ack() Reply { return Reply{Kind: ReplyAck} }

// Confirm answers a confirm prompt.
func Confirm(ok bool) Reply { return Reply{Kind: ReplyConfirm, Confirm: ok} }

// Submit sends form data. Nil data submits the form as edited so far.
func Submit(data map[string]any) Reply { return Reply{Kind: ReplySubmit, Data: data} }

// Cancel dismisses any prompt.
func Cancel() Reply { return Reply{Kind: ReplyCancel} }

// continuation builds the dm:actionProgress payload answering prompt p.
func (r Reply) continuation(origin string, p *Prompt) (protocol.ProgressRequest, error) {
	req := protocol.ProgressRequest{Origin: origin}
	switch p.Type {
	case protocol.ResponseMessage:
		if r.Kind != ReplyAck && r.Kind != ReplyCancel {
			return req, ErrInvalidReply
		}
	case protocol.ResponseConfirm:
		var ok bool
		switch r.Kind {
		case ReplyConfirm:
			ok = r.Confirm
		case ReplyCancel:
		default:
			return req, ErrInvalidReply
		}
		req.Confirm = &ok
	case protocol.ResponseForm:
		switch r.Kind {
		case ReplySubmit:
			req.Data = r.Data
			if req.Data == nil {
				req.Data = maps.Clone(p.Data)
			}
			if req.Data == nil {
				req.Data = map[string]any{}
			}
		case ReplyCancel:
		default:
			return req, ErrInvalidReply
		}
	default:
		return req, ErrInvalidReply
	}
	return req, nil
}

// session is the orchestrator's private record of one exchange.
type session struct {
	id       string
	target   Target
	actionID string
	command  string

	origin       string
	phase        Phase
	busy         bool
	prompt       *Prompt
	promptSince  time.Time
	progress     map[string]any
	progressOpen bool
	refresh      protocol.Refresh
	resultErr    *protocol.ResultError
	state        *protocol.State
	outcome      Outcome
	roundTrips   int
	abandoned    bool
	started      time.Time
	updated      time.Time

	deviceRefresh func()
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID           string                `json:"id"`
	Target       Target                `json:"target"`
	ActionID     string                `json:"action_id"`
	Origin       string                `json:"origin,omitempty"`
	Phase        Phase                 `json:"phase"`
	Busy         bool                  `json:"busy"`
	Prompt       *Prompt               `json:"prompt,omitempty"`
	Progress     map[string]any        `json:"progress,omitempty"`
	ProgressOpen bool                  `json:"progress_open"`
	Refresh      protocol.Refresh      `json:"refresh,omitzero"`
	Error        *protocol.ResultError `json:"error,omitempty"`
	State        *protocol.State       `json:"state,omitempty"`
	Outcome      Outcome               `json:"outcome,omitempty"`
	RoundTrips   int                   `json:"round_trips"`
	Started      time.Time             `json:"started"`
	Updated      time.Time             `json:"updated"`
}

// Done reports whether the session has ended.
func (s Snapshot) Done() bool {
	return s.Outcome != ""
}

// snapshot copies s. Callers hold the orchestrator lock.
func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Target:       s.target,
		ActionID:     s.actionID,
		Origin:       s.origin,
		Phase:        s.phase,
		Busy:         s.busy,
		Progress:     maps.Clone(s.progress),
		ProgressOpen: s.progressOpen,
		Refresh:      s.refresh,
		Error:        s.resultErr,
		State:        s.state,
		Outcome:      s.outcome,
		RoundTrips:   s.roundTrips,
		Started:      s.started,
		Updated:      s.updated,
	}
	if s.prompt != nil {
		p := *s.prompt
		p.Data = maps.Clone(s.prompt.Data)
		snap.Prompt = &p
	}
	return snap
}
