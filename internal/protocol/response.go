package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResponseType discriminates the response envelope.
type ResponseType string

// Response types.
const (
	ResponseMessage  ResponseType = "message"
	ResponseConfirm  ResponseType = "confirm"
	ResponseForm     ResponseType = "form"
	ResponseProgress ResponseType = "progress"
	ResponseResult   ResponseType = "result"
)

// Interactive reports whether the type needs an operator reply before the
// exchange can continue.
func (t ResponseType) Interactive() bool {
	switch t {
	case ResponseMessage, ResponseConfirm, ResponseForm:
		return true
	default:
		return false
	}
}

// Response is the envelope returned by an instance for every action step.
type Response struct {
	Type     ResponseType   `json:"type"`
	Origin   string         `json:"origin,omitempty"`
	Message  Text           `json:"message,omitzero"`
	Confirm  Text           `json:"confirm,omitzero"`
	Form     *Form          `json:"form,omitempty"`
	Progress map[string]any `json:"progress,omitempty"`
	Result   *Result        `json:"result,omitempty"`
}

// Form is a schema-driven input dialog. Data holds the initial values.
type Form struct {
	Title  Text            `json:"title,omitzero"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Data   map[string]any  `json:"data,omitempty"`
}

// Result terminates an action session.
type Result struct {
	Refresh Refresh      `json:"refresh,omitzero"`
	Error   *ResultError `json:"error,omitempty"`
	State   *State       `json:"state,omitempty"`
}

// ResultError is a business failure reported by the backend.
type ResultError struct {
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%v: %s", e.Code, e.Message)
	}
	return e.Message
}

// Refresh is the scope a finished action asks the console to reload.
type Refresh string

// Refresh scopes. RefreshAll is sent on the wire as the boolean true.
const (
	RefreshNone     Refresh = ""
	RefreshAll      Refresh = "all"
	RefreshInstance Refresh = "instance"
	RefreshDevice   Refresh = "device"
)

// IsZero reports whether nothing needs reloading.
func (r Refresh) IsZero() bool {
	return r == RefreshNone
}

// UnmarshalJSON maps true to RefreshAll and the known strings to their
// scope. Anything else means no refresh.
func (r *Refresh) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*r = RefreshAll
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch Refresh(s) {
		case RefreshInstance, RefreshDevice:
			*r = Refresh(s)
		default:
			*r = RefreshNone
		}
	default:
		*r = RefreshNone
	}
	return nil
}

// MarshalJSON writes RefreshAll back as true.
func (r Refresh) MarshalJSON() ([]byte, error) {
	switch r {
	case RefreshAll:
		return []byte("true"), nil
	case RefreshNone:
		return []byte("false"), nil
	default:
		return json.Marshal(string(r))
	}
}

// DecodeResponse parses a response envelope. A missing body or a body
// without a type is malformed.
//
// Parameters:
//   - raw: Payload of an action or control reply
//
// Returns:
//   - *Response: The envelope; a result without a body gets an empty Result
//   - error: ErrEmptyResponse or wrapped ErrMalformedResponse
//
// Example:
//
//	resp, err := protocol.DecodeResponse([]byte(`{"type":"confirm","origin":"o1","confirm":"Sure?"}`))
//	// resp.Type == protocol.ResponseConfirm
func DecodeResponse(raw []byte) (*Response, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrEmptyResponse
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedResponse)
	}
	// A bare result still closes the session
	if resp.Type == ResponseResult && resp.Result == nil {
		resp.Result = &Result{}
	}
	return &resp, nil
}

// ProgressOpen reports whether a progress object keeps its dialog open.
func ProgressOpen(p map[string]any) bool {
	if p == nil {
		return false
	}
	return truthy(p["open"])
}

// MergeProgress shallow-merges update over base into a new map. Keys in
// update win.
func MergeProgress(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
