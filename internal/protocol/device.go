package protocol

import (
	"bytes"
	"encoding/json"
)

// ControlType selects how a control is rendered and driven.
type ControlType string

// Control types.
const (
	ControlButton ControlType = "button"
	ControlIcon   ControlType = "icon"
	ControlSwitch ControlType = "switch"
	ControlSlider ControlType = "slider"
	ControlSelect ControlType = "select"
	ControlColor  ControlType = "color"
	ControlText   ControlType = "text"
	ControlNumber ControlType = "number"
	ControlInfo   ControlType = "info"
)

// AcceptsPush reports whether external state pushes update the control.
// Buttons are stateless triggers and ignore them.
func (t ControlType) AcceptsPush() bool {
	return t != ControlButton
}

// Writable reports whether the operator can send values through the control.
func (t ControlType) Writable() bool {
	return t != ControlInfo
}

// Action is an operation offered by an instance or a device.
type Action struct {
	ID          string `json:"id"`
	Icon        string `json:"icon,omitempty"`
	Label       Text   `json:"label,omitzero"`
	Description Text   `json:"description,omitzero"`
	Disabled    bool   `json:"disabled,omitempty"`
	Color       string `json:"color,omitempty"`
}

// ControlOption is one selectable entry of a select control.
type ControlOption struct {
	Value any  `json:"value"`
	Label Text `json:"label"`
}

// Control is a live-valued widget bound to a backend state.
type Control struct {
	ID          string          `json:"id"`
	Type        ControlType     `json:"type"`
	StateID     string          `json:"stateId,omitempty"`
	State       *State          `json:"state,omitempty"`
	Label       Text            `json:"label,omitzero"`
	Description Text            `json:"description,omitzero"`
	Icon        string          `json:"icon,omitempty"`
	IconOn      string          `json:"iconOn,omitempty"`
	Color       string          `json:"color,omitempty"`
	ColorOn     string          `json:"colorOn,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Min         *float64        `json:"min,omitempty"`
	Max         *float64        `json:"max,omitempty"`
	Step        *float64        `json:"step,omitempty"`
	Options     []ControlOption `json:"options,omitempty"`
}

// Group classifies a device for filtering.
type Group struct {
	Key  string `json:"key"`
	Name Text   `json:"name,omitzero"`
	Icon string `json:"icon,omitempty"`
}

// DeviceStatus describes connectivity and health. Battery may be a
// percentage, a voltage string or a boolean ok flag.
type DeviceStatus struct {
	Connection string `json:"connection,omitempty"`
	Battery    any    `json:"battery,omitempty"`
	RSSI       *int   `json:"rssi,omitempty"`
	Warning    Text   `json:"warning,omitzero"`
}

// Connected reports whether the status marks the device as connected.
func (s DeviceStatus) Connected() bool {
	return s.Connection == "connected"
}

// Statuses holds one or more status records. On the wire a status may be a
// bare "connected"/"disconnected" string, an object or an array of either.
type Statuses []DeviceStatus

// UnmarshalJSON accepts every status shape backends send.
func (s *Statuses) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(Statuses, 0, len(raw))
		for _, r := range raw {
			st, err := decodeStatus(r)
			if err != nil {
				return err
			}
			out = append(out, st)
		}
		*s = out
		return nil
	}

	st, err := decodeStatus(data)
	if err != nil {
		return err
	}
	*s = Statuses{st}
	return nil
}

func decodeStatus(data []byte) (DeviceStatus, error) {
	if len(data) > 0 && data[0] == '"' {
		var conn string
		if err := json.Unmarshal(data, &conn); err != nil {
			return DeviceStatus{}, err
		}
		return DeviceStatus{Connection: conn}, nil
	}
	var st DeviceStatus
	err := json.Unmarshal(data, &st)
	return st, err
}

// Device is one entry of a listDevices response.
type Device struct {
	ID              string    `json:"id"`
	Name            Text      `json:"name"`
	Icon            string    `json:"icon,omitempty"`
	Manufacturer    Text      `json:"manufacturer,omitzero"`
	Model           Text      `json:"model,omitzero"`
	Color           string    `json:"color,omitempty"`
	BackgroundColor string    `json:"backgroundColor,omitempty"`
	Status          Statuses  `json:"status,omitempty"`
	HasDetails      bool      `json:"hasDetails,omitempty"`
	Actions         []Action  `json:"actions,omitempty"`
	Controls        []Control `json:"controls,omitempty"`
	Group           *Group    `json:"group,omitempty"`
}

// Control returns the control with the given id.
func (d *Device) Control(id string) (Control, bool) {
	for _, c := range d.Controls {
		if c.ID == id {
			return c, true
		}
	}
	return Control{}, false
}

// Action returns the action with the given id.
func (d *Device) Action(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// DeviceDetails is the response to CmdDeviceDetails: a form schema and
// the data it renders.
type DeviceDetails struct {
	ID     string          `json:"id"`
	Schema json.RawMessage `json:"schema"`
	Data   map[string]any  `json:"data,omitempty"`
}

// InstanceDetails is the response to CmdInstanceInfo.
type InstanceDetails struct {
	APIVersion           string   `json:"apiVersion"`
	Actions              []Action `json:"actions,omitempty"`
	CommunicationStateID string   `json:"communicationStateId,omitempty"`
}

// Action returns the instance action with the given id.
func (d *InstanceDetails) Action(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
