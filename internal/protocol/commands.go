package protocol

// Command names understood by device-management capable instances.
const (
	CmdInstanceInfo       = "dm:instanceInfo"
	CmdListDevices        = "dm:listDevices"
	CmdDeviceDetails      = "dm:deviceDetails"
	CmdInstanceAction     = "dm:instanceAction"
	CmdDeviceAction       = "dm:deviceAction"
	CmdDeviceControl      = "dm:deviceControl"
	CmdDeviceControlState = "dm:deviceControlState"
	CmdActionProgress     = "dm:actionProgress"
)

// APIVersion is the only instanceInfo apiVersion the console speaks.
const APIVersion = "v1"

// InstanceActionRequest is the payload of CmdInstanceAction.
type InstanceActionRequest struct {
	ActionID string `json:"actionId"`
}

// DeviceActionRequest is the payload of CmdDeviceAction.
type DeviceActionRequest struct {
	ActionID string `json:"actionId"`
	DeviceID string `json:"deviceId"`
}

// ControlRequest is the payload of CmdDeviceControl.
type ControlRequest struct {
	DeviceID  string `json:"deviceId"`
	ControlID string `json:"controlId"`
	State     any    `json:"state"`
}

// ControlStateRequest is the payload of CmdDeviceControlState.
type ControlStateRequest struct {
	DeviceID  string `json:"deviceId"`
	ControlID string `json:"controlId"`
}

// ProgressRequest is the payload of CmdActionProgress. It echoes the
// origin of the response being answered.
type ProgressRequest struct {
	Origin  string         `json:"origin"`
	Confirm *bool          `json:"confirm,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
