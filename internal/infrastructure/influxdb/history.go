package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// MeasurementControlState is the measurement holding control history.
const MeasurementControlState = "control_state"

// RecordControlValue queues one control_state point. States without a
// timestamp are stamped with the current time.
//
// Writes are batched and never block; failures surface through SetOnError.
//
// Parameters:
//   - instance: Instance the control belongs to (tag)
//   - deviceID: Device identifier (tag)
//   - controlID: Control identifier (tag)
//   - state: The displayed state; Val picks the field, Ts the point time
//
// Example:
//
//	history.RecordControlValue("zigbee.0", "lamp", "on",
//	    protocol.State{Val: true, Ts: 1718000000000, Ack: true})
func (c *Client) RecordControlValue(instance, deviceID, controlID string, state protocol.State) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(controlPoint(instance, deviceID, controlID, state, time.Now()))
}

// controlPoint maps a state onto typed fields: numbers go to "value",
// booleans to "bool", strings to "text" and anything else to "json".
func controlPoint(instance, deviceID, controlID string, state protocol.State, now time.Time) *write.Point {
	ts := now
	if state.Ts != 0 {
		ts = time.UnixMilli(state.Ts)
	}

	fields := map[string]any{"ack": state.Ack}
	switch v := state.Val.(type) {
	case nil:
		fields["null"] = true
	case bool:
		fields["bool"] = v
	case float64:
		fields["value"] = v
	case float32:
		fields["value"] = float64(v)
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			fields["value"] = f
		} else {
			fields["text"] = v.String()
		}
	case string:
		fields["text"] = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			b = []byte(`"unencodable"`)
		}
		fields["json"] = string(b)
	}

	return write.NewPoint(MeasurementControlState,
		map[string]string{
			"instance":   instance,
			"device_id":  deviceID,
			"control_id": controlID,
		},
		fields, ts)
}
