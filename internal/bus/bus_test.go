package bus

import (
	"encoding/json"
	"testing"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		id      string
		want    bool
	}{
		{"system.adapter.*", "system.adapter.zigbee.0", true},
		{"system.adapter.*", "system.host.pi", false},
		{"system.adapter.zigbee.0", "system.adapter.zigbee.0", true},
		{"system.adapter.zigbee.0", "system.adapter.zigbee.1", false},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.id); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.id, got, tt.want)
		}
	}
}

func TestInstanceObject(t *testing.T) {
	var obj InstanceObject
	err := json.Unmarshal([]byte(`{
		"_id":"system.adapter.zigbee.0",
		"common":{"messagebox":true,"supportedMessages":{"deviceManager":true}}
	}`), &obj)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !obj.ManagesDevices() {
		t.Error("ManagesDevices() = false, want true")
	}
	if obj.InstanceID() != "zigbee.0" {
		t.Errorf("InstanceID() = %q, want %q", obj.InstanceID(), "zigbee.0")
	}

	obj.Common.Messagebox = false
	if obj.ManagesDevices() {
		t.Error("ManagesDevices() = true without messagebox")
	}

	var nilObj *InstanceObject
	if nilObj.ManagesDevices() {
		t.Error("nil object manages devices")
	}
}

func TestAliveStateID(t *testing.T) {
	if got := AliveStateID("hue.1"); got != "system.adapter.hue.1.alive" {
		t.Errorf("AliveStateID() = %q", got)
	}
}
