package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Request", topics.Request("zigbee.0"), "graylogic/console/request/zigbee.0"},
		{"Response", topics.Response("console-a", "req-1"), "graylogic/console/response/console-a/req-1"},
		{"AllResponses", topics.AllResponses("console-a"), "graylogic/console/response/console-a/+"},
		{"State", topics.State("system.adapter.zigbee.0.alive"), "graylogic/console/state/system.adapter.zigbee.0.alive"},
		{"AllStates", topics.AllStates(), "graylogic/console/state/#"},
		{"Object", topics.Object("system.adapter.zigbee.0"), "graylogic/console/object/system.adapter.zigbee.0"},
		{"AllObjects", topics.AllObjects(), "graylogic/console/object/#"},
		{"ConsoleStatus", topics.ConsoleStatus("console-a"), "graylogic/console/status/console-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopicParsers(t *testing.T) {
	topics := Topics{}

	if id, ok := topics.StateID("graylogic/console/state/zigbee.0.lamp.on"); !ok || id != "zigbee.0.lamp.on" {
		t.Errorf("StateID() = %q, %v", id, ok)
	}
	if _, ok := topics.StateID("graylogic/console/state/"); ok {
		t.Error("StateID() accepted empty id")
	}
	if _, ok := topics.StateID("graylogic/console/object/x"); ok {
		t.Error("StateID() accepted an object topic")
	}
	if id, ok := topics.ObjectID("graylogic/console/object/system.adapter.hue.1"); !ok || id != "system.adapter.hue.1" {
		t.Errorf("ObjectID() = %q, %v", id, ok)
	}
	if id, ok := topics.RequestID("graylogic/console/response/console-a/abc-123"); !ok || id != "abc-123" {
		t.Errorf("RequestID() = %q, %v", id, ok)
	}
	if _, ok := topics.RequestID("graylogic/console/response/console-a/"); ok {
		t.Error("RequestID() accepted empty id")
	}
}
