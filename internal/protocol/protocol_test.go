package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestText_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		json string
		lang string
		want string
	}{
		{"plain", `"Kitchen lamp"`, "de", "Kitchen lamp"},
		{"translated", `{"en":"Lamp","de":"Lampe"}`, "de", "Lampe"},
		{"fallback to en", `{"en":"Lamp","de":"Lampe"}`, "fr", "Lamp"},
		{"only foreign", `{"de":"Lampe"}`, "fr", "Lampe"},
		{"null", `null`, "en", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var text Text
			if err := json.Unmarshal([]byte(tt.json), &text); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got := text.Resolve(tt.lang); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.lang, got, tt.want)
			}
		})
	}

	var text Text
	if err := json.Unmarshal([]byte(`42`), &text); err == nil {
		t.Error("Unmarshal(42) expected error")
	}
}

func TestText_MarshalKeepsShape(t *testing.T) {
	plain, _ := json.Marshal(PlainText("x"))
	if string(plain) != `"x"` {
		t.Errorf("plain = %s", plain)
	}
	tr, _ := json.Marshal(Translated(map[string]string{"en": "y"}))
	if string(tr) != `{"en":"y"}` {
		t.Errorf("translated = %s", tr)
	}

	action, _ := json.Marshal(Action{ID: "reset"})
	if string(action) != `{"id":"reset"}` {
		t.Errorf("empty text fields not omitted: %s", action)
	}
}

func TestState_NewerThan(t *testing.T) {
	tests := []struct {
		name    string
		state   *State
		current int64
		want    bool
	}{
		{"nil state", nil, 0, false},
		{"no timestamp", &State{Val: 1}, 0, false},
		{"current absent", &State{Val: 1, Ts: 5}, 0, true},
		{"strictly newer", &State{Val: 1, Ts: 1001}, 1000, true},
		{"equal discarded", &State{Val: 1, Ts: 1000}, 1000, false},
		{"older discarded", &State{Val: 1, Ts: 999}, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NewerThan(tt.current); got != tt.want {
				t.Errorf("NewerThan(%d) = %v, want %v", tt.current, got, tt.want)
			}
		})
	}
}

func TestState_Truthy(t *testing.T) {
	tests := []struct {
		val  any
		want bool
	}{
		{true, true},
		{false, false},
		{nil, false},
		{float64(1), true},
		{float64(0), false},
		{"", false},
		{"yes", true},
	}
	for _, tt := range tests {
		s := &State{Val: tt.val}
		if got := s.Truthy(); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.val, got, tt.want)
		}
	}
	var nilState *State
	if nilState.Truthy() {
		t.Error("nil state is truthy")
	}
}

func TestRefresh_Unmarshal(t *testing.T) {
	tests := []struct {
		json string
		want Refresh
	}{
		{`{"refresh":true}`, RefreshAll},
		{`{"refresh":false}`, RefreshNone},
		{`{"refresh":"instance"}`, RefreshInstance},
		{`{"refresh":"device"}`, RefreshDevice},
		{`{"refresh":"everything"}`, RefreshNone},
		{`{"refresh":null}`, RefreshNone},
		{`{}`, RefreshNone},
	}

	for _, tt := range tests {
		var r Result
		if err := json.Unmarshal([]byte(tt.json), &r); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.json, err)
		}
		if r.Refresh != tt.want {
			t.Errorf("Unmarshal(%s).Refresh = %q, want %q", tt.json, r.Refresh, tt.want)
		}
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"type":"confirm","origin":"abc","confirm":{"en":"Delete?"}}`))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Type != ResponseConfirm || resp.Origin != "abc" || resp.Confirm.String() != "Delete?" {
		t.Errorf("DecodeResponse() = %+v", resp)
	}

	resp, err = DecodeResponse([]byte(`{"type":"result"}`))
	if err != nil {
		t.Fatalf("DecodeResponse(result) error = %v", err)
	}
	if resp.Result == nil {
		t.Error("result without body should decode to an empty Result")
	}

	if _, err := DecodeResponse(nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("DecodeResponse(nil) error = %v, want ErrEmptyResponse", err)
	}
	if _, err := DecodeResponse([]byte("null")); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("DecodeResponse(null) error = %v, want ErrEmptyResponse", err)
	}
	if _, err := DecodeResponse([]byte(`{"origin":"x"}`)); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("DecodeResponse(no type) error = %v, want ErrMalformedResponse", err)
	}
	if _, err := DecodeResponse([]byte(`[1,2]`)); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("DecodeResponse(array) error = %v, want ErrMalformedResponse", err)
	}
}

func TestMergeProgress(t *testing.T) {
	base := map[string]any{"open": true, "progress": float64(10), "label": "Pairing"}
	merged := MergeProgress(base, map[string]any{"progress": float64(50)})

	if merged["progress"] != float64(50) || merged["label"] != "Pairing" || merged["open"] != true {
		t.Errorf("MergeProgress() = %v", merged)
	}
	if base["progress"] != float64(10) {
		t.Error("MergeProgress() mutated base")
	}
	if !ProgressOpen(merged) {
		t.Error("ProgressOpen() = false, want true")
	}
	if ProgressOpen(map[string]any{"open": false}) || ProgressOpen(nil) {
		t.Error("ProgressOpen() = true for closed progress")
	}
}

func TestStatuses_Unmarshal(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantLen   int
		connected bool
	}{
		{"string", `"connected"`, 1, true},
		{"object", `{"connection":"disconnected","battery":80}`, 1, false},
		{"array", `["connected",{"battery":true}]`, 2, true},
		{"null", `null`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Statuses
			if err := json.Unmarshal([]byte(tt.json), &s); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if len(s) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(s), tt.wantLen)
			}
			if tt.wantLen > 0 && s[0].Connected() != tt.connected {
				t.Errorf("Connected() = %v, want %v", s[0].Connected(), tt.connected)
			}
		})
	}
}

func TestDevice_Lookup(t *testing.T) {
	var d Device
	err := json.Unmarshal([]byte(`{
		"id":"lamp-1",
		"name":{"en":"Lamp"},
		"actions":[{"id":"identify"}],
		"controls":[{"id":"power","type":"switch","stateId":"hue.0.lamp-1.on","state":{"val":true,"ts":1000}}],
		"group":{"key":"lights"}
	}`), &d)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	c, ok := d.Control("power")
	if !ok || c.Type != ControlSwitch || c.State.Ts != 1000 {
		t.Errorf("Control(power) = %+v, %v", c, ok)
	}
	if _, ok := d.Control("missing"); ok {
		t.Error("Control(missing) found")
	}
	if _, ok := d.Action("identify"); !ok {
		t.Error("Action(identify) not found")
	}
	if d.Group == nil || d.Group.Key != "lights" {
		t.Errorf("Group = %+v", d.Group)
	}
}

func TestControlType(t *testing.T) {
	if ControlButton.AcceptsPush() {
		t.Error("buttons must ignore pushes")
	}
	if !ControlSwitch.AcceptsPush() {
		t.Error("switches must accept pushes")
	}
	if ControlInfo.Writable() {
		t.Error("info controls are read-only")
	}
}
