package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/bus/bustest"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

type historyRecorder struct {
	mu     sync.Mutex
	values []protocol.State
}

func (h *historyRecorder) RecordControlValue(_, _, _ string, st protocol.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, st)
}

func (h *historyRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}

func result(st *protocol.State) map[string]any {
	res := map[string]any{}
	if st != nil {
		res["state"] = st
	}
	return map[string]any{"type": "result", "result": res}
}

func switchControl(st *protocol.State) protocol.Control {
	return protocol.Control{ID: "c1", Type: protocol.ControlSwitch, StateID: "zigbee.0.d1.on", State: st}
}

// waitIdle blocks until no read-back is running on b.
func waitIdle(t *testing.T, b *Binding) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		busy := b.refreshing
		b.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for read-back")
}

func TestWrite_ThenOlderPushDiscarded(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	t.Cleanup(s.Close)

	binding, err := s.Bind("zigbee.0", "d1", switchControl(nil))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	b.Script("zigbee.0", protocol.CmdDeviceControl, result(&protocol.State{Val: true, Ts: 1000}))
	b.Script("zigbee.0", protocol.CmdDeviceControlState, result(&protocol.State{Val: false, Ts: 999}))

	st, err := binding.Write(context.Background(), true)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if st == nil || st.Val != true || st.Ts != 1000 {
		t.Fatalf("Write() = %+v, want {true 1000}", st)
	}

	var req protocol.ControlRequest
	if err := b.CallsFor(protocol.CmdDeviceControl)[0].Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.DeviceID != "d1" || req.ControlID != "c1" || req.State != true {
		t.Errorf("request = %+v, want {d1 c1 true}", req)
	}

	b.SetState("zigbee.0.d1.on", &protocol.State{Val: false, Ts: 999})
	waitFor(t, "read-back", func() bool { return len(b.CallsFor(protocol.CmdDeviceControlState)) == 1 })
	waitIdle(t, binding)

	got := binding.State()
	if got.Val != true || got.Ts != 1000 {
		t.Errorf("State() = %+v, want {true 1000}", got)
	}
}

func TestApply_ReorderingConverges(t *testing.T) {
	older := &protocol.State{Val: 1.0, Ts: 100}
	newer := &protocol.State{Val: 2.0, Ts: 200}

	orders := [][]*protocol.State{
		{older, newer},
		{newer, older},
		{newer, older, newer},
		{older, older, newer, older},
	}

	for _, order := range orders {
		s := NewSynchronizer(bustest.New())
		b, err := s.Bind("zigbee.0", "d1", protocol.Control{ID: "level", Type: protocol.ControlSlider})
		if err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
		for _, st := range order {
			b.apply(st, SourcePush)
		}
		if got := b.State(); got.Ts != 200 || got.Val != 2.0 {
			t.Errorf("after %d updates State() = %+v, want {2 200}", len(order), got)
		}
		s.Close()
	}
}

func TestApply_Rules(t *testing.T) {
	tests := []struct {
		name    string
		seed    *protocol.State
		update  *protocol.State
		applied bool
	}{
		{"no current timestamp", &protocol.State{Val: "a"}, &protocol.State{Val: "b", Ts: 1}, true},
		{"newer", &protocol.State{Val: "a", Ts: 5}, &protocol.State{Val: "b", Ts: 6}, true},
		{"equal discarded", &protocol.State{Val: "a", Ts: 5}, &protocol.State{Val: "b", Ts: 5}, false},
		{"older", &protocol.State{Val: "a", Ts: 5}, &protocol.State{Val: "b", Ts: 4}, false},
		{"update without timestamp", &protocol.State{Val: "a", Ts: 5}, &protocol.State{Val: "b"}, false},
		{"nil update", &protocol.State{Val: "a", Ts: 5}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynchronizer(bustest.New())
			defer s.Close()
			c := protocol.Control{ID: "t", Type: protocol.ControlText, State: tt.seed}
			b, err := s.Bind("zigbee.0", "d1", c)
			if err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			if got := b.apply(tt.update, SourcePush); got != tt.applied {
				t.Errorf("apply() = %v, want %v", got, tt.applied)
			}
		})
	}
}

func TestWrite_ResultError(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	rec := &notify.Recorder{}
	s.SetNotifier(rec)
	defer s.Close()

	binding, err := s.Bind("zigbee.0", "d1", switchControl(&protocol.State{Val: false, Ts: 10}))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	b.Script("zigbee.0", protocol.CmdDeviceControl,
		`{"type":"result","result":{"error":{"code":"E_BUSY","message":"device busy"}}}`)

	_, err = binding.Write(context.Background(), true)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Write() error = %v, want ErrRejected", err)
	}
	notes := rec.All()
	if len(notes) != 1 || notes[0].Message != "device busy" || notes[0].DeviceID != "d1" {
		t.Errorf("notifications = %+v, want one for device busy", notes)
	}
	if got := binding.State(); got.Val != false {
		t.Errorf("State() = %+v, want unchanged", got)
	}
}

func TestWrite_Errors(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	rec := &notify.Recorder{}
	s.SetNotifier(rec)
	defer s.Close()

	info, err := s.Bind("zigbee.0", "d1", protocol.Control{ID: "rssi", Type: protocol.ControlInfo})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := info.Write(context.Background(), 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write() on info error = %v, want ErrReadOnly", err)
	}

	sw, err := s.Bind("zigbee.0", "d1", switchControl(nil))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	b.Script("zigbee.0", protocol.CmdDeviceControl, bus.ErrTimeout)
	if _, err := sw.Write(context.Background(), true); !errors.Is(err, bus.ErrTimeout) {
		t.Errorf("Write() error = %v, want ErrTimeout", err)
	}
	if len(rec.All()) != 1 {
		t.Errorf("notifications = %d, want 1", len(rec.All()))
	}

	b.Script("zigbee.0", protocol.CmdDeviceControl, `{"type":"message","message":"odd"}`)
	st, err := sw.Write(context.Background(), true)
	if err != nil || st != nil {
		t.Errorf("Write() with non-result reply = %v, %v, want nil, nil", st, err)
	}
}

func TestButtonIgnoresPush(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	defer s.Close()

	c := protocol.Control{ID: "press", Type: protocol.ControlButton, StateID: "zigbee.0.d1.press"}
	if _, err := s.Bind("zigbee.0", "d1", c); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if n := b.StateSubscribers("zigbee.0.d1.press"); n != 0 {
		t.Errorf("button subscribers = %d, want 0", n)
	}
	b.SetState("zigbee.0.d1.press", &protocol.State{Val: true, Ts: 5})
	if n := len(b.CallsFor(protocol.CmdDeviceControlState)); n != 0 {
		t.Errorf("controlState requests = %d, want 0", n)
	}
}

func TestPush_AppliesNewerAndRecordsHistory(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	hist := &historyRecorder{}
	s.SetHistory(hist)
	s.SetMetrics(NewMetrics())
	defer s.Close()

	var updates []Update
	var mu sync.Mutex
	s.OnUpdate(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	})

	binding, err := s.Bind("zigbee.0", "d1", switchControl(&protocol.State{Val: false, Ts: 10}))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	b.Handle("zigbee.0", protocol.CmdDeviceControlState, func(payload json.RawMessage) (any, error) {
		var req protocol.ControlStateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.DeviceID != "d1" || req.ControlID != "c1" {
			return nil, errors.New("unexpected request")
		}
		return result(&protocol.State{Val: true, Ts: 20}), nil
	})

	b.SetState("zigbee.0.d1.on", &protocol.State{Val: true, Ts: 20})
	waitFor(t, "pushed value", func() bool { return binding.State().Ts == 20 })
	waitIdle(t, binding)

	if hist.count() != 1 {
		t.Errorf("history entries = %d, want 1", hist.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 1 || updates[0].Source != SourcePush || updates[0].DeviceID != "d1" {
		t.Errorf("updates = %+v, want one push for d1", updates)
	}
}

func TestSync_ReseedsAndReleases(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	defer s.Close()

	devices := []protocol.Device{
		{ID: "d1", Controls: []protocol.Control{switchControl(&protocol.State{Val: true, Ts: 50})}},
		{ID: "d2", Controls: []protocol.Control{{ID: "lvl", Type: protocol.ControlSlider, StateID: "zigbee.0.d2.lvl"}}},
	}
	s.Sync("zigbee.0", devices)
	if n := len(s.Bindings()); n != 2 {
		t.Fatalf("Bindings() = %d, want 2", n)
	}

	// A reload carrying an older value must not regress the display.
	devices[0].Controls[0].State = &protocol.State{Val: false, Ts: 40}
	s.Sync("zigbee.0", devices[:1])

	binding, err := s.Binding("zigbee.0", "d1", "c1")
	if err != nil {
		t.Fatalf("Binding() error = %v", err)
	}
	if got := binding.State(); got.Val != true || got.Ts != 50 {
		t.Errorf("State() = %+v, want {true 50}", got)
	}
	if _, err := s.Binding("zigbee.0", "d2", "lvl"); !errors.Is(err, ErrNotBound) {
		t.Errorf("Binding(d2) error = %v, want ErrNotBound", err)
	}
	if n := b.StateSubscribers("zigbee.0.d2.lvl"); n != 0 {
		t.Errorf("d2 subscribers = %d, want 0", n)
	}

	// A newer value from a reload is taken.
	devices[0].Controls[0].State = &protocol.State{Val: false, Ts: 60}
	s.Sync("zigbee.0", devices[:1])
	if got := binding.State(); got.Val != false || got.Ts != 60 {
		t.Errorf("State() = %+v, want {false 60}", got)
	}

	s.Sync("zigbee.0", nil)
	if n := len(s.Bindings()); n != 0 {
		t.Errorf("Bindings() = %d after clear, want 0", n)
	}
	if _, err := binding.Write(context.Background(), true); !errors.Is(err, ErrBindingClosed) {
		t.Errorf("Write() on closed binding error = %v, want ErrBindingClosed", err)
	}
}

func TestBind_StateIDChangeResubscribes(t *testing.T) {
	b := bustest.New()
	s := NewSynchronizer(b)
	defer s.Close()

	c := switchControl(nil)
	if _, err := s.Bind("zigbee.0", "d1", c); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	c.StateID = "zigbee.0.d1.power"
	if _, err := s.Bind("zigbee.0", "d1", c); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if n := b.StateSubscribers("zigbee.0.d1.on"); n != 0 {
		t.Errorf("old state subscribers = %d, want 0", n)
	}
	if n := b.StateSubscribers("zigbee.0.d1.power"); n != 1 {
		t.Errorf("new state subscribers = %d, want 1", n)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
