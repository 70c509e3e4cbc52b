package action

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/bus/bustest"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// mockRefresher counts reload requests.
type mockRefresher struct {
	mu        sync.Mutex
	devices   int
	instances int
}

func (m *mockRefresher) ReloadDevices(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices++
	return nil
}

func (m *mockRefresher) ReloadInstance(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances++
	return nil
}

// mockRecorder keeps audit records.
type mockRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *mockRecorder) RecordSession(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type fixture struct {
	bus       *bustest.Bus
	orch      *Orchestrator
	refresher *mockRefresher
	recorder  *mockRecorder
	notes     *notify.Recorder
	presented []Snapshot
	mu        sync.Mutex
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		bus:       bustest.New(),
		refresher: &mockRefresher{},
		recorder:  &mockRecorder{},
		notes:     &notify.Recorder{},
	}
	f.orch = NewOrchestrator(f.bus, f.refresher, opts)
	f.orch.SetNotifier(f.notes)
	f.orch.SetRecorder(f.recorder)
	f.orch.SetMetrics(NewMetrics())
	f.orch.SetPresenter(PresenterFunc(func(s Snapshot) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.presented = append(f.presented, s)
	}))
	return f
}

func progressPayloads(t *testing.T, b *bustest.Bus) []protocol.ProgressRequest {
	t.Helper()
	calls := b.CallsFor(protocol.CmdActionProgress)
	out := make([]protocol.ProgressRequest, len(calls))
	for i, c := range calls {
		if err := c.Decode(&out[i]); err != nil {
			t.Fatalf("decode continuation %d: %v", i, err)
		}
	}
	return out
}

func TestDiscoveryScenario(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction,
		`{"type":"confirm","confirm":"Start discovery?","origin":"abc"}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress,
		`{"type":"progress","progress":{"open":true,"percent":10}}`,
		`{"type":"progress","progress":{"percent":100,"open":false}}`,
		`{"type":"result","result":{"refresh":true}}`,
	)

	snap, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "discover")
	if err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if snap.Phase != PhaseConfirm || snap.Busy || snap.Origin != "abc" {
		t.Fatalf("snapshot = %+v, want confirm prompt for abc", snap)
	}
	if snap.Prompt == nil || snap.Prompt.Message.String() != "Start discovery?" {
		t.Errorf("prompt = %+v, want confirm text", snap.Prompt)
	}

	var sent protocol.InstanceActionRequest
	if err := f.bus.CallsFor(protocol.CmdInstanceAction)[0].Decode(&sent); err != nil || sent.ActionID != "discover" {
		t.Errorf("instanceAction payload = %+v, %v", sent, err)
	}

	snap, err = f.orch.Reply(context.Background(), "abc", Confirm(true))
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}

	if snap.Phase != PhaseIdle || snap.Busy || snap.ProgressOpen || snap.Prompt != nil {
		t.Errorf("final snapshot = %+v, want idle with nothing open", snap)
	}
	if snap.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", snap.Outcome)
	}
	if f.refresher.devices != 1 {
		t.Errorf("device reloads = %d, want 1", f.refresher.devices)
	}

	yes := true
	want := []protocol.ProgressRequest{
		{Origin: "abc", Confirm: &yes},
		{Origin: "abc"},
		{Origin: "abc"},
	}
	if got := progressPayloads(t, f.bus); !reflect.DeepEqual(got, want) {
		t.Errorf("continuations = %+v, want %+v", got, want)
	}
	if len(f.orch.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none", f.orch.Sessions())
	}
	if len(f.recorder.records) != 1 || f.recorder.records[0].RoundTrips != 4 {
		t.Errorf("audit records = %+v, want one with 4 round trips", f.recorder.records)
	}
}

func TestProgressMergeLastWriteWins(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction,
		`{"type":"progress","origin":"o1","progress":{"open":true,"label":"a","percent":1}}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress,
		`{"type":"progress","progress":{"percent":50}}`,
		`{"type":"progress","progress":{"label":"b"}}`,
		`{"type":"progress","progress":{"percent":75,"extra":true}}`,
		`{"type":"message","message":"done?"}`,
	)

	snap, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "scan")
	if err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}

	want := map[string]any{"open": true, "label": "b", "percent": 75.0, "extra": true}
	if !reflect.DeepEqual(snap.Progress, want) {
		t.Errorf("Progress = %v, want %v", snap.Progress, want)
	}
	if !snap.ProgressOpen || snap.Phase != PhaseMessage {
		t.Errorf("snapshot = %+v, want open progress and message prompt", snap)
	}
}

func TestProgressClosedDialogAdoptsFresh(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction,
		`{"type":"progress","origin":"o1","progress":{"open":true,"label":"a"}}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress,
		`{"type":"progress","progress":{"open":false}}`,
		`{"type":"progress","progress":{"open":true,"percent":5}}`,
		`{"type":"message","message":"hi"}`,
	)

	snap, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "scan")
	if err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	want := map[string]any{"open": true, "percent": 5.0}
	if !reflect.DeepEqual(snap.Progress, want) {
		t.Errorf("Progress = %v, want %v", snap.Progress, want)
	}
}

func TestInvokeAlwaysEndsIdle(t *testing.T) {
	tests := []struct {
		name    string
		reply   any
		outcome Outcome
		wantErr error
	}{
		{"result", `{"type":"result","result":{}}`, OutcomeCompleted, nil},
		{"result without body", `{"type":"result"}`, OutcomeCompleted, nil},
		{"result error", `{"type":"result","result":{"error":{"message":"nope"}}}`, OutcomeFailed, nil},
		{"unknown type", `{"type":"fireworks"}`, OutcomeProtocolError, nil},
		{"empty", `null`, OutcomeProtocolError, nil},
		{"no type", `{"origin":"x"}`, OutcomeProtocolError, nil},
		{"prompt without origin", `{"type":"message","message":"hi"}`, OutcomeProtocolError, nil},
		{"progress without origin", `{"type":"progress","progress":{"open":true}}`, OutcomeProtocolError, nil},
		{"transport error", bus.ErrNoResponder, OutcomeTransportError, bus.ErrNoResponder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.bus.Script("zigbee.0", protocol.CmdDeviceAction, tt.reply)

			snap, err := f.orch.InvokeDeviceAction(context.Background(), "zigbee.0", "d1", "pair", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("InvokeDeviceAction() error = %v, want %v", err, tt.wantErr)
			}
			if snap.Phase != PhaseIdle || snap.Busy || snap.Prompt != nil {
				t.Errorf("snapshot = %+v, want idle", snap)
			}
			if snap.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", snap.Outcome, tt.outcome)
			}
			if f.orch.Busy(Target{Instance: "zigbee.0", DeviceID: "d1"}) {
				t.Error("Busy() = true after session ended")
			}
		})
	}
}

func TestResultErrorNotifies(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdDeviceAction,
		`{"type":"result","result":{"error":{"code":3,"message":"pairing failed"}}}`)

	snap, err := f.orch.InvokeDeviceAction(context.Background(), "zigbee.0", "d1", "pair", nil)
	if err != nil {
		t.Fatalf("InvokeDeviceAction() error = %v", err)
	}
	if snap.Error == nil || snap.Error.Message != "pairing failed" {
		t.Errorf("Error = %+v, want pairing failed", snap.Error)
	}
	notes := f.notes.All()
	if len(notes) != 1 || notes[0].Message != "pairing failed" || notes[0].DeviceID != "d1" {
		t.Errorf("notifications = %+v", notes)
	}
	if rec := f.recorder.records[0]; rec.Outcome != OutcomeFailed || rec.Error != "3: pairing failed" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRefreshDirectives(t *testing.T) {
	tests := []struct {
		name          string
		refresh       string
		withCallback  bool
		wantDevices   int
		wantInstances int
		wantCallback  int
	}{
		{"all", `true`, false, 1, 0, 0},
		{"instance", `"instance"`, false, 0, 1, 0},
		{"device with callback", `"device"`, true, 0, 0, 1},
		{"device without callback", `"device"`, false, 0, 0, 0},
		{"false", `false`, true, 0, 0, 0},
		{"unknown string", `"planet"`, true, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.bus.Script("zigbee.0", protocol.CmdDeviceAction,
				`{"type":"result","result":{"refresh":`+tt.refresh+`}}`)

			calls := 0
			var cb func()
			if tt.withCallback {
				cb = func() { calls++ }
			}
			if _, err := f.orch.InvokeDeviceAction(context.Background(), "zigbee.0", "d1", "x", cb); err != nil {
				t.Fatalf("InvokeDeviceAction() error = %v", err)
			}
			if f.refresher.devices != tt.wantDevices || f.refresher.instances != tt.wantInstances || calls != tt.wantCallback {
				t.Errorf("reloads devices=%d instances=%d callback=%d, want %d %d %d",
					f.refresher.devices, f.refresher.instances, calls,
					tt.wantDevices, tt.wantInstances, tt.wantCallback)
			}
		})
	}
}

func TestOneSessionPerTarget(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction, `{"type":"message","message":"hello","origin":"o1"}`)
	f.bus.Script("zigbee.0", protocol.CmdDeviceAction, `{"type":"result","result":{}}`)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "b"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second InvokeInstanceAction() error = %v, want ErrSessionBusy", err)
	}
	// A device target on the same instance is a different scope.
	if _, err := f.orch.InvokeDeviceAction(context.Background(), "zigbee.0", "d1", "c", nil); err != nil {
		t.Errorf("InvokeDeviceAction() error = %v", err)
	}
	if n := len(f.bus.CallsFor(protocol.CmdInstanceAction)); n != 1 {
		t.Errorf("instanceAction sent %d times, want 1", n)
	}
}

func TestMessageAck(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction, `{"type":"message","message":"Plug it in","origin":"o1"}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress, `{"type":"result","result":{}}`)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if _, err := f.orch.Reply(context.Background(), "o1", Confirm(true)); !errors.Is(err, ErrInvalidReply) {
		t.Errorf("Reply(Confirm) to message error = %v, want ErrInvalidReply", err)
	}
	if _, err := f.orch.Reply(context.Background(), "nope", Ack()); !errors.Is(err, ErrUnknownOrigin) {
		t.Errorf("Reply() unknown origin error = %v, want ErrUnknownOrigin", err)
	}

	snap, err := f.orch.Reply(context.Background(), "o1", Ack())
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("Phase = %s, want idle", snap.Phase)
	}
	want := []protocol.ProgressRequest{{Origin: "o1"}}
	if got := progressPayloads(t, f.bus); !reflect.DeepEqual(got, want) {
		t.Errorf("continuations = %+v, want %+v", got, want)
	}
}

func TestFormEditAndSubmit(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdDeviceAction,
		`{"type":"form","origin":"f1","form":{"title":"Rename","schema":{"type":"panel"},"data":{"name":"old","room":"hall"}}}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress, `{"type":"result","result":{"refresh":"device"}}`)

	snap, err := f.orch.InvokeDeviceAction(context.Background(), "zigbee.0", "d1", "rename", nil)
	if err != nil {
		t.Fatalf("InvokeDeviceAction() error = %v", err)
	}
	if snap.Phase != PhaseForm || snap.Prompt.Form == nil {
		t.Fatalf("snapshot = %+v, want form prompt", snap)
	}

	calls := len(f.bus.Calls())
	snap, err = f.orch.UpdateForm("f1", map[string]any{"name": "new"})
	if err != nil {
		t.Fatalf("UpdateForm() error = %v", err)
	}
	if snap.Prompt.Data["name"] != "new" || snap.Prompt.Data["room"] != "hall" {
		t.Errorf("form data = %v", snap.Prompt.Data)
	}
	if len(f.bus.Calls()) != calls {
		t.Error("UpdateForm() sent bus traffic")
	}

	if _, err := f.orch.Reply(context.Background(), "f1", Submit(nil)); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	got := progressPayloads(t, f.bus)
	want := []protocol.ProgressRequest{{Origin: "f1", Data: map[string]any{"name": "new", "room": "hall"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("continuations = %+v, want %+v", got, want)
	}
}

func TestFormCancelSendsNoData(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction,
		`{"type":"form","origin":"f1","form":{"data":{"a":1}}}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress, `{"type":"result","result":{}}`)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "cfg"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if _, err := f.orch.Reply(context.Background(), "f1", Cancel()); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}

	var raw map[string]json.RawMessage
	if err := f.bus.CallsFor(protocol.CmdActionProgress)[0].Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["data"]; ok {
		t.Errorf("cancel continuation carries data: %v", raw)
	}
}

func TestOriginFollowsLatest(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction, `{"type":"confirm","confirm":"go?","origin":"o1"}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress,
		`{"type":"message","message":"step 2","origin":"o2"}`,
		`{"type":"result","result":{}}`,
	)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if _, err := f.orch.Reply(context.Background(), "o1", Confirm(false)); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if _, err := f.orch.Session("o1"); !errors.Is(err, ErrUnknownOrigin) {
		t.Errorf("Session(o1) error = %v, want ErrUnknownOrigin", err)
	}
	if _, err := f.orch.Reply(context.Background(), "o2", Ack()); err != nil {
		t.Fatalf("Reply(o2) error = %v", err)
	}

	got := progressPayloads(t, f.bus)
	if len(got) != 2 || got[0].Origin != "o1" || got[1].Origin != "o2" {
		t.Errorf("continuations = %+v, want o1 then o2", got)
	}
	if got[0].Confirm == nil || *got[0].Confirm {
		t.Errorf("first continuation confirm = %v, want false", got[0].Confirm)
	}
}

func TestPromptTimeoutAbandons(t *testing.T) {
	f := newFixture(t, Options{PromptTimeout: time.Minute})
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return clock }

	f.bus.Script("zigbee.0", protocol.CmdInstanceAction, `{"type":"confirm","confirm":"go?","origin":"o1"}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress, `{"type":"confirm","confirm":"really?"}`)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	if n := f.orch.ExpirePrompts(context.Background()); n != 0 {
		t.Errorf("ExpirePrompts() = %d before timeout, want 0", n)
	}

	clock = clock.Add(2 * time.Minute)
	if n := f.orch.ExpirePrompts(context.Background()); n != 1 {
		t.Errorf("ExpirePrompts() = %d, want 1", n)
	}

	got := progressPayloads(t, f.bus)
	if len(got) != 1 || got[0].Origin != "o1" || got[0].Confirm == nil || *got[0].Confirm {
		t.Errorf("continuations = %+v, want one confirm=false", got)
	}
	if len(f.orch.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none", f.orch.Sessions())
	}
	if rec := f.recorder.records[0]; rec.Outcome != OutcomeAbandoned {
		t.Errorf("outcome = %s, want abandoned", rec.Outcome)
	}
}

func TestReplyWhileBusy(t *testing.T) {
	f := newFixture(t, Options{})
	release := make(chan struct{})
	entered := make(chan struct{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction, `{"type":"message","message":"m","origin":"o1"}`)
	f.bus.Handle("zigbee.0", protocol.CmdActionProgress, func(json.RawMessage) (any, error) {
		close(entered)
		<-release
		return `{"type":"result","result":{}}`, nil
	})

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Reply(context.Background(), "o1", Ack())
		done <- err
	}()
	<-entered

	if _, err := f.orch.Reply(context.Background(), "o1", Ack()); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("Reply() while busy error = %v, want ErrNotWaiting", err)
	}
	snap, err := f.orch.Session("o1")
	if err != nil || !snap.Busy || snap.Phase != PhaseSent {
		t.Errorf("Session() = %+v, %v, want busy sent", snap, err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
}

func TestPresenterSeesEveryStep(t *testing.T) {
	f := newFixture(t, Options{})
	f.bus.Script("zigbee.0", protocol.CmdInstanceAction,
		`{"type":"progress","origin":"p","progress":{"open":true}}`)
	f.bus.Script("zigbee.0", protocol.CmdActionProgress, `{"type":"result","result":{}}`)

	if _, err := f.orch.InvokeInstanceAction(context.Background(), "zigbee.0", "a"); err != nil {
		t.Fatalf("InvokeInstanceAction() error = %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	phases := make([]Phase, len(f.presented))
	for i, s := range f.presented {
		phases[i] = s.Phase
	}
	want := []Phase{PhaseSent, PhaseProgress, PhaseIdle}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("presented phases = %v, want %v", phases, want)
	}
}
