package control

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Logger defines the logging interface used by the Synchronizer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// History records applied control values.
type History interface {
	RecordControlValue(instance, deviceID, controlID string, state protocol.State)
}

// Source tells where an applied value came from.
type Source string

// Update sources.
const (
	SourceSeed  Source = "seed"
	SourceWrite Source = "write"
	SourcePush  Source = "push"
)

const defaultRequestTimeout = 30 * time.Second

// Key identifies one control of one device on one instance.
type Key struct {
	Instance  string `json:"instance"`
	DeviceID  string `json:"device_id"`
	ControlID string `json:"control_id"`
}

// Update is emitted for every applied value.
type Update struct {
	Key
	State  protocol.State `json:"state"`
	Source Source         `json:"source"`
}

// Synchronizer owns the bindings of every displayed control.
//
// All public methods are thread-safe. Update listeners run on the
// goroutine that applied the value and must not block.
type Synchronizer struct {
	bus      bus.Transport
	logger   Logger
	notifier notify.Notifier
	history  History
	metrics  *Metrics
	timeout  time.Duration

	mu       sync.Mutex
	bindings map[Key]*Binding

	listenMu  sync.RWMutex
	listeners []func(Update)
}

// NewSynchronizer creates a synchronizer over the given transport.
func NewSynchronizer(t bus.Transport) *Synchronizer {
	return &Synchronizer{
		bus:      t,
		logger:   noopLogger{},
		notifier: notify.Discard,
		timeout:  defaultRequestTimeout,
		bindings: make(map[Key]*Binding),
	}
}

// SetLogger sets the logger.
func (s *Synchronizer) SetLogger(logger Logger) { s.logger = logger }

// SetNotifier sets where rejected writes are reported.
func (s *Synchronizer) SetNotifier(n notify.Notifier) { s.notifier = n }

// SetHistory sets the sink for applied values. Nil disables it.
func (s *Synchronizer) SetHistory(h History) { s.history = h }

// SetMetrics sets the collectors to update. Nil disables them.
func (s *Synchronizer) SetMetrics(m *Metrics) { s.metrics = m }

// SetRequestTimeout bounds the read-back requests issued on pushes.
func (s *Synchronizer) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// OnUpdate registers fn for every applied value.
func (s *Synchronizer) OnUpdate(fn func(Update)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Bind returns the binding of a control, creating it if needed. An
// existing binding takes the new definition and is re-seeded from its
// state under the usual timestamp rule.
func (s *Synchronizer) Bind(instance, deviceID string, c protocol.Control) (*Binding, error) {
	key := Key{Instance: instance, DeviceID: deviceID, ControlID: c.ID}

	s.mu.Lock()
	b, ok := s.bindings[key]
	if !ok {
		b = &Binding{s: s, key: key, control: c}
		if c.State != nil {
			b.state = *c.State
		}
		s.bindings[key] = b
	}
	s.mu.Unlock()

	if ok {
		if err := b.redefine(c); err != nil {
			return b, err
		}
		b.apply(c.State, SourceSeed)
		return b, nil
	}

	if err := b.subscribe(); err != nil {
		return b, err
	}
	return b, nil
}

// Binding returns an existing binding.
func (s *Synchronizer) Binding(instance, deviceID, controlID string) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[Key{Instance: instance, DeviceID: deviceID, ControlID: controlID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotBound, instance, deviceID, controlID)
	}
	return b, nil
}

// Bindings returns every live binding ordered by key.
func (s *Synchronizer) Bindings() []*Binding {
	s.mu.Lock()
	out := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.ControlID < b.ControlID
	})
	return out
}

// Sync makes the binding set match a freshly loaded device list: controls
// in the list are bound or re-seeded, every other binding is torn down.
// A nil list tears down everything.
//
// Parameters:
//   - instance: Instance the list was loaded from
//   - devices: The loaded device list
//
// Example:
//
//	devices.OnLoaded(controls.Sync)
func (s *Synchronizer) Sync(instance string, devices []protocol.Device) {
	// Bind or re-seed everything in the list
	keep := make(map[Key]bool)
	for i := range devices {
		d := &devices[i]
		for _, c := range d.Controls {
			if c.ID == "" {
				continue
			}
			if _, err := s.Bind(instance, d.ID, c); err != nil {
				s.logger.Warn("binding control failed",
					"instance", instance, "device_id", d.ID, "control_id", c.ID, "error", err)
			}
			keep[Key{Instance: instance, DeviceID: d.ID, ControlID: c.ID}] = true
		}
	}

	// Release the rest outside the lock
	s.mu.Lock()
	var drop []*Binding
	for key, b := range s.bindings {
		if !keep[key] {
			drop = append(drop, b)
			delete(s.bindings, key)
		}
	}
	s.mu.Unlock()

	for _, b := range drop {
		b.close()
	}
	if len(drop) > 0 {
		s.logger.Debug("control bindings released", "count", len(drop))
	}
}

// Close tears down every binding.
func (s *Synchronizer) Close() {
	s.Sync("", nil)
}

func (s *Synchronizer) emit(u Update) {
	if s.history != nil {
		s.history.RecordControlValue(u.Instance, u.DeviceID, u.ControlID, u.State)
	}

	s.listenMu.RLock()
	fns := append([]func(Update){}, s.listeners...)
	s.listenMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("control listener panic recovered", "panic", p)
				}
			}()
			fn(u)
		}()
	}
}

// decodeResult extracts the state of a result reply. A result error is
// reported and returned. Replies of any other shape are logged and
// treated as carrying no state.
func (s *Synchronizer) decodeResult(key Key, raw json.RawMessage) (*protocol.State, error) {
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		s.logger.Warn("undecodable control reply", "instance", key.Instance, "device_id", key.DeviceID,
			"control_id", key.ControlID, "error", err)
		return nil, nil
	}
	if resp.Type != protocol.ResponseResult || resp.Result == nil {
		s.logger.Warn("unexpected control reply type", "instance", key.Instance, "device_id", key.DeviceID,
			"control_id", key.ControlID, "type", resp.Type)
		return nil, nil
	}
	if resErr := resp.Result.Error; resErr != nil {
		n := notify.Error(key.Instance, resErr.Message)
		n.DeviceID = key.DeviceID
		s.notifier.Notify(n)
		return resp.Result.State, fmt.Errorf("%w: %w", ErrRejected, resErr)
	}
	return resp.Result.State, nil
}
