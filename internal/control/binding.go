package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Binding tracks the displayed value of one control.
type Binding struct {
	s   *Synchronizer
	key Key

	mu         sync.Mutex
	control    protocol.Control
	state      protocol.State
	sub        bus.Subscription
	closed     bool
	refreshing bool
	dirty      bool // a push arrived during a read-back
}

// Key returns the identity of the binding.
func (b *Binding) Key() Key { return b.key }

// Control returns the current control definition.
func (b *Binding) Control() protocol.Control {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control
}

// State returns the displayed value and its timestamp.
func (b *Binding) State() protocol.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Write sends a new value to the backend. The state in the reply is
// applied if it is newer than the displayed one and is returned either way.
//
// Parameters:
//   - ctx: Bounds the dm:deviceControl round trip
//   - val: The value to send; its type must suit the control
//
// Returns:
//   - *protocol.State: The state the instance replied with, also on rejection
//   - error: ErrBindingClosed, ErrReadOnly for info controls, ErrRejected
//     when the instance refuses, or the wrapped transport error
//
// Example:
//
//	b, _ := controls.Binding("zigbee.0", "lamp", "on")
//	st, err := b.Write(ctx, true)
func (b *Binding) Write(ctx context.Context, val any) (*protocol.State, error) {
	// Check the binding can take writes
	b.mu.Lock()
	closed, c := b.closed, b.control
	b.mu.Unlock()
	if closed {
		return nil, ErrBindingClosed
	}
	if !c.Type.Writable() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, c.ID)
	}

	// Send the value
	raw, err := b.s.bus.SendTo(ctx, b.key.Instance, protocol.CmdDeviceControl, protocol.ControlRequest{
		DeviceID:  b.key.DeviceID,
		ControlID: b.key.ControlID,
		State:     val,
	})
	if err != nil {
		b.s.metrics.write("error")
		b.s.logger.Error("control write failed", "instance", b.key.Instance,
			"device_id", b.key.DeviceID, "control_id", b.key.ControlID, "error", err)
		n := notify.Error(b.key.Instance, "Control write failed: "+err.Error())
		n.DeviceID = b.key.DeviceID
		b.s.notifier.Notify(n)
		return nil, fmt.Errorf("writing control %s: %w", b.key.ControlID, err)
	}

	// The reply decides the displayed value, not the value we sent
	st, err := b.s.decodeResult(b.key, raw)
	if err != nil {
		b.s.metrics.write("rejected")
		return st, err
	}
	b.s.metrics.write("ok")
	b.apply(st, SourceWrite)
	return st, nil
}

// Refresh asks the backend for the current value and applies it under the
// timestamp rule.
//
// Returns:
//   - *protocol.State: The state read back, whether or not it was applied
//   - error: ErrRejected or the wrapped transport error
func (b *Binding) Refresh(ctx context.Context) (*protocol.State, error) {
	raw, err := b.s.bus.SendTo(ctx, b.key.Instance, protocol.CmdDeviceControlState, protocol.ControlStateRequest{
		DeviceID:  b.key.DeviceID,
		ControlID: b.key.ControlID,
	})
	if err != nil {
		return nil, fmt.Errorf("reading control %s: %w", b.key.ControlID, err)
	}
	st, err := b.s.decodeResult(b.key, raw)
	if err != nil {
		return st, err
	}
	b.apply(st, SourcePush)
	return st, nil
}

// apply stores st if it carries a timestamp and the binding has none or an
// older one. It reports whether the value was taken.
func (b *Binding) apply(st *protocol.State, src Source) bool {
	if st == nil {
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	// Only strictly newer timestamps replace the displayed value
	if !st.NewerThan(b.state.Ts) {
		current := b.state.Ts
		b.mu.Unlock()
		b.s.metrics.update(src, false)
		b.s.logger.Debug("discarding control value not newer than displayed",
			"control_id", b.key.ControlID, "ts", st.Ts, "current_ts", current, "source", src)
		return false
	}
	b.state = *st
	b.mu.Unlock()

	// Emit outside the lock
	b.s.metrics.update(src, true)
	b.s.emit(Update{Key: b.key, State: *st, Source: src})
	return true
}

func (b *Binding) subscribe() error {
	b.mu.Lock()
	c := b.control
	b.mu.Unlock()
	// Only controls with a state id follow pushes
	if c.StateID == "" || !c.Type.AcceptsPush() {
		return nil
	}

	stateID := c.StateID
	sub, err := b.s.bus.SubscribeState(stateID, func(id string, st *protocol.State) {
		b.onPush(id, st)
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", stateID, err)
	}

	// Closed while subscribing
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// redefine swaps the control definition and follows a changed state id.
func (b *Binding) redefine(c protocol.Control) error {
	b.mu.Lock()
	old := b.control
	b.control = c
	var sub bus.Subscription
	resubscribe := old.StateID != c.StateID || old.Type.AcceptsPush() != c.Type.AcceptsPush()
	if resubscribe {
		sub, b.sub = b.sub, nil
	}
	b.mu.Unlock()

	if !resubscribe {
		return nil
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	return b.subscribe()
}

// onPush runs on a transport goroutine, so the read-back is started on
// its own goroutine. Pushes arriving during a read-back collapse into one
// more read-back.
func (b *Binding) onPush(id string, st *protocol.State) {
	if st == nil {
		return
	}

	b.mu.Lock()
	if b.closed || id != b.control.StateID || !b.control.Type.AcceptsPush() {
		b.mu.Unlock()
		return
	}
	// Coalesce with the read-back already running
	if b.refreshing {
		b.dirty = true
		b.mu.Unlock()
		return
	}
	b.refreshing = true
	b.mu.Unlock()

	go b.readBackLoop()
}

func (b *Binding) readBackLoop() {
	defer func() {
		if p := recover(); p != nil {
			b.s.logger.Error("control read-back panic recovered", "control_id", b.key.ControlID, "panic", p)
			b.mu.Lock()
			b.refreshing = false
			b.mu.Unlock()
		}
	}()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), b.s.timeout)
		if _, err := b.Refresh(ctx); err != nil {
			b.s.logger.Warn("control read-back failed", "instance", b.key.Instance,
				"device_id", b.key.DeviceID, "control_id", b.key.ControlID, "error", err)
		}
		cancel()

		// Go again if pushes arrived meanwhile
		b.mu.Lock()
		if !b.dirty || b.closed {
			b.refreshing = false
			b.mu.Unlock()
			return
		}
		b.dirty = false
		b.mu.Unlock()
	}
}

func (b *Binding) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
