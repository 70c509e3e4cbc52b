package device

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_Supersedes(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var last atomic.Int32
	var runs atomic.Int32

	for i := int32(1); i <= 5; i++ {
		d.Trigger(func() {
			last.Store(i)
			runs.Add(1)
		})
	}
	if !d.Pending() {
		t.Error("Pending() = false after Trigger")
	}

	waitFor(t, "debounced run", func() bool { return runs.Load() == 1 })
	time.Sleep(40 * time.Millisecond)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if last.Load() != 5 {
		t.Errorf("last = %d, want 5", last.Load())
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var runs atomic.Int32

	d.Trigger(func() { runs.Add(1) })
	d.Stop()
	time.Sleep(30 * time.Millisecond)

	if runs.Load() != 0 {
		t.Errorf("runs = %d after Stop, want 0", runs.Load())
	}
	if d.Pending() {
		t.Error("Pending() = true after Stop")
	}
}

func TestDebouncer_ZeroDelayRunsNow(t *testing.T) {
	d := NewDebouncer(0)
	ran := false
	d.Trigger(func() { ran = true })
	if !ran {
		t.Error("Trigger() with zero delay should run synchronously")
	}
}
