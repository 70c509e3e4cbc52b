// Package notify carries transient operator notifications (toasts) from
// the console components to whatever surface displays them.
package notify

import (
	"sync"
	"time"
)

// Level classifies a notification.
type Level string

// Notification levels.
const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a short-lived message for the operator.
type Notification struct {
	Level    Level     `json:"level"`
	Message  string    `json:"message"`
	Instance string    `json:"instance,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(n Notification)

// Notify calls f.
func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Error builds an error-level notification stamped now.
func Error(instance, message string) Notification {
	return Notification{Level: LevelError, Message: message, Instance: instance, Time: time.Now()}
}

// Fanout delivers every notification to each registered notifier.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Notifier
}

// Add registers a sink.
func (f *Fanout) Add(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, n)
}

// Notify implements Notifier.
func (f *Fanout) Notify(n Notification) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(n)
	}
}

// Recorder keeps every notification. Used in tests.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.list...)
}
