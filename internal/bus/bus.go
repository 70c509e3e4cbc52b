// Package bus defines the message transport the console talks through.
//
// A Transport delivers commands to backend instances and returns their
// replies, reads and watches state values, and enumerates and watches the
// instance objects that describe which backends exist. Implementations
// live in the mqttbus and natsbus packages; bustest provides an in-memory
// double for tests.
package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// InstanceObjectPrefix is the identifier prefix of instance objects.
const InstanceObjectPrefix = "system.adapter."

// Transport is the console's view of the message bus.
//
// Subscription handlers run on transport goroutines and must not block.
type Transport interface {
	// SendTo delivers command with payload to one instance and returns the
	// raw reply. The context bounds the wait.
	SendTo(ctx context.Context, instance, command string, payload any) (json.RawMessage, error)

	// GetState reads the current value of a state. A state that does not
	// exist yields (nil, nil).
	GetState(ctx context.Context, id string) (*protocol.State, error)

	// SubscribeState invokes handler for every change of the state.
	SubscribeState(id string, handler StateHandler) (Subscription, error)

	// ListInstanceObjects returns every instance object currently defined.
	ListInstanceObjects(ctx context.Context) ([]InstanceObject, error)

	// SubscribeObjects invokes handler for every object whose id matches
	// pattern. A trailing "*" matches any suffix. A nil object means deleted.
	SubscribeObjects(pattern string, handler ObjectHandler) (Subscription, error)
}

// StateHandler receives state changes. A nil state means deleted.
type StateHandler func(id string, state *protocol.State)

// ObjectHandler receives object changes. A nil object means deleted.
type ObjectHandler func(id string, obj *InstanceObject)

// Subscription is a handle returned by the Subscribe methods.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

// InstanceObject describes a running backend instance.
type InstanceObject struct {
	ID     string       `json:"_id"`
	Common ObjectCommon `json:"common"`
}

// ObjectCommon holds the capability flags of an instance object.
type ObjectCommon struct {
	Name              string            `json:"name,omitempty"`
	Messagebox        bool              `json:"messagebox,omitempty"`
	SupportedMessages SupportedMessages `json:"supportedMessages,omitempty"`
}

// SupportedMessages lists optional message families an instance handles.
type SupportedMessages struct {
	DeviceManager bool `json:"deviceManager,omitempty"`
}

// ManagesDevices reports whether the instance speaks the device management
// protocol: it must accept messages and announce device manager support.
func (o *InstanceObject) ManagesDevices() bool {
	return o != nil && o.Common.Messagebox && o.Common.SupportedMessages.DeviceManager
}

// InstanceID strips the object prefix: "system.adapter.zigbee.0" → "zigbee.0".
func (o *InstanceObject) InstanceID() string {
	return strings.TrimPrefix(o.ID, InstanceObjectPrefix)
}

// AliveStateID returns the state that tracks whether an instance runs.
func AliveStateID(instance string) string {
	return InstanceObjectPrefix + instance + ".alive"
}

// MatchPattern reports whether id matches a subscription pattern. Only a
// trailing "*" is special.
func MatchPattern(pattern, id string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(id, prefix)
	}
	return pattern == id
}
