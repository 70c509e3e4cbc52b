// Package mqttbus implements bus.Transport over MQTT.
//
// Requests are published to graylogic/console/request/<instance> carrying a
// request id and the reply topic; the instance answers on
// graylogic/console/response/<clientID>/<requestID>. State values and
// instance objects are retained messages, so the bus keeps a cache fed by
// wildcard subscriptions and serves reads from it.
package mqttbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Client is the subset of *mqtt.Client the bus needs.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	ClientID() string
	QoS() byte
}

// Logger is the logging interface used by the bus.
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

// Request is the message published on a request topic.
type Request struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Message any    `json:"message,omitempty"`
	ReplyTo string `json:"reply_to"`
}

// Response is the message an instance publishes on the reply topic.
type Response struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Bus is an MQTT-backed bus.Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Bus struct {
	client Client
	topics mqtt.Topics
	logger Logger

	pendingMu sync.Mutex
	pending   map[string]chan Response
	closed    bool

	cacheMu   sync.RWMutex
	states    map[string]*protocol.State
	objects   map[string]bus.InstanceObject
	stateSubs map[string]map[int]bus.StateHandler
	objSubs   map[int]objectSub
	nextSub   int
}

type objectSub struct {
	pattern string
	handler bus.ObjectHandler
}

var _ bus.Transport = (*Bus)(nil)

// New creates a Bus on an already connected client and subscribes to the
// reply, state and object topics.
//
// Parameters:
//   - client: A connected MQTT client; reply topics are scoped by its client ID
//
// Returns:
//   - *Bus: Transport ready for the registries and the orchestrator
//   - error: If any of the three subscriptions fails (the others are undone)
//
// Example:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	transport, err := mqttbus.New(client)
func New(client Client) (*Bus, error) {
	b := &Bus{
		client:    client,
		logger:    noopLogger{},
		pending:   make(map[string]chan Response),
		states:    make(map[string]*protocol.State),
		objects:   make(map[string]bus.InstanceObject),
		stateSubs: make(map[string]map[int]bus.StateHandler),
		objSubs:   make(map[int]objectSub),
	}

	// Replies to this console, retained states and retained objects
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllResponses(client.ClientID()), b.handleResponse},
		{b.topics.AllStates(), b.handleState},
		{b.topics.AllObjects(), b.handleObject},
	}
	for i, s := range subs {
		if err := client.Subscribe(s.topic, client.QoS(), s.handler); err != nil {
			for _, done := range subs[:i] {
				_ = client.Unsubscribe(done.topic)
			}
			return nil, fmt.Errorf("subscribing %s: %w", s.topic, err)
		}
	}

	return b, nil
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// SendTo implements bus.Transport.
//
// The request is published on the instance's request topic with a fresh
// correlation id; the reply arrives on this console's response topic.
//
// Parameters:
//   - ctx: Bounds the wait for the reply; a deadline maps to bus.ErrTimeout
//   - instance: Target instance (e.g., "zigbee.0")
//   - command: Command name (e.g., "dm:listDevices")
//   - payload: JSON-encodable message, may be nil
//
// Returns:
//   - json.RawMessage: The reply payload
//   - error: bus.ErrRemote, bus.ErrTimeout, bus.ErrClosed, or a publish error
func (b *Bus) SendTo(ctx context.Context, instance, command string, payload any) (json.RawMessage, error) {
	// Build the envelope
	id := uuid.NewString()
	req := Request{
		ID:      id,
		Command: command,
		Message: payload,
		ReplyTo: b.topics.Response(b.client.ClientID(), id),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", command, err)
	}

	// Register for the reply before publishing so it cannot be missed
	ch := make(chan Response, 1)
	b.pendingMu.Lock()
	if b.closed {
		b.pendingMu.Unlock()
		return nil, bus.ErrClosed
	}
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer b.forget(id)

	if err := b.client.Publish(b.topics.Request(instance), data, b.client.QoS(), false); err != nil {
		return nil, fmt.Errorf("sending %s to %s: %w", command, instance, err)
	}

	// Wait for the reply or the deadline
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, bus.ErrClosed
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", bus.ErrRemote, resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s to %s", bus.ErrTimeout, command, instance)
		}
		return nil, ctx.Err()
	}
}

func (b *Bus) forget(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

func (b *Bus) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding response on %s: %w", topic, err)
	}
	if resp.ID == "" {
		resp.ID, _ = b.topics.RequestID(topic)
	}

	// Deliver under the lock so Close cannot close ch mid-send.
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	ch, ok := b.pending[resp.ID]
	if !ok {
		b.logger.Debug("discarding late response", "request_id", resp.ID)
		return nil
	}

	select {
	case ch <- resp:
	default:
		// Duplicate delivery at QoS 1.
	}
	return nil
}

func (b *Bus) handleState(topic string, payload []byte) error {
	id, ok := b.topics.StateID(topic)
	if !ok {
		return fmt.Errorf("unexpected state topic %q", topic)
	}

	var state *protocol.State
	if len(bytes.TrimSpace(payload)) > 0 {
		state = &protocol.State{}
		if err := json.Unmarshal(payload, state); err != nil {
			return fmt.Errorf("decoding state %s: %w", id, err)
		}
	}

	b.cacheMu.Lock()
	if state == nil {
		delete(b.states, id)
	} else {
		b.states[id] = state
	}
	handlers := make([]bus.StateHandler, 0, len(b.stateSubs[id]))
	for _, h := range b.stateSubs[id] {
		handlers = append(handlers, h)
	}
	b.cacheMu.Unlock()

	for _, h := range handlers {
		if state == nil {
			h(id, nil)
			continue
		}
		cp := *state
		h(id, &cp)
	}
	return nil
}

func (b *Bus) handleObject(topic string, payload []byte) error {
	id, ok := b.topics.ObjectID(topic)
	if !ok {
		return fmt.Errorf("unexpected object topic %q", topic)
	}

	var obj *bus.InstanceObject
	if len(bytes.TrimSpace(payload)) > 0 {
		obj = &bus.InstanceObject{}
		if err := json.Unmarshal(payload, obj); err != nil {
			return fmt.Errorf("decoding object %s: %w", id, err)
		}
		obj.ID = id
	}

	b.cacheMu.Lock()
	if obj == nil {
		delete(b.objects, id)
	} else {
		b.objects[id] = *obj
	}
	var handlers []bus.ObjectHandler
	for _, s := range b.objSubs {
		if bus.MatchPattern(s.pattern, id) {
			handlers = append(handlers, s.handler)
		}
	}
	b.cacheMu.Unlock()

	for _, h := range handlers {
		if obj == nil {
			h(id, nil)
			continue
		}
		cp := *obj
		h(id, &cp)
	}
	return nil
}

// GetState implements bus.Transport from the retained-message cache.
//
// Returns:
//   - *protocol.State: A copy of the cached state, or nil if none was retained
//   - error: Only the context error
func (b *Bus) GetState(ctx context.Context, id string) (*protocol.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	st, ok := b.states[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// SubscribeState implements bus.Transport.
func (b *Bus) SubscribeState(id string, handler bus.StateHandler) (bus.Subscription, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.nextSub++
	n := b.nextSub
	if b.stateSubs[id] == nil {
		b.stateSubs[id] = make(map[int]bus.StateHandler)
	}
	b.stateSubs[id][n] = handler
	return bus.SubscriptionFunc(func() {
		b.cacheMu.Lock()
		defer b.cacheMu.Unlock()
		delete(b.stateSubs[id], n)
		if len(b.stateSubs[id]) == 0 {
			delete(b.stateSubs, id)
		}
	}), nil
}

// ListInstanceObjects implements bus.Transport from the retained-message cache.
func (b *Bus) ListInstanceObjects(ctx context.Context) ([]bus.InstanceObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()
	out := make([]bus.InstanceObject, 0, len(b.objects))
	for id, obj := range b.objects {
		if strings.HasPrefix(id, bus.InstanceObjectPrefix) {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SubscribeObjects implements bus.Transport.
func (b *Bus) SubscribeObjects(pattern string, handler bus.ObjectHandler) (bus.Subscription, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.nextSub++
	n := b.nextSub
	b.objSubs[n] = objectSub{pattern: pattern, handler: handler}
	return bus.SubscriptionFunc(func() {
		b.cacheMu.Lock()
		defer b.cacheMu.Unlock()
		delete(b.objSubs, n)
	}), nil
}

// Close fails every waiting request and drops the wildcard subscriptions.
// The underlying client stays connected.
func (b *Bus) Close() error {
	b.pendingMu.Lock()
	if b.closed {
		b.pendingMu.Unlock()
		return nil
	}
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()

	var errs []error
	for _, topic := range []string{
		b.topics.AllResponses(b.client.ClientID()),
		b.topics.AllStates(),
		b.topics.AllObjects(),
	} {
		if err := b.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
