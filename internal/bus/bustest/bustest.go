// Package bustest provides an in-memory bus.Transport for tests.
//
// Commands are answered by registered handlers or by scripted reply
// queues; states and instance objects are held in maps and changes are
// delivered to subscribers synchronously on the caller's goroutine.
package bustest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Handler answers one command. The returned value is marshalled to JSON
// unless it is a json.RawMessage, []byte or string, which are taken as
// raw JSON.
type Handler func(payload json.RawMessage) (any, error)

// Call records one SendTo invocation.
type Call struct {
	Instance string
	Command  string
	Payload  json.RawMessage
}

// Decode unmarshals the recorded payload into v.
func (c Call) Decode(v any) error {
	return json.Unmarshal(c.Payload, v)
}

// Bus is an in-memory Transport. The zero value is not usable; call New.
type Bus struct {
	mu       sync.Mutex
	handlers map[string]Handler
	scripts  map[string][]any
	calls    []Call

	states    map[string]*protocol.State
	stateErrs map[string]error
	stateSubs map[string]map[int]bus.StateHandler

	objects map[string]bus.InstanceObject
	objSubs map[int]objectSub
	listErr error

	nextSub int
}

type objectSub struct {
	pattern string
	handler bus.ObjectHandler
}

var _ bus.Transport = (*Bus)(nil)

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		handlers:  make(map[string]Handler),
		scripts:   make(map[string][]any),
		states:    make(map[string]*protocol.State),
		stateErrs: make(map[string]error),
		stateSubs: make(map[string]map[int]bus.StateHandler),
		objects:   make(map[string]bus.InstanceObject),
		objSubs:   make(map[int]objectSub),
	}
}

func key(instance, command string) string {
	return instance + "\x00" + command
}

// Handle registers h for command on instance. It takes precedence over
// scripted replies.
func (b *Bus) Handle(instance, command string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key(instance, command)] = h
}

// Script queues replies for command on instance. Each SendTo consumes
// one. An error value in the queue is returned as the SendTo error.
func (b *Bus) Script(instance, command string, replies ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(instance, command)
	b.scripts[k] = append(b.scripts[k], replies...)
}

// SendTo implements bus.Transport.
func (b *Bus) SendTo(ctx context.Context, instance, command string, payload any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bustest: marshal payload: %w", err)
	}

	b.mu.Lock()
	b.calls = append(b.calls, Call{Instance: instance, Command: command, Payload: raw})
	k := key(instance, command)
	h := b.handlers[k]
	var reply any
	scripted := false
	if h == nil {
		if queue := b.scripts[k]; len(queue) > 0 {
			reply, b.scripts[k] = queue[0], queue[1:]
			scripted = true
		}
	}
	b.mu.Unlock()

	switch {
	case h != nil:
		reply, err = h(raw)
		if err != nil {
			return nil, err
		}
	case scripted:
		if err, ok := reply.(error); ok {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s %s", bus.ErrNoResponder, instance, command)
	}

	return encode(reply)
}

func encode(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case json.RawMessage:
		return x, nil
	case []byte:
		return json.RawMessage(x), nil
	case string:
		return json.RawMessage(x), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bustest: marshal reply: %w", err)
	}
	return raw, nil
}

// Calls returns every recorded SendTo in order.
func (b *Bus) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsFor returns the recorded calls of one command.
func (b *Bus) CallsFor(command string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns how many scripted replies are still queued for command.
func (b *Bus) Pending(instance, command string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scripts[key(instance, command)])
}

// SetState stores a state and notifies its subscribers.
func (b *Bus) SetState(id string, state *protocol.State) {
	b.mu.Lock()
	if state == nil {
		delete(b.states, id)
	} else {
		cp := *state
		b.states[id] = &cp
	}
	handlers := make([]bus.StateHandler, 0, len(b.stateSubs[id]))
	for _, h := range b.stateSubs[id] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(id, state)
	}
}

// FailState makes GetState of id return err. A nil err clears it.
func (b *Bus) FailState(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.stateErrs, id)
		return
	}
	b.stateErrs[id] = err
}

// GetState implements bus.Transport.
func (b *Bus) GetState(ctx context.Context, id string) (*protocol.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.stateErrs[id]; err != nil {
		return nil, err
	}
	st, ok := b.states[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// SubscribeState implements bus.Transport.
func (b *Bus) SubscribeState(id string, handler bus.StateHandler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	n := b.nextSub
	if b.stateSubs[id] == nil {
		b.stateSubs[id] = make(map[int]bus.StateHandler)
	}
	b.stateSubs[id][n] = handler
	return bus.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.stateSubs[id], n)
		if len(b.stateSubs[id]) == 0 {
			delete(b.stateSubs, id)
		}
	}), nil
}

// StateSubscribers returns the number of live subscriptions on id.
func (b *Bus) StateSubscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stateSubs[id])
}

// SubscribedStates returns the ids with at least one live subscription.
func (b *Bus) SubscribedStates() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.stateSubs))
	for id := range b.stateSubs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PutObject stores an instance object and notifies matching subscribers.
func (b *Bus) PutObject(obj bus.InstanceObject) {
	b.mu.Lock()
	b.objects[obj.ID] = obj
	handlers := b.objectHandlers(obj.ID)
	b.mu.Unlock()

	for _, h := range handlers {
		cp := obj
		h(obj.ID, &cp)
	}
}

// DeleteObject removes an object and notifies matching subscribers.
func (b *Bus) DeleteObject(id string) {
	b.mu.Lock()
	delete(b.objects, id)
	handlers := b.objectHandlers(id)
	b.mu.Unlock()

	for _, h := range handlers {
		h(id, nil)
	}
}

// FailList makes ListInstanceObjects return err. A nil err clears it.
func (b *Bus) FailList(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

func (b *Bus) objectHandlers(id string) []bus.ObjectHandler {
	var out []bus.ObjectHandler
	for _, s := range b.objSubs {
		if bus.MatchPattern(s.pattern, id) {
			out = append(out, s.handler)
		}
	}
	return out
}

// ListInstanceObjects implements bus.Transport.
func (b *Bus) ListInstanceObjects(ctx context.Context) ([]bus.InstanceObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
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
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	n := b.nextSub
	b.objSubs[n] = objectSub{pattern: pattern, handler: handler}
	return bus.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.objSubs, n)
	}), nil
}

// ObjectSubscribers returns the number of live object subscriptions.
func (b *Bus) ObjectSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objSubs)
}

// DeviceManagerObject builds an instance object that advertises device
// management support.
func DeviceManagerObject(instance string) bus.InstanceObject {
	return bus.InstanceObject{
		ID: bus.InstanceObjectPrefix + instance,
		Common: bus.ObjectCommon{
			Messagebox:        true,
			SupportedMessages: bus.SupportedMessages{DeviceManager: true},
		},
	}
}
