package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
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

// defaultRediscoverTimeout bounds re-enumeration triggered by object changes.
const defaultRediscoverTimeout = 10 * time.Second

// entry is the registry's private record of one instance.
type entry struct {
	inst   Instance
	sub    bus.Subscription
	pushes uint64 // alive pushes received; guards the initial read
	pinned bool   // tracked explicitly, survives rediscovery
}

// Registry tracks which device-managing instances exist and whether each
// one is alive.
//
// Instances are found by enumerating instance objects on the bus. Each
// instance's alive state is read once and then followed by subscription.
// Instances that disappear from the enumeration are dropped together with
// their subscriptions.
//
// All public methods are thread-safe. Watchers are called outside the
// registry lock and must not block.
type Registry struct {
	bus    bus.Transport
	logger Logger

	mu        sync.RWMutex
	instances map[string]*entry
	objSub    bus.Subscription
	closed    bool

	watchMu   sync.RWMutex
	watchers  map[int]func(Event)
	alive     map[string]map[int]func(bool)
	nextWatch int

	discoverMu sync.Mutex // serialises enumeration passes
}

// NewRegistry creates a registry over the given transport.
func NewRegistry(t bus.Transport) *Registry {
	return &Registry{
		bus:       t,
		logger:    noopLogger{},
		instances: make(map[string]*entry),
		watchers:  make(map[int]func(Event)),
		alive:     make(map[string]map[int]func(bool)),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Start runs the first enumeration and then watches instance objects so
// that added or removed instances trigger a new pass.
func (r *Registry) Start(ctx context.Context) error {
	// Initial enumeration
	if _, err := r.Discover(ctx); err != nil {
		return err
	}

	// Watch for instances being added or removed
	sub, err := r.bus.SubscribeObjects(bus.InstanceObjectPrefix+"*", r.onObjectChanged)
	if err != nil {
		return fmt.Errorf("subscribing instance objects: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	r.objSub = sub
	r.mu.Unlock()
	return nil
}

func (r *Registry) onObjectChanged(id string, _ *bus.InstanceObject) {
	if !isInstanceObjectID(id) {
		return
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRediscoverTimeout)
	defer cancel()
	if _, err := r.Discover(ctx); err != nil {
		r.logger.Error("instance rediscovery failed", "object", id, "error", err)
	}
}

// Discover enumerates instance objects, registers every instance that
// manages devices and drops the ones that are gone.
//
// Newly found instances are added in id order, each with its alive state
// read and subscribed. Pinned instances are never dropped. Concurrent
// calls are serialised.
//
// Parameters:
//   - ctx: Bounds the enumeration and the initial alive reads
//
// Returns:
//   - []Instance: All registered instances sorted by id
//   - error: Enumeration failure, or ErrClosed after Close
//
// Example:
//
//	instances, err := reg.Discover(ctx)
//	if err != nil {
//	    return fmt.Errorf("discovering instances: %w", err)
//	}
func (r *Registry) Discover(ctx context.Context) ([]Instance, error) {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	objs, err := r.bus.ListInstanceObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing instance objects: %w", err)
	}

	// Keep only instance objects that manage devices
	found := make(map[string]bus.InstanceObject)
	for i := range objs {
		if !objs[i].ManagesDevices() {
			continue
		}
		id := objs[i].InstanceID()
		if !isInstanceObjectID(objs[i].ID) {
			continue
		}
		found[id] = objs[i]
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	// Drop instances that are gone, unless tracked explicitly
	var removed []Instance
	var subs []bus.Subscription
	for id, e := range r.instances {
		if _, ok := found[id]; ok || e.pinned {
			continue
		}
		removed = append(removed, e.inst)
		if e.sub != nil {
			subs = append(subs, e.sub)
		}
		delete(r.instances, id)
	}
	// Refresh names of known instances and collect the new ones
	var added []string
	for id, obj := range found {
		if e, ok := r.instances[id]; ok {
			e.inst.Name = obj.Common.Name
			continue
		}
		added = append(added, id)
	}
	r.mu.Unlock()

	// Notify outside the lock
	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, inst := range removed {
		r.logger.Info("instance removed", "instance", inst.ID)
		r.emit(Event{Type: EventRemoved, Instance: inst})
	}

	sort.Strings(added)
	for _, id := range added {
		if err := r.add(ctx, id, found[id].Common.Name, false); err != nil {
			r.logger.Warn("registering instance failed", "instance", id, "error", err)
		}
	}

	return r.Instances(), nil
}

// Track registers an instance that is not necessarily enumerated, such as
// the fixed instance of an embedded console. A tracked instance survives
// rediscovery until Untrack.
func (r *Registry) Track(ctx context.Context, id string) error {
	r.mu.Lock()
	if e, ok := r.instances[id]; ok {
		e.pinned = true
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.add(ctx, id, "", true)
}

// Untrack releases a tracked instance. It stays registered if the
// enumeration still lists it.
func (r *Registry) Untrack(ctx context.Context, id string) error {
	r.mu.Lock()
	if e, ok := r.instances[id]; ok {
		e.pinned = false
	}
	r.mu.Unlock()
	_, err := r.Discover(ctx)
	return err
}

// add subscribes to the alive state before reading it so that no
// transition between the read and the subscription is lost. A push that
// arrives first wins over the read.
func (r *Registry) add(ctx context.Context, id, name string, pinned bool) error {
	adapter, number := ParseID(id)
	e := &entry{
		inst:   Instance{ID: id, Adapter: adapter, Number: number, Name: name},
		pinned: pinned,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.instances[id]; ok {
		r.mu.Unlock()
		return nil
	}
	r.instances[id] = e
	r.mu.Unlock()

	// Subscribe first, then read
	stateID := bus.AliveStateID(id)
	sub, err := r.bus.SubscribeState(stateID, func(_ string, st *protocol.State) {
		r.onAlive(id, st)
	})
	if err != nil {
		r.logger.Warn("subscribing alive state failed", "instance", id, "error", err)
	}

	// A failed read counts as dead until a push says otherwise
	alive := false
	st, readErr := r.bus.GetState(ctx, stateID)
	if readErr != nil {
		r.logger.Warn("reading alive state failed, assuming dead", "instance", id, "error", readErr)
	} else {
		alive = st.Truthy()
	}

	// The instance may have been removed while we were reading
	r.mu.Lock()
	current, ok := r.instances[id]
	if !ok || current != e {
		r.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil
	}
	e.sub = sub
	// Pushes received meanwhile are newer than the read
	if e.pushes == 0 {
		e.inst.Alive = alive
	}
	snapshot := e.inst
	r.mu.Unlock()

	r.logger.Info("instance added", "instance", id, "alive", snapshot.Alive)
	r.emit(Event{Type: EventAdded, Instance: snapshot})
	if snapshot.Alive {
		r.emitAlive(id, true)
	}
	return err
}

func (r *Registry) onAlive(id string, st *protocol.State) {
	alive := st.Truthy()

	r.mu.Lock()
	e, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Repeated values are not transitions
	e.pushes++
	if e.inst.Alive == alive {
		r.mu.Unlock()
		return
	}
	e.inst.Alive = alive
	if !alive {
		// A restarted instance may come back with other actions or version
		e.inst.Info = nil
	}
	snapshot := e.inst
	r.mu.Unlock()

	r.logger.Info("instance liveness changed", "instance", id, "alive", alive)
	r.emit(Event{Type: EventAliveChanged, Instance: snapshot})
	r.emitAlive(id, alive)
}

// RefreshInfo asks the instance for its metadata and caches it. Instances
// that do not report API version v1 yield ErrNotDeviceManager.
//
// The cached copy is dropped again when the instance stops being alive.
//
// Parameters:
//   - ctx: Bounds the dm:instanceInfo round trip
//   - id: Instance identifier (e.g., "zigbee.0")
//
// Returns:
//   - *protocol.InstanceDetails: Version, instance actions and optional
//     communication state id
//   - error: ErrNotDeviceManager, ErrMalformedResponse, or the wrapped
//     transport error
//
// Example:
//
//	info, err := reg.RefreshInfo(ctx, "zigbee.0")
//	if errors.Is(err, liveness.ErrNotDeviceManager) {
//	    // hide the instance from the selector
//	}
func (r *Registry) RefreshInfo(ctx context.Context, id string) (*protocol.InstanceDetails, error) {
	raw, err := r.bus.SendTo(ctx, id, protocol.CmdInstanceInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting instance info of %s: %w", id, err)
	}

	// Empty or null replies come from instances without device management
	var info protocol.InstanceDetails
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s sent no instance info", ErrNotDeviceManager, id)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrMalformedResponse, err)
	}
	if info.APIVersion != protocol.APIVersion {
		return nil, fmt.Errorf("%w: %s reports %q", ErrNotDeviceManager, id, info.APIVersion)
	}

	// Cache a copy if the instance is still registered
	r.mu.Lock()
	e, ok := r.instances[id]
	if ok {
		cp := info
		e.inst.Info = &cp
	}
	var snapshot Instance
	if ok {
		snapshot = e.inst
	}
	r.mu.Unlock()

	if ok {
		r.emit(Event{Type: EventInfoChanged, Instance: snapshot})
	}
	return &info, nil
}

// Instances returns every registered instance sorted by id.
func (r *Registry) Instances() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Instance, 0, len(r.instances))
	for _, e := range r.instances {
		list = append(list, e.inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Instance returns one instance by id.
func (r *Registry) Instance(id string) (Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return e.inst, nil
}

// IsAlive reports whether the instance is registered and alive.
func (r *Registry) IsAlive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.instances[id]
	return ok && e.inst.Alive
}

// Watch registers fn for every registry event. The returned function
// removes it.
func (r *Registry) Watch(fn func(Event)) (cancel func()) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	r.nextWatch++
	n := r.nextWatch
	r.watchers[n] = fn
	return func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		delete(r.watchers, n)
	}
}

// SubscribeAlive registers fn for every alive transition of one instance.
// The returned function removes it.
func (r *Registry) SubscribeAlive(id string, fn func(alive bool)) (cancel func()) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	r.nextWatch++
	n := r.nextWatch
	if r.alive[id] == nil {
		r.alive[id] = make(map[int]func(bool))
	}
	r.alive[id][n] = fn
	return func() {
		r.watchMu.Lock()
		defer r.watchMu.Unlock()
		delete(r.alive[id], n)
		if len(r.alive[id]) == 0 {
			delete(r.alive, id)
		}
	}
}

func (r *Registry) emit(ev Event) {
	r.watchMu.RLock()
	fns := make([]func(Event), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.watchMu.RUnlock()

	for _, fn := range fns {
		r.call(func() { fn(ev) })
	}
}

func (r *Registry) emitAlive(id string, alive bool) {
	r.watchMu.RLock()
	fns := make([]func(bool), 0, len(r.alive[id]))
	for _, fn := range r.alive[id] {
		fns = append(fns, fn)
	}
	r.watchMu.RUnlock()

	for _, fn := range fns {
		r.call(func() { fn(alive) })
	}
}

// call runs a watcher and recovers from its panics.
func (r *Registry) call(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("liveness watcher panic recovered", "panic", p)
		}
	}()
	fn()
}

// Close releases every subscription. The registry cannot be reused.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]bus.Subscription, 0, len(r.instances)+1)
	if r.objSub != nil {
		subs = append(subs, r.objSub)
		r.objSub = nil
	}
	for _, e := range r.instances {
		if e.sub != nil {
			subs = append(subs, e.sub)
		}
	}
	r.instances = make(map[string]*entry)
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
