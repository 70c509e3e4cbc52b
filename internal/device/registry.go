package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Liveness is the part of the liveness registry the device registry uses.
type Liveness interface {
	IsAlive(id string) bool
	SubscribeAlive(id string, fn func(alive bool)) (cancel func())
	RefreshInfo(ctx context.Context, id string) (*protocol.InstanceDetails, error)
}

// Options configures a Registry.
type Options struct {
	// Language resolves translated names for filtering and groups.
	Language string

	// Embedded skips the instanceInfo round trip before each load and
	// turns the group selector off; the embedder owns the surrounding UI.
	Embedded bool

	// FilterDebounce delays applying filter text. Zero applies at once.
	FilterDebounce time.Duration

	// ReloadTimeout bounds reloads the registry starts on its own.
	ReloadTimeout time.Duration
}

const defaultReloadTimeout = 30 * time.Second

// View is a snapshot of what the device list shows.
type View struct {
	Instance string            `json:"instance"`
	Loaded   bool              `json:"loaded"`
	Loading  bool              `json:"loading"`
	Error    string            `json:"error,omitempty"`
	Filter   string            `json:"filter"`
	Group    string            `json:"group"`
	Groups   []GroupEntry      `json:"groups,omitempty"`
	Devices  []protocol.Device `json:"devices"`
	Total    int               `json:"total"`
}

// Registry holds the device list of the selected instance.
//
// Selecting an instance subscribes to its alive flag: the list is cleared
// when the instance dies and reloaded when it comes back. At most one load
// per instance is in flight; further Load calls meanwhile are no-ops.
//
// All public methods are thread-safe.
type Registry struct {
	bus      bus.Transport
	live     Liveness
	opts     Options
	logger   Logger
	notifier notify.Notifier
	debounce *Debouncer

	mu          sync.RWMutex
	instance    string
	gen         uint64 // bumped on every selection change
	devices     []protocol.Device
	loaded      bool
	loading     bool
	loadingGen  uint64 // gen the in-flight load belongs to
	loadErr     string
	filterText  string
	group       string
	cancelAlive func()

	listenMu  sync.RWMutex
	onLoaded  []func(instance string, devices []protocol.Device)
	onChanged []func(View)
}

// NewRegistry creates a device registry.
func NewRegistry(t bus.Transport, live Liveness, opts Options) *Registry {
	if opts.Language == "" {
		opts.Language = protocol.DefaultLanguage
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = defaultReloadTimeout
	}
	return &Registry{
		bus:      t,
		live:     live,
		opts:     opts,
		logger:   noopLogger{},
		notifier: notify.Discard,
		debounce: NewDebouncer(opts.FilterDebounce),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets where load failures are reported.
func (r *Registry) SetNotifier(n notify.Notifier) {
	r.notifier = n
}

// OnLoaded registers fn for every replacement of the device list,
// including clears (devices is then nil).
func (r *Registry) OnLoaded(fn func(instance string, devices []protocol.Device)) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.onLoaded = append(r.onLoaded, fn)
}

// OnChanged registers fn for every change of the view.
func (r *Registry) OnChanged(fn func(View)) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.onChanged = append(r.onChanged, fn)
}

// Selected returns the selected instance id.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// Select makes instance the current one and loads its devices.
//
// Re-selecting the instance that is loaded or loading does nothing. Any
// other selection drops the current list, resets the group selector and
// follows the alive flag of the new instance. An empty id clears the
// selection.
//
// Parameters:
//   - ctx: Context bounding the device load
//   - instance: Instance identifier (e.g. "zigbee.0"), or "" to deselect
//
// Returns:
//   - error: nil in normal operation; load failures are reported through
//     the notifier and View().Error
func (r *Registry) Select(ctx context.Context, instance string) error {
	r.mu.Lock()
	if instance == r.instance && (r.loaded || r.loadingNow()) {
		r.mu.Unlock()
		return nil
	}

	// Forget everything belonging to the previous selection
	oldCancel := r.cancelAlive
	r.cancelAlive = nil
	r.instance = instance
	r.gen++
	r.devices = nil
	r.loaded = false
	r.loadErr = ""
	r.group = GroupAll
	r.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	r.logger.Info("instance selected", "instance", instance)

	if instance == "" {
		r.publishLoaded("", nil)
		return nil
	}

	// Follow the alive flag; another Select may have won the race meanwhile
	cancel := r.live.SubscribeAlive(instance, func(alive bool) {
		r.onAlive(instance, alive)
	})
	r.mu.Lock()
	if r.instance != instance {
		r.mu.Unlock()
		cancel()
		return nil
	}
	r.cancelAlive = cancel
	r.mu.Unlock()

	return r.Load(ctx)
}

func (r *Registry) onAlive(instance string, alive bool) {
	if r.Selected() != instance {
		return
	}
	if !alive {
		r.logger.Info("instance died, clearing devices", "instance", instance)
		r.clear(instance)
		return
	}

	r.logger.Info("instance alive, reloading devices", "instance", instance)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("device reload panic recovered", "instance", instance, "panic", p)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.ReloadTimeout)
		defer cancel()
		if err := r.TriggerReload(ctx); err != nil {
			r.logger.Warn("device reload failed", "instance", instance, "error", err)
		}
	}()
}

func (r *Registry) clear(instance string) {
	r.mu.Lock()
	if r.instance != instance {
		r.mu.Unlock()
		return
	}
	r.devices = nil
	r.loaded = false
	r.loadErr = ""
	r.mu.Unlock()
	r.publishLoaded(instance, nil)
}

// TriggerReload forgets the loaded list and loads it again.
func (r *Registry) TriggerReload(ctx context.Context) error {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
	return r.Load(ctx)
}

// ReloadDevices reloads the list if instance is the selected one.
func (r *Registry) ReloadDevices(ctx context.Context, instance string) error {
	if r.Selected() != instance {
		return nil
	}
	return r.TriggerReload(ctx)
}

// ReloadInstance refreshes the instance metadata.
func (r *Registry) ReloadInstance(ctx context.Context, instance string) error {
	_, err := r.live.RefreshInfo(ctx, instance)
	return err
}

// Load fetches the device list of the selected instance.
//
// A dead instance yields an empty list. A failed load is reported through
// the notifier and leaves an empty list with View().Error set; it is not
// returned. While a load for
// the current selection is in flight, further calls are no-ops.
//
// Parameters:
//   - ctx: Context bounding the instanceInfo and listDevices round trips
//
// Returns:
//   - error: ErrNoInstance when nothing is selected, otherwise nil
func (r *Registry) Load(ctx context.Context) error {
	// Claim the load for the current selection
	r.mu.Lock()
	instance := r.instance
	if instance == "" {
		r.mu.Unlock()
		return ErrNoInstance
	}
	if r.loadingNow() {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen
	r.loading = true
	r.loadingGen = gen
	r.mu.Unlock()
	r.publishChanged()

	// Fetch without holding the lock; selection may change meanwhile
	devices, err := r.fetch(ctx, instance)

	// Release the claim and store the result unless it went stale
	r.mu.Lock()
	if r.loading && r.loadingGen == gen {
		r.loading = false
	}
	stale := gen != r.gen
	if !stale {
		r.devices = devices
		r.loaded = err == nil
		r.loadErr = ""
		if err != nil {
			r.loadErr = err.Error()
		}
	}
	r.mu.Unlock()

	if stale {
		r.logger.Debug("discarding device list of deselected instance", "instance", instance)
		return nil
	}
	r.publishLoaded(instance, devices)
	return nil
}

// loadingNow reports whether a load for the current selection is in
// flight. Callers hold r.mu.
func (r *Registry) loadingNow() bool {
	return r.loading && r.loadingGen == r.gen
}

func (r *Registry) fetch(ctx context.Context, instance string) ([]protocol.Device, error) {
	// A dead instance has no devices to offer
	if !r.live.IsAlive(instance) {
		r.logger.Debug("instance not alive, device list empty", "instance", instance)
		return nil, nil
	}

	// Refresh instance metadata unless an embedder owns it
	if !r.opts.Embedded {
		if _, err := r.live.RefreshInfo(ctx, instance); err != nil {
			r.logger.Warn("instance info failed", "instance", instance, "error", err)
			r.notifier.Notify(notify.Error(instance, "Instance information unavailable: "+err.Error()))
			return nil, fmt.Errorf("loading devices of %s: %w", instance, err)
		}
	}

	// Ask for the list itself
	raw, err := r.bus.SendTo(ctx, instance, protocol.CmdListDevices, nil)
	if err != nil {
		r.logger.Error("listing devices failed", "instance", instance, "error", err)
		r.notifier.Notify(notify.Error(instance, "Loading devices failed: "+err.Error()))
		return nil, fmt.Errorf("loading devices of %s: %w", instance, err)
	}

	devices := r.decodeDevices(instance, raw)
	r.logger.Info("devices loaded", "instance", instance, "count", len(devices))
	return devices, nil
}

// decodeDevices tolerates a non-array reply and skips individual entries
// that cannot be decoded.
func (r *Registry) decodeDevices(instance string, raw json.RawMessage) []protocol.Device {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		r.logger.Warn("listDevices reply is not an array", "instance", instance, "reply", string(raw))
		return []protocol.Device{}
	}

	devices := make([]protocol.Device, 0, len(items))
	for _, item := range items {
		var d protocol.Device
		if err := json.Unmarshal(item, &d); err != nil || d.ID == "" {
			r.logger.Warn("skipping malformed device", "instance", instance, "error", err)
			continue
		}
		devices = append(devices, d)
	}
	return devices
}

// Devices returns the full loaded list.
func (r *Registry) Devices() []protocol.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.Device(nil), r.devices...)
}

// Device returns one loaded device.
func (r *Registry) Device(id string) (protocol.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.devices {
		if r.devices[i].ID == id {
			return r.devices[i], nil
		}
	}
	return protocol.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Details asks the selected instance for the details form of a device.
//
// Parameters:
//   - ctx: Bounds the dm:deviceDetails round trip
//   - deviceID: Device to describe
//
// Returns:
//   - *protocol.DeviceDetails: Form schema and data; ID defaults to deviceID
//   - error: ErrNoInstance, ErrNoDetails for an empty reply,
//     ErrMalformedResponse, or the wrapped transport error
func (r *Registry) Details(ctx context.Context, deviceID string) (*protocol.DeviceDetails, error) {
	instance := r.Selected()
	if instance == "" {
		return nil, ErrNoInstance
	}

	raw, err := r.bus.SendTo(ctx, instance, protocol.CmdDeviceDetails, deviceID)
	if err != nil {
		return nil, fmt.Errorf("requesting details of %s: %w", deviceID, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrNoDetails, deviceID)
	}

	// Decode the form
	var details protocol.DeviceDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrMalformedResponse, err)
	}
	if details.ID == "" {
		details.ID = deviceID
	}
	return &details, nil
}

// SetFilterText schedules the filter text to apply after the debounce
// delay. A newer call supersedes a pending one.
func (r *Registry) SetFilterText(text string) {
	r.debounce.Trigger(func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("filter apply panic recovered", "panic", p)
			}
		}()
		r.mu.Lock()
		changed := r.filterText != text
		r.filterText = text
		r.mu.Unlock()
		if changed {
			r.publishChanged()
		}
	})
}

// SetGroup restricts the view to one group key. GroupAll shows every
// group and GroupUnknown the ungrouped devices.
func (r *Registry) SetGroup(key string) {
	r.mu.Lock()
	changed := r.group != key
	r.group = key
	r.mu.Unlock()
	if changed {
		r.publishChanged()
	}
}

// View returns the filtered device list and selector state.
//
// The group selector is built from the name-filtered devices. In embedded
// mode there is no group selector and the group key is ignored.
func (r *Registry) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Name filter first; groups and counts follow what it leaves
	named := FilterByName(r.devices, r.filterText, r.opts.Language)
	devices := named
	var groups []GroupEntry
	if !r.opts.Embedded {
		groups = Groups(named, r.opts.Language)
		devices = RestrictGroup(named, r.group)
	}

	return View{
		Instance: r.instance,
		Loaded:   r.loaded,
		Loading:  r.loadingNow(),
		Error:    r.loadErr,
		Filter:   r.filterText,
		Group:    r.group,
		Groups:   groups,
		Devices:  append([]protocol.Device(nil), devices...),
		Total:    len(r.devices),
	}
}

// Close cancels the pending filter and the alive subscription.
func (r *Registry) Close() {
	r.debounce.Stop()
	r.mu.Lock()
	cancel := r.cancelAlive
	r.cancelAlive = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Registry) publishLoaded(instance string, devices []protocol.Device) {
	r.listenMu.RLock()
	loaded := append([]func(string, []protocol.Device){}, r.onLoaded...)
	r.listenMu.RUnlock()

	for _, fn := range loaded {
		r.safeCall(func() { fn(instance, devices) })
	}
	r.publishChanged()
}

func (r *Registry) publishChanged() {
	r.listenMu.RLock()
	changed := append([]func(View){}, r.onChanged...)
	r.listenMu.RUnlock()
	if len(changed) == 0 {
		return
	}

	view := r.View()
	for _, fn := range changed {
		r.safeCall(func() { fn(view) })
	}
}

func (r *Registry) safeCall(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("device listener panic recovered", "panic", p)
		}
	}()
	fn()
}
