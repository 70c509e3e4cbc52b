package action

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Logger defines the logging interface used by the Orchestrator.
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

// Refresher reloads views a finished action asks for.
type Refresher interface {
	ReloadDevices(ctx context.Context, instance string) error
	ReloadInstance(ctx context.Context, instance string) error
}

// Presenter receives a snapshot after every session change.
// Implementations must not block.
type Presenter interface {
	Present(Snapshot)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Snapshot)

// Present calls f.
func (f PresenterFunc) Present(s Snapshot) { f(s) }

// Record summarises a finished session for the audit trail.
type Record struct {
	SessionID  string
	Target     Target
	ActionID   string
	Command    string
	Outcome    Outcome
	RoundTrips int
	Error      string
	Started    time.Time
	Finished   time.Time
}

// Recorder persists finished sessions.
type Recorder interface {
	RecordSession(ctx context.Context, rec Record) error
}

// Options configures an Orchestrator.
type Options struct {
	// RequestTimeout bounds each round trip.
	RequestTimeout time.Duration

	// PromptTimeout abandons prompts left unanswered this long. Zero
	// disables it.
	PromptTimeout time.Duration
}

const (
	defaultRequestTimeout = 30 * time.Second
	recordTimeout         = 5 * time.Second
)

// Orchestrator runs action sessions.
//
// Sessions are indexed by target, which enforces one open session per
// target, and by the latest origin token once the instance handed one
// out. Invoke and Reply drive a session synchronously until it either
// parks on a prompt or ends, then return its snapshot.
//
// All public methods are thread-safe.
type Orchestrator struct {
	bus       bus.Transport
	refresher Refresher
	opts      Options
	logger    Logger
	notifier  notify.Notifier
	presenter Presenter
	recorder  Recorder
	metrics   *Metrics
	now       func() time.Time

	mu       sync.Mutex
	byTarget map[Target]*session
	byOrigin map[string]*session
}

// NewOrchestrator creates an orchestrator. The refresher may be nil.
func NewOrchestrator(t bus.Transport, refresher Refresher, opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Orchestrator{
		bus:       t,
		refresher: refresher,
		opts:      opts,
		logger:    noopLogger{},
		notifier:  notify.Discard,
		presenter: PresenterFunc(func(Snapshot) {}),
		now:       time.Now,
		byTarget:  make(map[Target]*session),
		byOrigin:  make(map[string]*session),
	}
}

// SetLogger sets the logger.
func (o *Orchestrator) SetLogger(logger Logger) { o.logger = logger }

// SetNotifier sets where failures are reported.
func (o *Orchestrator) SetNotifier(n notify.Notifier) { o.notifier = n }

// SetPresenter sets the receiver of session snapshots.
func (o *Orchestrator) SetPresenter(p Presenter) { o.presenter = p }

// SetRecorder sets the audit sink for finished sessions.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// SetMetrics sets the collectors to update.
func (o *Orchestrator) SetMetrics(m *Metrics) { o.metrics = m }

// InvokeInstanceAction starts an instance-level action.
//
// The call returns once the session is parked on a prompt or has ended;
// progress replies are followed up automatically in between.
//
// Parameters:
//   - ctx: Request context; round trips outlive its cancellation
//   - instance: Instance to send dm:instanceAction to
//   - actionID: One of the actions listed in the instance info
//
// Returns:
//   - Snapshot: The session after its last reply
//   - error: ErrSessionBusy if the instance already has an open session,
//     or the wrapped transport error of a failed round trip
//
// Example:
//
//	snap, err := orch.InvokeInstanceAction(ctx, "zigbee.0", "pair")
//	if err == nil && snap.Phase == action.PhaseForm {
//	    // present snap.Prompt.Form to the operator
//	}
func (o *Orchestrator) InvokeInstanceAction(ctx context.Context, instance, actionID string) (Snapshot, error) {
	return o.invoke(ctx, Target{Instance: instance}, actionID, protocol.CmdInstanceAction,
		protocol.InstanceActionRequest{ActionID: actionID}, nil)
}

// InvokeDeviceAction starts a device action. refresh, if not nil, runs
// when the result asks for the device to be refreshed.
//
// Parameters:
//   - ctx: Request context; round trips outlive its cancellation
//   - instance: Instance owning the device
//   - deviceID: Device the action belongs to
//   - actionID: One of the device's actions
//   - refresh: Re-reads the device's controls, may be nil
//
// Returns:
//   - Snapshot: The session after its last reply
//   - error: ErrSessionBusy if the device already has an open session,
//     or the wrapped transport error of a failed round trip
func (o *Orchestrator) InvokeDeviceAction(ctx context.Context, instance, deviceID, actionID string, refresh func()) (Snapshot, error) {
	return o.invoke(ctx, Target{Instance: instance, DeviceID: deviceID}, actionID, protocol.CmdDeviceAction,
		protocol.DeviceActionRequest{ActionID: actionID, DeviceID: deviceID}, refresh)
}

func (o *Orchestrator) invoke(ctx context.Context, target Target, actionID, command string, payload any, refresh func()) (Snapshot, error) {
	// One session per target; check before anything is sent
	now := o.now()
	s := &session{
		id:            uuid.NewString(),
		target:        target,
		actionID:      actionID,
		command:       command,
		phase:         PhaseSent,
		busy:          true,
		started:       now,
		updated:       now,
		deviceRefresh: refresh,
	}

	o.mu.Lock()
	if _, ok := o.byTarget[target]; ok {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s %s", ErrSessionBusy, target.Instance, target.DeviceID)
	}
	o.byTarget[target] = s
	snap := s.snapshot()
	o.mu.Unlock()

	o.metrics.started()
	o.logger.Info("action invoked", "session_id", s.id, "instance", target.Instance,
		"device_id", target.DeviceID, "action_id", actionID)
	o.presenter.Present(snap)

	return o.drive(ctx, s, command, payload)
}

// Reply answers the prompt of the session identified by origin and drives
// the session on.
//
// Parameters:
//   - ctx: Request context; round trips outlive its cancellation
//   - origin: Origin token of the session, as sent by the instance
//   - r: The operator's answer; its kind must fit the pending prompt
//
// Returns:
//   - Snapshot: The session after the next reply
//   - error: ErrUnknownOrigin, ErrNotWaiting while a round trip is in
//     flight, ErrInvalidReply for a mismatched answer, or a transport error
//
// Example:
//
//	snap, err := orch.Reply(ctx, snap.Origin, action.Submit(map[string]any{"code": "1234"}))
func (o *Orchestrator) Reply(ctx context.Context, origin string, r Reply) (Snapshot, error) {
	o.mu.Lock()
	s, ok := o.byOrigin[origin]
	if !ok {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownOrigin, origin)
	}
	if s.busy || s.prompt == nil {
		o.mu.Unlock()
		return Snapshot{}, ErrNotWaiting
	}

	// Build the continuation before touching the session
	req, err := r.continuation(s.origin, s.prompt)
	if err != nil {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s to %s", err, r.Kind, s.prompt.Type)
	}
	// Hand the session back to the instance
	s.prompt = nil
	s.promptSince = time.Time{}
	s.phase = PhaseSent
	s.busy = true
	s.updated = o.now()
	snap := s.snapshot()
	o.mu.Unlock()

	o.presenter.Present(snap)
	return o.drive(ctx, s, protocol.CmdActionProgress, req)
}

// UpdateForm merges data into the pending form without any bus traffic.
func (o *Orchestrator) UpdateForm(origin string, data map[string]any) (Snapshot, error) {
	o.mu.Lock()
	s, ok := o.byOrigin[origin]
	if !ok {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownOrigin, origin)
	}
	if s.busy || s.prompt == nil || s.prompt.Type != protocol.ResponseForm {
		o.mu.Unlock()
		return Snapshot{}, ErrNotWaiting
	}
	if s.prompt.Data == nil {
		s.prompt.Data = make(map[string]any, len(data))
	}
	maps.Copy(s.prompt.Data, data)
	s.updated = o.now()
	snap := s.snapshot()
	o.mu.Unlock()

	o.presenter.Present(snap)
	return snap, nil
}

// Abandon dismisses the pending prompt with a cancelling continuation. A
// further prompt from the instance ends the session instead of waiting.
func (o *Orchestrator) Abandon(ctx context.Context, origin string) (Snapshot, error) {
	o.mu.Lock()
	if s, ok := o.byOrigin[origin]; ok && !s.busy && s.prompt != nil {
		s.abandoned = true
	}
	o.mu.Unlock()
	return o.Reply(ctx, origin, Cancel())
}

// Session returns the open session identified by origin.
func (o *Orchestrator) Session(origin string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.byOrigin[origin]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownOrigin, origin)
	}
	return s.snapshot(), nil
}

// Sessions returns every open session, oldest first.
func (o *Orchestrator) Sessions() []Snapshot {
	o.mu.Lock()
	out := make([]Snapshot, 0, len(o.byTarget))
	for _, s := range o.byTarget {
		out = append(out, s.snapshot())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Busy reports whether a session is open for the target.
func (o *Orchestrator) Busy(t Target) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byTarget[t]
	return ok
}

// drive sends command and handles replies until the session parks on a
// prompt or ends. Round trips outlive the caller's cancellation so a
// disconnecting client does not cut an exchange in half.
func (o *Orchestrator) drive(ctx context.Context, s *session, command string, payload any) (Snapshot, error) {
	base := context.WithoutCancel(ctx)

	for {
		// One round trip, bounded by the request timeout
		rtCtx, cancel := context.WithTimeout(base, o.opts.RequestTimeout)
		o.metrics.sent(command)
		raw, err := o.bus.SendTo(rtCtx, s.target.Instance, command, payload)
		cancel()

		o.mu.Lock()
		s.roundTrips++
		o.mu.Unlock()

		// Transport failures end the session and reach the caller
		if err != nil {
			o.logger.Error("action round trip failed", "session_id", s.id, "instance", s.target.Instance,
				"command", command, "error", err)
			o.notifier.Notify(o.notification(s, "Action failed: "+err.Error()))
			snap := o.finish(s, OutcomeTransportError, err.Error())
			return snap, fmt.Errorf("sending %s to %s: %w", command, s.target.Instance, err)
		}

		// An unreadable reply is the instance's fault, not the caller's
		resp, err := protocol.DecodeResponse(raw)
		if err != nil {
			o.logger.Warn("undecodable action response", "session_id", s.id, "instance", s.target.Instance,
				"error", err)
			return o.finish(s, OutcomeProtocolError, err.Error()), nil
		}

		// Progress continues without the operator, everything else returns
		next, cont, snap := o.handle(base, s, resp)
		if !cont {
			return snap, nil
		}
		command, payload = protocol.CmdActionProgress, next
	}
}

// handle applies one response. It returns the continuation to send when
// the exchange goes on without the operator.
func (o *Orchestrator) handle(ctx context.Context, s *session, resp *protocol.Response) (protocol.ProgressRequest, bool, Snapshot) {
	// Adopt a new origin; later replies are addressed by it
	o.mu.Lock()
	if resp.Origin != "" && resp.Origin != s.origin {
		if s.origin != "" && o.byOrigin[s.origin] == s {
			delete(o.byOrigin, s.origin)
		}
		s.origin = resp.Origin
		o.byOrigin[s.origin] = s
	}
	origin := s.origin
	abandoned := s.abandoned
	o.mu.Unlock()

	switch resp.Type {
	case protocol.ResponseMessage, protocol.ResponseConfirm, protocol.ResponseForm:
		if origin == "" {
			return o.violation(s, "prompt without origin", resp.Type)
		}
		if abandoned {
			o.logger.Info("instance prompted again after abandonment, closing session",
				"session_id", s.id, "type", resp.Type)
			return protocol.ProgressRequest{}, false, o.finish(s, OutcomeAbandoned, "")
		}
		return protocol.ProgressRequest{}, false, o.park(s, resp)

	case protocol.ResponseProgress:
		if origin == "" {
			return o.violation(s, "progress without origin", resp.Type)
		}
		o.mu.Lock()
		// Merge into an open progress dialog, otherwise start a new one
		if s.progressOpen {
			s.progress = protocol.MergeProgress(s.progress, resp.Progress)
		} else {
			s.progress = maps.Clone(resp.Progress)
		}
		s.progressOpen = protocol.ProgressOpen(s.progress)
		s.phase = PhaseProgress
		s.updated = o.now()
		snap := s.snapshot()
		o.mu.Unlock()

		o.presenter.Present(snap)
		return protocol.ProgressRequest{Origin: origin}, true, snap

	case protocol.ResponseResult:
		return protocol.ProgressRequest{}, false, o.complete(ctx, s, resp.Result)

	default:
		o.logger.Warn("unknown action response type", "session_id", s.id,
			"instance", s.target.Instance, "type", resp.Type)
		return protocol.ProgressRequest{}, false, o.finish(s, OutcomeProtocolError,
			fmt.Sprintf("unknown response type %q", resp.Type))
	}
}

func (o *Orchestrator) violation(s *session, what string, t protocol.ResponseType) (protocol.ProgressRequest, bool, Snapshot) {
	err := fmt.Errorf("%w: %s", ErrProtocol, what)
	o.logger.Warn("action protocol violation", "session_id", s.id, "instance", s.target.Instance,
		"type", t, "error", err)
	return protocol.ProgressRequest{}, false, o.finish(s, OutcomeProtocolError, err.Error())
}

// park stores an interactive prompt and releases the session to the operator.
func (o *Orchestrator) park(s *session, resp *protocol.Response) Snapshot {
	p := &Prompt{Type: resp.Type}
	phase := PhaseMessage
	switch resp.Type {
	case protocol.ResponseMessage:
		p.Message = resp.Message
	case protocol.ResponseConfirm:
		p.Message = resp.Confirm
		phase = PhaseConfirm
	case protocol.ResponseForm:
		p.Form = resp.Form
		if resp.Form != nil {
			p.Data = maps.Clone(resp.Form.Data)
		}
		phase = PhaseForm
	}

	o.mu.Lock()
	now := o.now()
	s.prompt = p
	s.promptSince = now
	s.phase = phase
	s.busy = false
	s.updated = now
	snap := s.snapshot()
	o.mu.Unlock()

	o.logger.Debug("action waiting for operator", "session_id", s.id, "phase", phase)
	o.presenter.Present(snap)
	return snap
}

// complete ends a session on its result and carries out the refresh
// directive after the session is closed.
func (o *Orchestrator) complete(ctx context.Context, s *session, res *protocol.Result) Snapshot {
	o.mu.Lock()
	s.refresh = res.Refresh
	s.resultErr = res.Error
	s.state = res.State
	o.mu.Unlock()

	// A result carrying an error still closes the session
	outcome, errText := OutcomeCompleted, ""
	if res.Error != nil {
		outcome, errText = OutcomeFailed, res.Error.Error()
		o.logger.Warn("action reported an error", "session_id", s.id, "instance", s.target.Instance,
			"error", errText)
		o.notifier.Notify(o.notification(s, res.Error.Message))
	}
	snap := o.finish(s, outcome, errText)

	// Refresh only once the session is closed
	rctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	switch res.Refresh {
	case protocol.RefreshAll:
		if o.refresher != nil {
			if err := o.refresher.ReloadDevices(rctx, s.target.Instance); err != nil {
				o.logger.Warn("device reload after action failed", "instance", s.target.Instance, "error", err)
			}
		}
	case protocol.RefreshInstance:
		if o.refresher != nil {
			if err := o.refresher.ReloadInstance(rctx, s.target.Instance); err != nil {
				o.logger.Warn("instance reload after action failed", "instance", s.target.Instance, "error", err)
			}
		}
	case protocol.RefreshDevice:
		if s.deviceRefresh != nil {
			s.deviceRefresh()
		}
	}
	return snap
}

// finish closes the session, publishes its final snapshot and records it.
func (o *Orchestrator) finish(s *session, outcome Outcome, errText string) Snapshot {
	o.mu.Lock()
	now := o.now()
	s.phase = PhaseIdle
	s.busy = false
	s.prompt = nil
	s.progressOpen = false
	s.outcome = outcome
	s.updated = now
	if o.byTarget[s.target] == s {
		delete(o.byTarget, s.target)
	}
	if s.origin != "" && o.byOrigin[s.origin] == s {
		delete(o.byOrigin, s.origin)
	}
	snap := s.snapshot()
	o.mu.Unlock()

	o.metrics.finished(s.target, outcome, now.Sub(s.started).Seconds())
	o.logger.Info("action session finished", "session_id", s.id, "instance", s.target.Instance,
		"device_id", s.target.DeviceID, "action_id", s.actionID, "outcome", outcome,
		"round_trips", snap.RoundTrips)
	o.presenter.Present(snap)

	// Audit outside the lock
	if o.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		err := o.recorder.RecordSession(ctx, Record{
			SessionID:  s.id,
			Target:     s.target,
			ActionID:   s.actionID,
			Command:    s.command,
			Outcome:    outcome,
			RoundTrips: snap.RoundTrips,
			Error:      errText,
			Started:    s.started,
			Finished:   now,
		})
		if err != nil {
			o.logger.Warn("recording action session failed", "session_id", s.id, "error", err)
		}
	}
	return snap
}

func (o *Orchestrator) notification(s *session, msg string) notify.Notification {
	n := notify.Error(s.target.Instance, msg)
	n.DeviceID = s.target.DeviceID
	return n
}

// ExpirePrompts abandons every prompt older than the prompt timeout and
// returns how many were abandoned.
func (o *Orchestrator) ExpirePrompts(ctx context.Context) int {
	if o.opts.PromptTimeout <= 0 {
		return 0
	}

	cutoff := o.now().Add(-o.opts.PromptTimeout)
	o.mu.Lock()
	var expired []string
	for origin, s := range o.byOrigin {
		if s.prompt != nil && !s.busy && s.promptSince.Before(cutoff) {
			expired = append(expired, origin)
		}
	}
	o.mu.Unlock()

	n := 0
	for _, origin := range expired {
		o.logger.Info("abandoning unanswered prompt", "origin", origin, "timeout", o.opts.PromptTimeout)
		if _, err := o.Abandon(ctx, origin); err != nil && !errors.Is(err, ErrNotWaiting) && !errors.Is(err, ErrUnknownOrigin) {
			o.logger.Warn("abandoning prompt failed", "origin", origin, "error", err)
		}
		n++
	}
	return n
}

// Run expires unanswered prompts until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.opts.PromptTimeout <= 0 {
		return
	}
	interval := o.opts.PromptTimeout / 10
	interval = max(interval, 100*time.Millisecond)
	interval = min(interval, 30*time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ExpirePrompts(ctx)
		}
	}
}
