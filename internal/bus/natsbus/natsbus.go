// Package natsbus implements bus.Transport over NATS request/reply.
//
// Subjects:
//
//	graylogic.console.request.<instance>   commands, answered by the instance
//	graylogic.console.rpc.getState         state reads, answered by the host
//	graylogic.console.rpc.listObjects      instance enumeration, answered by the host
//	graylogic.console.state.<stateID>      state change events
//	graylogic.console.object.<objectID>    object change events (empty body = deleted)
//
// NATS has no retained messages, so reads are requests rather than a cache.
package natsbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-console/internal/protocol"
)

// Subject roots.
const (
	SubjectPrefix      = "graylogic.console"
	SubjectGetState    = SubjectPrefix + ".rpc.getState"
	SubjectListObjects = SubjectPrefix + ".rpc.listObjects"
)

// RequestSubject returns the command subject of an instance.
func RequestSubject(instance string) string {
	return SubjectPrefix + ".request." + instance
}

// StateSubject returns the change-event subject of a state.
func StateSubject(id string) string {
	return SubjectPrefix + ".state." + id
}

// ObjectSubject returns the change-event subject of an object.
func ObjectSubject(id string) string {
	return SubjectPrefix + ".object." + id
}

// Request is the body sent on a request subject.
type Request struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Message any    `json:"message,omitempty"`
}

// Response is the body every responder replies with.
type Response struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StateQuery is the body of a getState request.
type StateQuery struct {
	ID string `json:"id"`
}

// ObjectQuery is the body of a listObjects request.
type ObjectQuery struct {
	Prefix string `json:"prefix"`
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

// Connect opens a NATS connection configured from cfg. Connection state
// changes are logged.
//
// Parameters:
//   - cfg: NATS configuration (URL, client name, reconnect policy, creds file)
//   - logger: Receives connection events, may be nil
//
// Returns:
//   - *nats.Conn: Open connection; the caller drains or closes it
//   - error: If the server cannot be reached
//
// Example:
//
//	nc, err := natsbus.Connect(cfg.NATS, log)
//	if err != nil {
//	    return err
//	}
//	defer nc.Close()
//	transport := natsbus.New(nc)
func Connect(cfg config.NATSConfig, logger Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	// Reconnect policy and connection event logging
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Bus is a NATS-backed bus.Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Bus struct {
	nc     *nats.Conn
	logger Logger

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

var _ bus.Transport = (*Bus)(nil)

// New creates a Bus on an open connection. The connection stays owned by
// the caller.
func New(nc *nats.Conn) *Bus {
	return &Bus{
		nc:     nc,
		logger: noopLogger{},
		subs:   make(map[*nats.Subscription]struct{}),
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// SendTo implements bus.Transport.
//
// Parameters:
//   - ctx: Bounds the request; a deadline maps to bus.ErrTimeout
//   - instance: Target instance, addressed as graylogic.console.request.<instance>
//   - command: Command name (e.g., "dm:deviceAction")
//   - payload: JSON-encodable message, may be nil
//
// Returns:
//   - json.RawMessage: The reply payload
//   - error: bus.ErrNoResponder when no instance listens, bus.ErrTimeout,
//     bus.ErrRemote, or bus.ErrClosed
func (b *Bus) SendTo(ctx context.Context, instance, command string, payload any) (json.RawMessage, error) {
	return b.request(ctx, RequestSubject(instance), Request{
		ID:      uuid.NewString(),
		Command: command,
		Message: payload,
	})
}

func (b *Bus) request(ctx context.Context, subject string, body any) (json.RawMessage, error) {
	if b.isClosed() {
		return nil, bus.ErrClosed
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", subject, err)
	}

	// Map NATS errors onto the transport's sentinels
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return nil, fmt.Errorf("%w: %s", bus.ErrNoResponder, subject)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return nil, fmt.Errorf("%w: %s", bus.ErrTimeout, subject)
	case err != nil:
		return nil, fmt.Errorf("requesting %s: %w", subject, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decoding reply from %s: %w", subject, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", bus.ErrRemote, resp.Error)
	}
	return resp.Payload, nil
}

// GetState implements bus.Transport.
func (b *Bus) GetState(ctx context.Context, id string) (*protocol.State, error) {
	raw, err := b.request(ctx, SubjectGetState, StateQuery{ID: id})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var st protocol.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding state %s: %w", id, err)
	}
	return &st, nil
}

// ListInstanceObjects implements bus.Transport.
func (b *Bus) ListInstanceObjects(ctx context.Context) ([]bus.InstanceObject, error) {
	raw, err := b.request(ctx, SubjectListObjects, ObjectQuery{Prefix: bus.InstanceObjectPrefix})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var objs []bus.InstanceObject
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, fmt.Errorf("decoding instance objects: %w", err)
	}
	return objs, nil
}

// SubscribeState implements bus.Transport.
func (b *Bus) SubscribeState(id string, handler bus.StateHandler) (bus.Subscription, error) {
	return b.subscribe(StateSubject(id), func(m *nats.Msg) {
		if isNull(m.Data) {
			handler(id, nil)
			return
		}
		var st protocol.State
		if err := json.Unmarshal(m.Data, &st); err != nil {
			b.logger.Warn("discarding malformed state event", "state_id", id, "error", err)
			return
		}
		handler(id, &st)
	})
}

// SubscribeObjects implements bus.Transport. A trailing "*" subscribes to
// the whole object tree and filters locally.
func (b *Bus) SubscribeObjects(pattern string, handler bus.ObjectHandler) (bus.Subscription, error) {
	subject := ObjectSubject(pattern)
	if strings.HasSuffix(pattern, "*") {
		subject = SubjectPrefix + ".object.>"
	}
	prefix := SubjectPrefix + ".object."

	return b.subscribe(subject, func(m *nats.Msg) {
		id := strings.TrimPrefix(m.Subject, prefix)
		if !bus.MatchPattern(pattern, id) {
			return
		}
		if isNull(m.Data) {
			handler(id, nil)
			return
		}
		var obj bus.InstanceObject
		if err := json.Unmarshal(m.Data, &obj); err != nil {
			b.logger.Warn("discarding malformed object event", "object_id", id, "error", err)
			return
		}
		obj.ID = id
		handler(id, &obj)
	})
}

func (b *Bus) subscribe(subject string, handler nats.MsgHandler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}

	sub, err := b.nc.Subscribe(subject, b.recoverHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", subject, err)
	}
	b.subs[sub] = struct{}{}

	return bus.SubscriptionFunc(func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Debug("unsubscribe failed", "subject", subject, "error", err)
		}
	}), nil
}

func (b *Bus) recoverHandler(handler nats.MsgHandler) nats.MsgHandler {
	return func(m *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("NATS handler panic recovered", "subject", m.Subject, "panic", r)
			}
		}()
		handler(m)
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close drops every subscription made through the bus. The connection
// stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*nats.Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
