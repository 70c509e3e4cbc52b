package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-console/internal/action"
	"github.com/nerrad567/gray-logic-console/internal/audit"
	"github.com/nerrad567/gray-logic-console/internal/control"
	"github.com/nerrad567/gray-logic-console/internal/device"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-console/internal/liveness"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	defaultRequestTimeout   = 30 * time.Second
)

// Deps holds what the API server exposes.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Liveness *liveness.Registry
	Devices  *device.Registry
	Controls *control.Synchronizer
	Actions  *action.Orchestrator

	// Audit is optional; without it GET /audit answers 503.
	Audit audit.Repository

	// UI serves the browser console for paths outside the API. Optional.
	UI http.Handler

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// RequestTimeout bounds the bus work started by one request.
	RequestTimeout time.Duration

	Version string
}

// Server is the console's HTTP API and WebSocket event stream.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	live     *liveness.Registry
	devices  *device.Registry
	controls *control.Synchronizer
	actions  *action.Orchestrator
	audit    audit.Repository
	gatherer prometheus.Gatherer
	ui       http.Handler
	timeout  time.Duration
	version  string

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	unwatch  func()
}

// New creates a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Liveness == nil || deps.Devices == nil || deps.Controls == nil || deps.Actions == nil {
		return nil, fmt.Errorf("liveness, devices, controls and actions are required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		live:     deps.Liveness,
		devices:  deps.Devices,
		controls: deps.Controls,
		actions:  deps.Actions,
		audit:    deps.Audit,
		gatherer: deps.Gatherer,
		ui:       deps.UI,
		timeout:  deps.RequestTimeout,
		version:  deps.Version,
	}
	s.hub = NewHub(deps.WS, deps.Logger)
	s.hub.SetSnapshotter(s.channelSnapshot)
	s.bindEvents()
	return s, nil
}

// Hub returns the event hub, which callers register as the action
// presenter and as a notification sink.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler without listening.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// bindEvents relays component events to the hub.
func (s *Server) bindEvents() {
	s.unwatch = s.live.Watch(func(ev liveness.Event) {
		s.hub.Broadcast(ChannelInstances, ev)
	})
	s.devices.OnChanged(func(v device.View) {
		s.hub.Broadcast(ChannelDevices, v)
	})
	s.controls.OnUpdate(func(u control.Update) {
		s.hub.Broadcast(ChannelControls, u)
	})
}

func (s *Server) channelSnapshot(channel string) (any, bool) {
	switch channel {
	case ChannelInstances:
		return s.live.Instances(), true
	case ChannelDevices:
		return s.devices.View(), true
	case ChannelSessions:
		return s.actions.Sessions(), true
	}
	return nil, false
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close drains in-flight requests for up to ten seconds.
func (s *Server) Close() error {
	if s.unwatch != nil {
		s.unwatch()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// requestContext bounds bus work started by a request. Work continues
// if the client goes away so sessions are not left half driven.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.timeout)
}
