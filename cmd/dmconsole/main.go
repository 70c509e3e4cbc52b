// Gray Logic Console - device administration console.
//
// This is the main entry point of the console service. It connects to the
// message bus shared with the backend instances, tracks which of them are
// alive, mirrors their devices and controls, and drives remote actions on
// behalf of operators connected over the REST and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-console/internal/action"
	"github.com/nerrad567/gray-logic-console/internal/api"
	"github.com/nerrad567/gray-logic-console/internal/audit"
	"github.com/nerrad567/gray-logic-console/internal/auth"
	"github.com/nerrad567/gray-logic-console/internal/bus"
	"github.com/nerrad567/gray-logic-console/internal/bus/mqttbus"
	"github.com/nerrad567/gray-logic-console/internal/bus/natsbus"
	"github.com/nerrad567/gray-logic-console/internal/control"
	"github.com/nerrad567/gray-logic-console/internal/device"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-console/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-console/internal/liveness"
	"github.com/nerrad567/gray-logic-console/internal/notify"
	"github.com/nerrad567/gray-logic-console/internal/panel"
	"github.com/nerrad567/gray-logic-console/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options holds the parsed command line.
type options struct {
	configPath   string
	issueToken   string
	tokenSubject string
	tokenTTL     time.Duration
	showVersion  bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("dmconsole %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if opts.issueToken != "" {
		if err := issueToken(os.Stdout, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// GRAYLOGIC_CONFIG and then to the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("dmconsole", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API token for the given role (viewer, operator, admin) and exit")
	fs.StringVar(&opts.tokenSubject, "token-subject", "console-operator", "subject of the issued token")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", 0, "lifetime of the issued token (default 12h)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file, or the built-in defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(path)
}

// issueToken signs a token with the configured secret and writes it to w.
func issueToken(w io.Writer, opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.IssueToken(opts.tokenSubject, auth.Role(opts.issueToken), cfg.Security.JWT.Secret, opts.tokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting device console",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, API authentication disabled")
	}

	requestTimeout := time.Duration(cfg.Console.RequestTimeout) * time.Second

	// Open database and apply the audit schema
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect the message bus
	transport, closeTransport, err := openTransport(cfg.Transport, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	// Metrics
	registry := prometheus.NewRegistry()
	controlMetrics := control.NewMetrics()
	actionMetrics := action.NewMetrics()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		controlMetrics,
		actionMetrics,
	)

	notifications := &notify.Fanout{}
	notifications.Add(notify.Func(func(n notify.Notification) {
		log.Info("notification", "level", n.Level, "message", n.Message,
			"instance", n.Instance, "device_id", n.DeviceID)
	}))

	// Console components
	live := liveness.NewRegistry(transport)
	live.SetLogger(log.With("component", "liveness"))
	defer live.Close()

	devices := device.NewRegistry(transport, live, device.Options{
		Language:       cfg.Console.Language,
		Embedded:       cfg.Console.Instance != "",
		FilterDebounce: time.Duration(cfg.Console.FilterDebounce) * time.Millisecond,
		ReloadTimeout:  requestTimeout,
	})
	devices.SetLogger(log.With("component", "devices"))
	devices.SetNotifier(notifications)
	defer devices.Close()

	controls := control.NewSynchronizer(transport)
	controls.SetLogger(log.With("component", "controls"))
	controls.SetNotifier(notifications)
	controls.SetMetrics(controlMetrics)
	controls.SetRequestTimeout(requestTimeout)
	if influxClient != nil {
		controls.SetHistory(influxClient)
	}
	defer controls.Close()
	devices.OnLoaded(controls.Sync)

	actions := action.NewOrchestrator(transport, devices, action.Options{
		RequestTimeout: requestTimeout,
		PromptTimeout:  time.Duration(cfg.Console.PromptTimeout) * time.Second,
	})
	actions.SetLogger(log.With("component", "actions"))
	actions.SetNotifier(notifications)
	actions.SetRecorder(audit.NewSessionRecorder(auditRepo, ""))
	actions.SetMetrics(actionMetrics)
	go actions.Run(ctx)

	// API server
	var ui http.Handler
	if cfg.API.UIDir != "" {
		assets, uiErr := panel.Dir(cfg.API.UIDir)
		if uiErr != nil {
			return fmt.Errorf("loading UI: %w", uiErr)
		}
		ui = panel.Handler(assets)
		log.Info("serving console UI", "dir", cfg.API.UIDir)
	}

	srv, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Logger:         log.With("component", "api"),
		Liveness:       live,
		Devices:        devices,
		Controls:       controls,
		Actions:        actions,
		Audit:          auditRepo,
		UI:             ui,
		Gatherer:       registry,
		RequestTimeout: requestTimeout,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	actions.SetPresenter(srv.Hub())
	notifications.Add(srv.Hub())

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Find instances
	if err := startInstances(ctx, cfg.Console, live, devices, log); err != nil {
		return err
	}

	if err := healthCheck(ctx, db, influxClient, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, components,
	// transport, InfluxDB, database.
	log.Info("device console stopped")
	return nil
}

// openTransport connects the bus selected by cfg.Kind. The returned
// function releases it.
func openTransport(cfg config.TransportConfig, log *logging.Logger) (bus.Transport, func(), error) {
	switch cfg.Kind {
	case config.TransportNATS:
		nc, err := natsbus.Connect(cfg.NATS, log.With("component", "nats"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		b := natsbus.New(nc)
		b.SetLogger(log.With("component", "bus"))
		log.Info("NATS connected", "url", nc.ConnectedUrl())
		return b, func() {
			log.Info("disconnecting from NATS")
			if err := b.Close(); err != nil {
				log.Error("error closing bus", "error", err)
			}
			nc.Close()
		}, nil

	default:
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log.With("component", "mqtt"))
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		b, err := mqttbus.New(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("creating MQTT bus: %w", err)
		}
		b.SetLogger(log.With("component", "bus"))
		return b, func() {
			log.Info("disconnecting from MQTT")
			if err := b.Close(); err != nil {
				log.Error("error closing bus", "error", err)
			}
			if err := client.Close(); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		}, nil
	}
}

// startInstances begins liveness tracking. A console pinned to one
// instance tracks and selects only that instance; otherwise every
// device manager on the bus is discovered and followed.
func startInstances(ctx context.Context, cfg config.ConsoleConfig, live *liveness.Registry, devices *device.Registry, log *logging.Logger) error {
	if cfg.Instance == "" {
		if err := live.Start(ctx); err != nil {
			return fmt.Errorf("starting instance discovery: %w", err)
		}
		log.Info("instance discovery started", "instances", len(live.Instances()))
		return nil
	}

	if err := live.Track(ctx, cfg.Instance); err != nil {
		return fmt.Errorf("tracking instance %s: %w", cfg.Instance, err)
	}
	if err := devices.Select(ctx, cfg.Instance); err != nil {
		// The instance may simply be down; its devices load once it is alive.
		log.Warn("initial device load failed", "instance", cfg.Instance, "error", err)
	}
	log.Info("embedded console pinned", "instance", cfg.Instance, "alive", live.IsAlive(cfg.Instance))
	return nil
}

// healthCheck verifies the local infrastructure is healthy. The bus is
// checked implicitly by instance discovery.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, srv *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
