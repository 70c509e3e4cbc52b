package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds selectable via transport.kind.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config is the root configuration structure for the device console.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Console   ConsoleConfig   `yaml:"console"`
	Transport TransportConfig `yaml:"transport"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ConsoleConfig contains behaviour settings for the device console itself.
type ConsoleConfig struct {
	// Language selects which entry of a translated name is displayed.
	// Falls back to "en" when the requested language is missing.
	Language string `yaml:"language"`

	// Instance pins the console to a single backend instance (embedded mode).
	// When empty the operator selects an instance at runtime.
	Instance string `yaml:"instance"`

	// RequestTimeout bounds every request/response round trip (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// PromptTimeout is how long a message/confirm/form prompt may stay
	// unanswered before the session is abandoned (seconds). 0 disables it.
	PromptTimeout int `yaml:"prompt_timeout"`

	// FilterDebounce delays text filter application (milliseconds).
	FilterDebounce int `yaml:"filter_debounce"`
}

// TransportConfig selects and configures the message bus.
type TransportConfig struct {
	Kind string     `yaml:"kind"`
	MQTT MQTTConfig `yaml:"mqtt"`
	NATS NATSConfig `yaml:"nats"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// NATSConfig contains NATS server connection settings.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	CredsFile     string `yaml:"creds_file"`
	MaxReconnects int    `yaml:"max_reconnects"`
	ReconnectWait int    `yaml:"reconnect_wait"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// UIDir is a directory of browser UI assets served at /. Empty
	// serves the API only.
	UIDir string `yaml:"ui_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for control history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings.
// An empty secret disables API authentication (local development only).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_TRANSPORT_KIND
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
//
// Example:
//
//	cfg, err := config.Load("/etc/graylogic/console.yaml")
//	if err != nil {
//	    log.Fatalf("loading config: %v", err)
//	}
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Console: ConsoleConfig{
			Language:       "en",
			RequestTimeout: 30,
			PromptTimeout:  600,
			FilterDebounce: 250,
		},
		Transport: TransportConfig{
			Kind: TransportMQTT,
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "graylogic-console",
				},
				QoS: 1,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				Name:          "graylogic-console",
				MaxReconnects: -1,
				ReconnectWait: 2,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/console.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Console
	if v := os.Getenv("GRAYLOGIC_CONSOLE_LANGUAGE"); v != "" {
		cfg.Console.Language = v
	}
	if v := os.Getenv("GRAYLOGIC_CONSOLE_INSTANCE"); v != "" {
		cfg.Console.Instance = v
	}
	if v := os.Getenv("GRAYLOGIC_CONSOLE_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Console.RequestTimeout = n
		}
	}

	// Transport
	if v := os.Getenv("GRAYLOGIC_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.Transport.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.Transport.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.Transport.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_NATS_URL"); v != "" {
		cfg.Transport.NATS.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_NATS_CREDS_FILE"); v != "" {
		cfg.Transport.NATS.CredsFile = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_UI_DIR"); v != "" {
		cfg.API.UIDir = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// All problems are collected and reported together.
//
// Returns:
//   - error: nil if valid, or one error listing every problem found
func (c *Config) Validate() error {
	var errs []string

	if c.Console.RequestTimeout < 1 {
		errs = append(errs, "console.request_timeout must be at least 1 second")
	}
	if c.Console.PromptTimeout < 0 {
		errs = append(errs, "console.prompt_timeout must not be negative")
	}
	if c.Console.FilterDebounce < 0 {
		errs = append(errs, "console.filter_debounce must not be negative")
	}

	switch c.Transport.Kind {
	case TransportMQTT:
		if c.Transport.MQTT.Broker.Host == "" {
			errs = append(errs, "transport.mqtt.broker.host is required")
		}
		if c.Transport.MQTT.Broker.ClientID == "" {
			errs = append(errs, "transport.mqtt.broker.client_id is required")
		}
		if c.Transport.MQTT.QoS < 0 || c.Transport.MQTT.QoS > 2 {
			errs = append(errs, "transport.mqtt.qos must be 0, 1, or 2")
		}
	case TransportNATS:
		if c.Transport.NATS.URL == "" {
			errs = append(errs, "transport.nats.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be %q or %q", TransportMQTT, TransportNATS))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// A short secret lets anyone brute-force tokens for the console.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RequestTimeout returns the bus round-trip timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Console.RequestTimeout) * time.Second
}

// PromptTimeout returns how long an unanswered prompt is kept open.
func (c *Config) PromptTimeout() time.Duration {
	return time.Duration(c.Console.PromptTimeout) * time.Second
}

// FilterDebounce returns the filter text debounce delay.
func (c *Config) FilterDebounce() time.Duration {
	return time.Duration(c.Console.FilterDebounce) * time.Millisecond
}
