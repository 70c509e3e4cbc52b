package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
console:
  language: "de"
  request_timeout: 10
transport:
  kind: "mqtt"
  mqtt:
    broker:
      host: "broker.local"
      port: 1883
      client_id: "console-test"
    qos: 1
database:
  path: "/tmp/console.db"
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Console.Language != "de" {
		t.Errorf("Console.Language = %q, want %q", cfg.Console.Language, "de")
	}
	if cfg.Transport.MQTT.Broker.Host != "broker.local" {
		t.Errorf("Transport.MQTT.Broker.Host = %q, want %q", cfg.Transport.MQTT.Broker.Host, "broker.local")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Console.FilterDebounce != 250 {
		t.Errorf("Console.FilterDebounce = %d, want 250", cfg.Console.FilterDebounce)
	}
}

func TestLoad_NATSTransport(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: "nats"
  nats:
    url: "nats://bus.local:4222"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.Kind != TransportNATS {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportNATS)
	}
	if cfg.Transport.NATS.URL != "nats://bus.local:4222" {
		t.Errorf("Transport.NATS.URL = %q", cfg.Transport.NATS.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/console.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: "carrier-pigeon"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for unknown transport kind, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "with jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, wantErr: false},
		{name: "jwt secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.Transport.MQTT.QoS = 3 }, wantErr: true},
		{name: "missing broker host", mutate: func(c *Config) { c.Transport.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "nats without url", mutate: func(c *Config) {
			c.Transport.Kind = TransportNATS
			c.Transport.NATS.URL = ""
		}, wantErr: true},
		{name: "nats ignores mqtt settings", mutate: func(c *Config) {
			c.Transport.Kind = TransportNATS
			c.Transport.MQTT.Broker.Host = ""
		}, wantErr: false},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "zero request timeout", mutate: func(c *Config) { c.Console.RequestTimeout = 0 }, wantErr: true},
		{name: "negative prompt timeout", mutate: func(c *Config) { c.Console.PromptTimeout = -1 }, wantErr: true},
		{name: "prompt timeout disabled", mutate: func(c *Config) { c.Console.PromptTimeout = 0 }, wantErr: false},
		{name: "influx enabled without bucket", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = "http://influx:8086"
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Console: ConsoleConfig{
			RequestTimeout: 12,
			PromptTimeout:  90,
			FilterDebounce: 250,
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.RequestTimeout(); got != 12*time.Second {
		t.Errorf("RequestTimeout() = %v, want 12s", got)
	}
	if got := cfg.PromptTimeout(); got != 90*time.Second {
		t.Errorf("PromptTimeout() = %v, want 90s", got)
	}
	if got := cfg.FilterDebounce(); got != 250*time.Millisecond {
		t.Errorf("FilterDebounce() = %v, want 250ms", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_TRANSPORT_KIND", "NATS")
	t.Setenv("GRAYLOGIC_NATS_URL", "nats://10.0.0.2:4222")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_PORT", "9191")
	t.Setenv("GRAYLOGIC_CONSOLE_INSTANCE", "zigbee.0")
	t.Setenv("GRAYLOGIC_CONSOLE_REQUEST_TIMEOUT", "7")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Transport.Kind != TransportNATS {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportNATS)
	}
	if cfg.Transport.NATS.URL != "nats://10.0.0.2:4222" {
		t.Errorf("Transport.NATS.URL = %q", cfg.Transport.NATS.URL)
	}
	if cfg.Transport.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("Transport.MQTT.Broker.Host = %q, want %q", cfg.Transport.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.Transport.MQTT.Auth.Username != "testuser" {
		t.Errorf("Transport.MQTT.Auth.Username = %q, want %q", cfg.Transport.MQTT.Auth.Username, "testuser")
	}
	if cfg.Transport.MQTT.Auth.Password != "testpass" {
		t.Errorf("Transport.MQTT.Auth.Password = %q, want %q", cfg.Transport.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Port != 9191 {
		t.Errorf("API.Port = %d, want 9191", cfg.API.Port)
	}
	if cfg.Console.Instance != "zigbee.0" {
		t.Errorf("Console.Instance = %q, want %q", cfg.Console.Instance, "zigbee.0")
	}
	if cfg.Console.RequestTimeout != 7 {
		t.Errorf("Console.RequestTimeout = %d, want 7", cfg.Console.RequestTimeout)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Transport.Kind != TransportMQTT {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, TransportMQTT)
	}
	if cfg.Transport.MQTT.Broker.Port != 1883 {
		t.Errorf("Transport.MQTT.Broker.Port = %d, want 1883", cfg.Transport.MQTT.Broker.Port)
	}
	if cfg.Console.FilterDebounce != 250 {
		t.Errorf("Console.FilterDebounce = %d, want 250", cfg.Console.FilterDebounce)
	}
	if cfg.Security.JWT.Secret != "" {
		t.Error("Default() should not ship a JWT secret")
	}
}
