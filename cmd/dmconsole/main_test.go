package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-console/internal/auth"
	"github.com/nerrad567/gray-logic-console/internal/bus/natsbus"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			want: options{configPath: defaultConfigPath, tokenSubject: "console-operator"},
		},
		{
			name: "config flag",
			args: []string{"--config", "/etc/dmconsole.yaml"},
			want: options{configPath: "/etc/dmconsole.yaml", tokenSubject: "console-operator"},
		},
		{
			name: "short config flag",
			args: []string{"-c", "local.yaml"},
			want: options{configPath: "local.yaml", tokenSubject: "console-operator"},
		},
		{
			name: "issue token",
			args: []string{"--issue-token", "admin", "--token-subject", "alice", "--token-ttl", "1h"},
			want: options{configPath: defaultConfigPath, issueToken: "admin", tokenSubject: "alice", tokenTTL: time.Hour},
		},
		{
			name: "version",
			args: []string{"-v"},
			want: options{configPath: defaultConfigPath, tokenSubject: "console-operator", showVersion: true},
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: true,
		},
		{
			name:    "positional argument",
			args:    []string{"serve"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)
	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestLoadConfig_DefaultPathMissing(t *testing.T) {
	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Console.Language != "en" {
		t.Errorf("Console.Language = %q, want %q", cfg.Console.Language, "en")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("run() error = %v, want not-exist", err)
	}
}

func TestIssueToken(t *testing.T) {
	withSecret := writeConfig(t, "security:\n  jwt:\n    secret: \""+testSecret+"\"\n")
	withoutSecret := writeConfig(t, "console:\n  language: en\n")

	tests := []struct {
		name    string
		opts    options
		wantErr error
	}{
		{
			name: "operator",
			opts: options{configPath: withSecret, issueToken: "operator", tokenSubject: "alice"},
		},
		{
			name:    "unknown role",
			opts:    options{configPath: withSecret, issueToken: "root", tokenSubject: "alice"},
			wantErr: auth.ErrUnknownRole,
		},
		{
			name:    "no secret",
			opts:    options{configPath: withoutSecret, issueToken: "viewer", tokenSubject: "alice"},
			wantErr: auth.ErrNoSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := issueToken(&out, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("issueToken() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("issueToken() error = %v", err)
			}

			claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.Subject != "alice" || claims.Role != auth.RoleOperator {
				t.Errorf("claims = %s/%s, want alice/operator", claims.Subject, claims.Role)
			}
		})
	}
}

// runNATS starts an embedded NATS server answering instance enumeration
// with an empty list.
func runNATS(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("server.NewServer() error = %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats.Connect() error = %v", err)
	}
	t.Cleanup(nc.Close)

	empty, _ := json.Marshal(natsbus.Response{Payload: json.RawMessage(`[]`)})
	if _, err := nc.Subscribe(natsbus.SubjectListObjects, func(m *nats.Msg) {
		_ = m.Respond(empty)
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	return srv
}

func TestRun_StartupAndShutdown(t *testing.T) {
	ns := runNATS(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "console.db")

	configPath := writeConfig(t, fmt.Sprintf(`
transport:
  kind: nats
  nats:
    url: %q
    name: test-console
    max_reconnects: 0

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: %d
  timeouts:
    read: 5
    write: 5
    idle: 5

influxdb:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout
`, ns.ClientURL(), dbPath, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: configPath}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
