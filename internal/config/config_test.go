package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bgapp/marine-realtime/internal/outbox"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: luanda-1
client:
  url: wss://realtime.example.org
  protocols: [bgapp.v1]
  reconnect_interval: 2s
  max_reconnect_attempts: 5
  debug: true
channels:
  - alerts
  - ocean-data
database:
  timescale:
    host: localhost
    port: 5432
    name: marine
    user: testuser
    password: testpass
recorder:
  enabled: true
  channels: [ocean-data]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "luanda-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "luanda-1")
	}
	if cfg.Client.URL != "wss://realtime.example.org" {
		t.Errorf("Client.URL = %q", cfg.Client.URL)
	}
	if cfg.Client.ReconnectInterval != 2*time.Second {
		t.Errorf("Client.ReconnectInterval = %v, want 2s", cfg.Client.ReconnectInterval)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[1] != "ocean-data" {
		t.Errorf("Channels = %v", cfg.Channels)
	}
	if !cfg.Recorder.Enabled {
		t.Error("Recorder.Enabled = false, want true")
	}
	if cfg.Client.Reconnect != nil {
		t.Error("Client.Reconnect should stay nil before defaults")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_WS_URL", "wss://env.example.org")

	yaml := `
client:
  url: ${TEST_WS_URL}
database:
  timescale:
    host: localhost
    name: marine
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Timescale.Password != "secret123" {
		t.Errorf("Database.Timescale.Password = %q, want %q", cfg.Database.Timescale.Password, "secret123")
	}
	if cfg.Client.URL != "wss://env.example.org" {
		t.Errorf("Client.URL = %q", cfg.Client.URL)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "client:\n  debug: false\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Client.URL != DefaultURL {
		t.Errorf("Client.URL = %q, want default %q", cfg.Client.URL, DefaultURL)
	}
	if cfg.Client.Reconnect == nil || !*cfg.Client.Reconnect {
		t.Error("Client.Reconnect should default to true")
	}
	if cfg.Client.ReconnectInterval != DefaultReconnectInterval {
		t.Errorf("Client.ReconnectInterval = %v, want %v", cfg.Client.ReconnectInterval, DefaultReconnectInterval)
	}
	if cfg.Client.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Client.MaxReconnectAttempts = %d, want %d", cfg.Client.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Client.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Client.HeartbeatInterval = %v, want %v", cfg.Client.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Client.MaxQueueSize != DefaultMaxQueueSize {
		t.Errorf("Client.MaxQueueSize = %d, want %d", cfg.Client.MaxQueueSize, DefaultMaxQueueSize)
	}
	if len(cfg.Channels) != len(DefaultChannels) {
		t.Errorf("Channels = %v, want %v", cfg.Channels, DefaultChannels)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := LoadAndValidate(writeTempFile(t, "channels: [alerts]\n"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Client.URL != DefaultURL || len(cfg.Channels) != 1 {
		t.Errorf("cfg = %+v, want defaults with one channel", cfg)
	}

	_, err = LoadAndValidate(writeTempFile(t, "channels: [alerts, alerts]\n"))
	if err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("error = %v, want validation error", err)
	}

	if _, err := LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("client: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	validDB := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Client.URL = "" },
			wantErr: "client.url is required",
		},
		{
			name:    "http url",
			mutate:  func(c *Config) { c.Client.URL = "https://example.org" },
			wantErr: `client.url must use ws or wss, got "https"`,
		},
		{
			name:    "unknown overflow policy",
			mutate:  func(c *Config) { c.Client.QueueOverflow = "block" },
			wantErr: `client.queue_overflow: unknown overflow policy "block"`,
		},
		{
			name:    "duplicate channel",
			mutate:  func(c *Config) { c.Channels = []string{"alerts", "alerts"} },
			wantErr: `channels[1]: duplicate channel "alerts"`,
		},
		{
			name: "recorder without database",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
			},
			wantErr: "database.timescale.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.timescale.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "recorder channel not followed",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database.Timescale = validDB
				c.Recorder.Channels = []string{"tides"}
			},
			wantErr: `recorder.channels[0]: "tides" is not in channels`,
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "relative metrics path",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: `metrics.path must start with /, got "metrics"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name: "valid recorder config",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database.Timescale = validDB
				c.Recorder.Channels = []string{"ocean-data"}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestClientConfig_ConnectionConfig(t *testing.T) {
	cfg := Default()
	cfg.Client.Protocols = []string{"bgapp.v1"}
	cfg.Client.QueueOverflow = "reject_new"
	cfg.Client.MaxQueueSize = -1
	cfg.Client.HeartbeatInterval = -1
	cfg.Client.ResubscribeOnReconnect = boolPtr(false)
	cfg.Client.ReconnectOnDialFailure = true

	cc, err := cfg.Client.ConnectionConfig()
	if err != nil {
		t.Fatalf("ConnectionConfig failed: %v", err)
	}

	if cc.URL != DefaultURL || len(cc.Protocols) != 1 {
		t.Errorf("URL/Protocols = %q/%v", cc.URL, cc.Protocols)
	}
	if !cc.Reconnect || cc.ReconnectInterval != DefaultReconnectInterval || cc.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("reconnect settings = %v/%v/%d", cc.Reconnect, cc.ReconnectInterval, cc.MaxReconnectAttempts)
	}
	if cc.HeartbeatInterval != 0 {
		t.Errorf("HeartbeatInterval = %v, want disabled", cc.HeartbeatInterval)
	}
	if cc.MaxQueueSize != 0 || cc.QueueOverflow != outbox.RejectNew {
		t.Errorf("queue = %d/%s, want unbounded reject_new", cc.MaxQueueSize, cc.QueueOverflow)
	}
	if cc.ResubscribeOnReconnect || !cc.ReconnectOnDialFailure {
		t.Error("resubscribe/dial-failure flags not carried over")
	}
}

func TestRecordedChannels(t *testing.T) {
	cfg := Default()
	if got := cfg.RecordedChannels(); len(got) != len(DefaultChannels) {
		t.Errorf("RecordedChannels = %v, want all channels", got)
	}
	cfg.Recorder.Channels = []string{"alerts"}
	if got := cfg.RecordedChannels(); len(got) != 1 || got[0] != "alerts" {
		t.Errorf("RecordedChannels = %v, want [alerts]", got)
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := LogConfig{Level: tt.level}.SlogLevel()
		if (err != nil) != tt.wantErr {
			t.Errorf("SlogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
