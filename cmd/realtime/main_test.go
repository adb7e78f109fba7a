package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/bgapp/marine-realtime/internal/config"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/recorder"
)

type fakeClient struct{ stats connection.Stats }

func (c *fakeClient) Stats() connection.Stats { return c.stats }
func (c *fakeClient) URL() string { return "wss://realtime.test" }

type fakePinger struct{ err error }

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeRecorder struct {
	stats recorder.Stats
	state gobreaker.State
}

func (r *fakeRecorder) Stats() recorder.Stats { return r.stats }
func (r *fakeRecorder) BreakerState() gobreaker.State { return r.state }

type fakeFeed struct {
	channel string
	updates int64
	last    time.Time
	err     error
}

func (f *fakeFeed) Channel() string { return f.channel }
func (f *fakeFeed) LastUpdate() time.Time { return f.last }
func (f *fakeFeed) Updates() int64 { return f.updates }
func (f *fakeFeed) Err() error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      connection.State
		db         pinger
		rec        recorderStatus
		wantStatus string
		wantCode   int
	}{
		{"connected", connection.StateConnected, nil, nil, "healthy", http.StatusOK},
		{"reconnecting", connection.StateReconnectScheduled, nil, nil, "degraded", http.StatusOK},
		{"disconnected", connection.StateDisconnected, nil, nil, "unhealthy", http.StatusServiceUnavailable},
		{"database down", connection.StateConnected, &fakePinger{err: errors.New("refused")}, nil, "unhealthy", http.StatusServiceUnavailable},
		{"database up", connection.StateConnected, &fakePinger{}, nil, "healthy", http.StatusOK},
		{"breaker open", connection.StateConnected, &fakePinger{}, &fakeRecorder{state: gobreaker.StateOpen}, "degraded", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &healthChecker{
				client:   &fakeClient{stats: connection.Stats{State: tt.state}},
				db:       tt.db,
				recorder: tt.rec,
			}
			report, code := h.health(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", report.Status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &healthChecker{
		client: &fakeClient{stats: connection.Stats{
			State:          connection.StateConnected,
			Channels:       2,
			FramesReceived: 7,
		}},
		recorder: &fakeRecorder{stats: recorder.Stats{Inserts: 5}},
		feeds: []feedStatus{
			&fakeFeed{channel: "metrics", updates: 3, last: last},
			&fakeFeed{channel: "alerts", err: errors.New("bad payload")},
		},
		instance: "luanda-1",
	}
	srv := httptest.NewServer(h.routes("/metrics"))
	defer srv.Close()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d", resp.StatusCode)
		}
		var report healthReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if report.Components["realtime"] != "CONNECTED" {
			t.Errorf("components = %v", report.Components)
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/status")
		if err != nil {
			t.Fatalf("GET /status: %v", err)
		}
		defer resp.Body.Close()
		var report statusReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if report.Instance != "luanda-1" || report.Client.FramesReceived != 7 {
			t.Errorf("report = %+v", report)
		}
		if len(report.Feeds) != 2 {
			t.Fatalf("feeds = %d, want 2", len(report.Feeds))
		}
		if report.Feeds[0].LastUpdate == nil || !report.Feeds[0].LastUpdate.Equal(last) {
			t.Errorf("metrics feed = %+v", report.Feeds[0])
		}
		if report.Feeds[1].LastUpdate != nil || report.Feeds[1].Error != "bad payload" {
			t.Errorf("alerts feed = %+v", report.Feeds[1])
		}
		if report.Recorder == nil || report.Recorder.Inserts != 5 || report.Recorder.Breaker != "closed" {
			t.Errorf("recorder = %+v", report.Recorder)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d", resp.StatusCode)
		}
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %s, want JSON record", out)
	}

	buf.Reset()
	logger, err = newLogger(&buf, config.LogConfig{Level: "error", Format: "text"}, true)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Debug("traced")
	if !strings.Contains(buf.String(), "msg=traced") {
		t.Errorf("verbose should log debug, got %q", buf.String())
	}

	if _, err := newLogger(&buf, config.LogConfig{Level: "info", Format: "xml"}, false); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := newLogger(&buf, config.LogConfig{Level: "loud"}, false); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	data := `
instance:
  id: test
client:
  url: ws://localhost:8787
channels: [metrics, alerts]
recorder:
  enabled: false
  channels: [alerts]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, nil)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Client.URL != "ws://localhost:8787" || len(cfg.Channels) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg, err = loadConfig(path, []string{"ocean-data"})
	if err != nil {
		t.Fatalf("loadConfig with override failed: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "ocean-data" {
		t.Errorf("channels = %v, want [ocean-data]", cfg.Channels)
	}
	if len(cfg.Recorder.Channels) != 0 {
		t.Errorf("recorder channels = %v, want reset", cfg.Recorder.Channels)
	}

	if _, err := loadConfig(path, []string{"a", "a"}); err == nil {
		t.Error("expected validation error for duplicate channels")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("channels: [alerts, alerts]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(bad, nil); err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("loadConfig(bad) error = %v, want validation error", err)
	}
	if _, err := loadConfig(bad, []string{"alerts"}); err != nil {
		t.Errorf("override should replace invalid channels: %v", err)
	}

	cfg, err = loadConfig("", nil)
	if err != nil {
		t.Fatalf("loadConfig defaults failed: %v", err)
	}
	if cfg.Client.URL != config.DefaultURL {
		t.Errorf("URL = %s, want default", cfg.Client.URL)
	}
}

func TestRecorderConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Instance.ID = "benguela"
	cfg.Recorder.BatchSize = 50

	rc := recorderConfig(cfg)
	if rc.Source != "benguela" || rc.BatchSize != 50 {
		t.Errorf("recorderConfig = %+v", rc)
	}
	if rc.FlushInterval != cfg.Recorder.FlushInterval {
		t.Errorf("FlushInterval = %v, want %v", rc.FlushInterval, cfg.Recorder.FlushInterval)
	}
}
