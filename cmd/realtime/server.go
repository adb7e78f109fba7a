package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/bgapp/marine-realtime/internal/config"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/recorder"
	"github.com/bgapp/marine-realtime/internal/version"
)

type clientStatus interface {
	Stats() connection.Stats
	URL() string
}

type pinger interface {
	Ping(ctx context.Context) error
}

type recorderStatus interface {
	Stats() recorder.Stats
	BreakerState() gobreaker.State
}

// healthChecker assembles health and status reports. db and recorder are
// nil when recording is disabled.
type healthChecker struct {
	client   clientStatus
	db       pinger
	recorder recorderStatus
	feeds    []feedStatus
	instance string
}

type healthReport struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// health reports "healthy" while connected, "degraded" while a reconnect is
// pending or the recorder breaker is open, "unhealthy" otherwise.
func (h *healthChecker) health(ctx context.Context) (healthReport, int) {
	report := healthReport{Status: "healthy", Components: make(map[string]any)}
	code := http.StatusOK

	degrade := func() {
		if report.Status == "healthy" {
			report.Status = "degraded"
		}
	}
	fail := func() {
		report.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	state := h.client.Stats().State
	report.Components["realtime"] = state.String()
	switch state {
	case connection.StateConnected:
	case connection.StateConnecting, connection.StateReconnectScheduled:
		degrade()
	default:
		fail()
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			fail()
			report.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			report.Components["timescaledb"] = "connected"
		}
	}

	if h.recorder != nil {
		breaker := h.recorder.BreakerState()
		report.Components["recorder"] = breaker.String()
		if breaker != gobreaker.StateClosed {
			degrade()
		}
	}

	return report, code
}

type feedReport struct {
	Channel    string     `json:"channel"`
	Updates    int64      `json:"updates"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type statusReport struct {
	Instance string               `json:"instance"`
	Version  string               `json:"version"`
	URL      string               `json:"url"`
	Client   clientReport         `json:"client"`
	Feeds    []feedReport         `json:"feeds"`
	Recorder *recorderStatsReport `json:"recorder,omitempty"`
}

type clientReport struct {
	State             string     `json:"state"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	Channels          int        `json:"channels"`
	QueueLen          int        `json:"queue_len"`
	FramesReceived    int64      `json:"frames_received"`
	MessagesSent      int64      `json:"messages_sent"`
	MessagesQueued    int64      `json:"messages_queued"`
	QueueDropped      int64      `json:"queue_dropped"`
	ParseErrors       int64      `json:"parse_errors"`
	HandlerErrors     int64      `json:"handler_errors"`
	LastPong          *time.Time `json:"last_pong,omitempty"`
}

type recorderStatsReport struct {
	Breaker   string `json:"breaker"`
	Received  int64  `json:"received"`
	Inserts   int64  `json:"inserts"`
	Conflicts int64  `json:"conflicts"`
	Failed    int64  `json:"failed"`
	Flushes   int64  `json:"flushes"`
}

func (h *healthChecker) status() statusReport {
	s := h.client.Stats()
	report := statusReport{
		Instance: h.instance,
		Version:  version.String(),
		URL:      h.client.URL(),
		Client: clientReport{
			State:             s.State.String(),
			ReconnectAttempts: s.ReconnectAttempts,
			Channels:          s.Channels,
			QueueLen:          s.QueueLen,
			FramesReceived:    s.FramesReceived,
			MessagesSent:      s.MessagesSent,
			MessagesQueued:    s.MessagesQueued,
			QueueDropped:      s.QueueDropped,
			ParseErrors:       s.ParseErrors,
			HandlerErrors:     s.HandlerErrors,
			LastPong:          timePtr(s.LastPong),
		},
		Feeds: make([]feedReport, 0, len(h.feeds)),
	}

	for _, f := range h.feeds {
		fr := feedReport{
			Channel:    f.Channel(),
			Updates:    f.Updates(),
			LastUpdate: timePtr(f.LastUpdate()),
		}
		if err := f.Err(); err != nil {
			fr.Error = err.Error()
		}
		report.Feeds = append(report.Feeds, fr)
	}

	if h.recorder != nil {
		rs := h.recorder.Stats()
		report.Recorder = &recorderStatsReport{
			Breaker:   h.recorder.BreakerState().String(),
			Received:  rs.Received,
			Inserts:   rs.Inserts,
			Conflicts: rs.Conflicts,
			Failed:    rs.Failed,
			Flushes:   rs.Flushes,
		}
	}
	return report
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// routes mounts /healthz, /status and the Prometheus handler.
func (h *healthChecker) routes(metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report, code := h.health(r.Context())
		writeJSON(w, code, report)
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.status())
	})
	r.Handle(metricsPath, promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func newServer(cfg config.MetricsConfig, h *healthChecker, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.routes(cfg.Path),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// listen runs srv until Shutdown; a clean shutdown is not an error.
func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
