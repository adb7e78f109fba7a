// Command realtime keeps a channel client connected to the BGAPP real-time
// server, tracks the configured channels, optionally records them into
// TimescaleDB, and serves health and Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bgapp/marine-realtime/internal/config"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/database"
	"github.com/bgapp/marine-realtime/internal/recorder"
	"github.com/bgapp/marine-realtime/internal/version"
)

const (
	statusLogInterval = time.Minute
	shutdownTimeout   = 30 * time.Second
)

var errReconnectExhausted = errors.New("reconnect attempts exhausted")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		verbose    bool
		channels   []string
	)

	flagSet := pflag.NewFlagSet("realtime", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/realtime.yaml", "path to config file (empty for built-in defaults)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level and trace client frames")
	flagSet.StringSliceVar(&channels, "channel", nil, "channel to follow (repeatable, overrides config)")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	cfg, err := loadConfig(configPath, channels)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Client.Debug = true
	}

	logger, err := newLogger(os.Stdout, cfg.Log, verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting realtime",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)
	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"url", cfg.Client.URL,
		"channels", cfg.Channels,
		"recorder", cfg.Recorder.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// loadConfig reads path, or starts from the defaults when path is empty, and
// applies the --channel override before validating.
func loadConfig(path string, channels []string) (*config.Config, error) {
	if path != "" && len(channels) == 0 {
		return config.LoadAndValidate(path)
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if len(channels) > 0 {
		cfg.Channels = channels
		cfg.Recorder.Channels = nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connCfg, err := cfg.Client.ConnectionConfig()
	if err != nil {
		return err
	}

	registry := connection.NewRegistry(logger)
	defer registry.Close()

	client, err := registry.Get(connCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	exhausted := make(chan connection.Event, 1)
	client.On(connection.EventMaxReconnectAttempts, func(ev connection.Event) {
		select {
		case exhausted <- ev:
		default:
		}
	})
	client.On(connection.EventDisconnected, func(ev connection.Event) {
		logger.Warn("disconnected from realtime server", "code", ev.Code, "reason", ev.Reason)
	})
	client.On(connection.EventServerError, func(ev connection.Event) {
		logger.Warn("server reported error", "channel", ev.Message.Channel, "data", string(ev.Message.Data))
	})

	var (
		rec  *recorder.Recorder
		pool pinger
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		db, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("connect timescale: %w", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		pool = db

		rec = recorder.New(recorderConfig(cfg), db, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := rec.Stop(stopCtx); err != nil {
				logger.Error("recorder stop failed", "error", err)
			}
		}()
		detach := recorder.Tap(client, rec, cfg.RecordedChannels())
		defer detach()
		logger.Info("recorder attached", "channels", cfg.RecordedChannels())
	}

	// Subscriptions made before the first dial are queued and flushed on open.
	logger.Info("connecting", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	feeds := newFeedSet(client, cfg.Channels, logger)
	if err := feeds.Start(ctx); err != nil {
		return err
	}
	defer feeds.Stop()

	health := &healthChecker{
		client:   client,
		db:       pool,
		feeds:    feeds.statuses(),
		instance: cfg.Instance.ID,
	}
	if rec != nil {
		health.recorder = rec
	}
	server := newServer(cfg.Metrics, health, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", "addr", server.Addr, "path", cfg.Metrics.Path)
		return listen(server)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case ev := <-exhausted:
			logger.Error("giving up on realtime server", "attempts", ev.Attempts)
			return fmt.Errorf("%w after %d attempts", errReconnectExhausted, ev.Attempts)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		logStatus(gctx, client, rec, logger)
		return nil
	})

	logger.Info("realtime running", "instance_id", cfg.Instance.ID)

	err = g.Wait()
	logger.Info("shutting down...")
	client.Disconnect()
	if err != nil {
		return err
	}
	logger.Info("realtime stopped")
	return nil
}

func recorderConfig(cfg *config.Config) recorder.Config {
	rc := recorder.DefaultConfig()
	rc.BatchSize = cfg.Recorder.BatchSize
	rc.FlushInterval = cfg.Recorder.FlushInterval
	rc.BufferSize = cfg.Recorder.BufferSize
	rc.Source = cfg.Instance.ID
	return rc
}

// logStatus periodically logs client and recorder counters.
func logStatus(ctx context.Context, client *connection.Client, rec *recorder.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := client.Stats()
			args := []any{
				"state", s.State.String(),
				"channels", s.Channels,
				"frames", s.FramesReceived,
				"sent", s.MessagesSent,
				"queued", s.QueueLen,
				"dropped", s.QueueDropped,
			}
			if rec != nil {
				rs := rec.Stats()
				args = append(args, "recorded", rs.Inserts, "record_failures", rs.Failed)
			}
			logger.Info("status", args...)
		}
	}
}
