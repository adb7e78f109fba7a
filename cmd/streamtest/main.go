// streamtest connects to the BGAPP real-time server and prints frames from
// the given channels to the console.
// Usage: go run ./cmd/streamtest --channel metrics --channel alerts
//
// The endpoint comes from --url, or from the client section of --config.
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

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/bgapp/marine-realtime/internal/config"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/message"
	"github.com/bgapp/marine-realtime/internal/model"
	"github.com/bgapp/marine-realtime/internal/outbox"
)

func main() {
	var (
		configPath string
		url        string
		channels   []string
		verbose    bool
		statsEvery time.Duration
	)
	flagSet := pflag.NewFlagSet("streamtest", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (optional)")
	flagSet.StringVar(&url, "url", "", "server URL (overrides config)")
	flagSet.StringSliceVar(&channels, "channel", nil, "channel to print (repeatable, defaults to config channels)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print full frame JSON and trace the client")
	flagSet.DurationVar(&statsEvery, "stats", 10*time.Second, "stats interval (0 disables)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadWithDefaults(configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if url != "" {
		cfg.Client.URL = url
	}
	if len(channels) > 0 {
		cfg.Channels = channels
	}
	cfg.Client.Debug = verbose

	connCfg, err := cfg.Client.ConnectionConfig()
	if err != nil {
		logger.Error("invalid client config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := connection.NewClient(connCfg, logger)

	frames := outbox.NewBuffer[message.Message](1024)
	for _, ch := range cfg.Channels {
		client.Subscribe(ch, func(json.RawMessage) error { return nil })
	}
	client.On(connection.EventMessage, func(ev connection.Event) {
		frames.Push(ev.Message)
	})
	client.On(connection.EventConnected, func(connection.Event) {
		logger.Info("connected", "url", connCfg.URL)
	})
	client.On(connection.EventDisconnected, func(ev connection.Event) {
		logger.Warn("disconnected", "code", ev.Code, "reason", ev.Reason)
	})
	client.On(connection.EventParseError, func(ev connection.Event) {
		logger.Warn("unparseable frame", "error", ev.Err, "raw", string(ev.Raw))
	})
	client.On(connection.EventMaxReconnectAttempts, func(ev connection.Event) {
		logger.Error("reconnect attempts exhausted", "attempts", ev.Attempts)
		stop()
	})

	logger.Info("connecting", "url", connCfg.URL, "channels", cfg.Channels)
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printFrames(frames, verbose)
	}()

	if statsEvery > 0 {
		go printStats(ctx, client, frames, statsEvery, logger)
	}

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down...")
	client.Disconnect()
	frames.Close()
	<-done
	logger.Info("shutdown complete")
}

// printFrames prints until frames is closed and drained.
func printFrames(frames *outbox.Buffer[message.Message], verbose bool) {
	for {
		m, ok := frames.Receive()
		if !ok {
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(m, "", "  ")
			fmt.Printf("[%s] %s\n", m.Type, data)
			continue
		}
		fmt.Println(summarize(m))
	}
}

// summarize renders one line per frame, decoding the well-known channels.
func summarize(m message.Message) string {
	if m.Type != message.TypeMessage && m.Type != message.TypeNotification {
		return fmt.Sprintf("[%s] channel=%s data=%s", m.Type, m.Channel, m.Data)
	}

	switch m.Channel {
	case model.ChannelMetrics:
		var v model.SystemMetrics
		if json.Unmarshal(m.Data, &v) == nil {
			return fmt.Sprintf("[METRICS] cpu=%.1f%% mem=%.1f%% requests=%d error_rate=%.2f%% latency=%.0fms",
				v.CPU, v.Memory, v.Requests, v.ErrorRate()*100, v.Latency)
		}
	case model.ChannelAlerts:
		var v model.Alert
		if json.Unmarshal(m.Data, &v) == nil {
			return fmt.Sprintf("[ALERT %s] %s: %s", v.Type, v.Title, v.Message)
		}
	case model.ChannelOceanData:
		var v model.OceanReading
		if json.Unmarshal(m.Data, &v) == nil {
			return fmt.Sprintf("[OCEAN] temp=%.1fC salinity=%.1f ph=%.2f o2=%.1f at (%.3f, %.3f)",
				v.Temperature, v.Salinity, v.PH, v.Oxygen, v.Coordinates.Lat, v.Coordinates.Lng)
		}
	case model.ChannelBiodiversity:
		var v model.BiodiversityReport
		if json.Unmarshal(m.Data, &v) == nil {
			return fmt.Sprintf("[BIODIVERSITY] species=%d detections=%d individuals=%d index=%.2f threat=%s",
				v.TotalSpecies, len(v.SpeciesDetected), v.Individuals(), v.DiversityIndex, v.ThreatLevel)
		}
	}
	return fmt.Sprintf("[%s] %s", m.Channel, m.Data)
}

func printStats(ctx context.Context, client *connection.Client, frames *outbox.Buffer[message.Message], every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := client.Stats()
			logger.Info("stats",
				"state", s.State.String(),
				"channels", s.Channels,
				"frames", s.FramesReceived,
				"sent", s.MessagesSent,
				"parse_errors", s.ParseErrors,
				"print_backlog", frames.Len(),
			)
		}
	}
}
