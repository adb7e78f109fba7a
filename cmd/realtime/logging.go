package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bgapp/marine-realtime/internal/config"
)

// newLogger builds the process logger from the log section. verbose forces
// debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
}
