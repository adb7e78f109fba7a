package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/outbox"
)

// ConnectionConfig converts the client section into a connection.Config.
// Call it on a config with defaults applied.
func (cc ClientConfig) ConnectionConfig() (connection.Config, error) {
	policy, err := outbox.ParseOverflowPolicy(cc.QueueOverflow)
	if err != nil {
		return connection.Config{}, fmt.Errorf("client.queue_overflow: %w", err)
	}

	cfg := connection.DefaultConfig()
	cfg.URL = cc.URL
	cfg.Protocols = append([]string(nil), cc.Protocols...)
	if cc.Reconnect != nil {
		cfg.Reconnect = *cc.Reconnect
	}
	if cc.ReconnectInterval > 0 {
		cfg.ReconnectInterval = cc.ReconnectInterval
	}
	if cc.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = cc.MaxReconnectAttempts
	}
	switch {
	case cc.HeartbeatInterval < 0:
		cfg.HeartbeatInterval = 0
	case cc.HeartbeatInterval > 0:
		cfg.HeartbeatInterval = cc.HeartbeatInterval
	}
	cfg.Debug = cc.Debug
	if cc.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = cc.HandshakeTimeout
	}
	if cc.WriteTimeout > 0 {
		cfg.WriteTimeout = cc.WriteTimeout
	}
	switch {
	case cc.MaxQueueSize < 0:
		cfg.MaxQueueSize = 0
	case cc.MaxQueueSize > 0:
		cfg.MaxQueueSize = cc.MaxQueueSize
	}
	cfg.QueueOverflow = policy
	if cc.ResubscribeOnReconnect != nil {
		cfg.ResubscribeOnReconnect = *cc.ResubscribeOnReconnect
	}
	cfg.ReconnectOnDialFailure = cc.ReconnectOnDialFailure

	return cfg, nil
}

// RecordedChannels returns the channels the recorder persists.
func (c *Config) RecordedChannels() []string {
	if len(c.Recorder.Channels) > 0 {
		return append([]string(nil), c.Recorder.Channels...)
	}
	return append([]string(nil), c.Channels...)
}

// SlogLevel parses Level. client.debug is handled by the caller.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
