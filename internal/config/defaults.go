package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "realtime"
	DefaultURL                  = "wss://bgapp-ws.majearcasa.workers.dev"
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultMaxQueueSize         = 10000
	DefaultQueueOverflow        = "drop_oldest"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// DefaultChannels are followed when the config names none.
var DefaultChannels = []string{"metrics", "alerts", "ocean-data", "biodiversity"}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultURL
	}
	if c.Client.Reconnect == nil {
		c.Client.Reconnect = boolPtr(true)
	}
	if c.Client.ReconnectInterval == 0 {
		c.Client.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = DefaultWriteTimeout
	}
	if c.Client.MaxQueueSize == 0 {
		c.Client.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.Client.QueueOverflow == "" {
		c.Client.QueueOverflow = DefaultQueueOverflow
	}
	if c.Client.ResubscribeOnReconnect == nil {
		c.Client.ResubscribeOnReconnect = boolPtr(true)
	}

	if len(c.Channels) == 0 {
		c.Channels = append([]string(nil), DefaultChannels...)
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func boolPtr(b bool) *bool {
	return &b
}
