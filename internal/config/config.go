package config

import "time"

// Config is the root configuration of a realtime instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Client   ClientConfig   `yaml:"client"`
	Channels []string       `yaml:"channels"`
	Database DatabaseConfig `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this instance. ID is stored with recorded rows.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ClientConfig holds the WebSocket client settings.
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	Protocols            []string      `yaml:"protocols"`
	Reconnect            *bool         `yaml:"reconnect"`              // Default true
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`     // Base backoff
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Consecutive attempts
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`     // Negative disables
	Debug                bool          `yaml:"debug"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`

	MaxQueueSize  int    `yaml:"max_queue_size"` // Negative means unbounded
	QueueOverflow string `yaml:"queue_overflow"` // drop_oldest or reject_new

	ResubscribeOnReconnect *bool `yaml:"resubscribe_on_reconnect"` // Default true
	ReconnectOnDialFailure bool  `yaml:"reconnect_on_dial_failure"`
}

// DatabaseConfig holds the TimescaleDB connection used by the recorder.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds the channel recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Channels      []string      `yaml:"channels"` // Empty means every configured channel
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
