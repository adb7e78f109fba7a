package recorder

import "time"

// Config holds the recorder settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int

	// Source is stored with every row to tell instances apart.
	Source string

	// BreakerFailures consecutive failed flushes open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the default recorder settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		FlushInterval:   time.Second,
		BufferSize:      10000,
		Source:          "realtime",
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Source == "" {
		c.Source = d.Source
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}
