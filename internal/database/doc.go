// Package database manages the TimescaleDB connection pool used by the
// recorder and owns the channel_messages schema.
package database
