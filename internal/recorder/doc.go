// Package recorder persists channel frames into TimescaleDB.
//
// A Tap listens on a connection.Client for data frames on selected channels
// and pushes them as Records into the Recorder's input buffer. The Recorder
// batches records and inserts them into channel_messages with
// ON CONFLICT (id) DO NOTHING, flushing when the batch is full or on a timer.
// Inserts go through a circuit breaker so an unavailable database fails fast
// instead of stalling every flush.
package recorder
