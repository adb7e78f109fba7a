// Package connection implements the real-time client.
//
// A Client:
//   - Owns one WebSocket session at a time and replaces it on reconnect
//   - Reconnects with backoff (interval * 1.5^(attempt-1)) up to a limit
//   - Sends a JSON ping every heartbeat interval while connected
//   - Queues outbound messages while disconnected and flushes them in order
//   - Routes inbound channel frames through a channel.Mux
//   - Reports lifecycle changes through typed events (see EventKind)
//
// Registry replaces a process-wide singleton: it shares one Client per endpoint.
package connection
