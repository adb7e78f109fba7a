// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Real-time connection state, reconnect attempts and transport errors
//   - Inbound frame and outbound message rates by type
//   - Outbound queue depth and overflow drops
//   - Channel handler failures and frame parse errors
//   - Recorder batch sizes, latencies and circuit breaker state
package metrics
