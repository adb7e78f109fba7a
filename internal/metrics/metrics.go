package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Metrics
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Client state (0=disconnected, 1=connecting, 2=connected, 3=closing, 4=reconnect scheduled)",
		},
		[]string{"url"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		},
		[]string{"url"},
	)

	ReconnectExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_reconnect_exhausted_total",
			Help: "Total number of times the reconnect attempt limit was reached",
		},
		[]string{"url"},
	)

	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_transport_errors_total",
			Help: "Total number of transport errors",
		},
		[]string{"op"}, // "dial", "read", "write"
	)

	// Frame Metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_received_total",
			Help: "Total number of inbound frames by type",
		},
		[]string{"type"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Total number of outbound messages written by type",
		},
		[]string{"type"},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_parse_errors_total",
			Help: "Total number of inbound frames that failed to parse",
		},
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_handler_errors_total",
			Help: "Total number of channel handler failures",
		},
		[]string{"channel"},
	)

	// Outbound Queue Metrics
	MessagesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_queued_total",
			Help: "Total number of messages queued while disconnected",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_queue_depth",
			Help: "Current number of queued outbound messages",
		},
		[]string{"url"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_queue_dropped_total",
			Help: "Total number of outbound messages dropped or rejected by the queue bound",
		},
		[]string{"policy"},
	)

	// Recorder Metrics
	RecorderRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_recorder_rows_total",
			Help: "Total number of channel messages handled by the recorder",
		},
		[]string{"result"}, // "inserted", "conflict", "failed"
	)

	RecorderFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_recorder_flush_duration_seconds",
			Help:    "Duration of recorder batch inserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordFrame counts an inbound frame. Unknown types are folded into "other"
// to keep label cardinality bounded.
func RecordFrame(frameType string) {
	FramesReceived.WithLabelValues(knownType(frameType)).Inc()
}

// RecordSent counts an outbound message written to the transport.
func RecordSent(msgType string) {
	MessagesSent.WithLabelValues(knownType(msgType)).Inc()
}

// RecordRecorderFlush records the outcome of one recorder batch.
func RecordRecorderFlush(inserted, conflicts, failed int, duration time.Duration) {
	RecorderRows.WithLabelValues("inserted").Add(float64(inserted))
	RecorderRows.WithLabelValues("conflict").Add(float64(conflicts))
	RecorderRows.WithLabelValues("failed").Add(float64(failed))
	RecorderFlushDuration.Observe(duration.Seconds())
}

func knownType(t string) string {
	switch t {
	case "subscribe", "unsubscribe", "ping", "pong", "message", "notification", "error":
		return t
	}
	return "other"
}
