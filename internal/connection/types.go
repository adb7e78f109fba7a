package connection

import (
	"errors"
	"math"
	"time"

	"github.com/bgapp/marine-realtime/internal/outbox"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client disconnected")
	ErrNoURL        = errors.New("no url configured")
)

// WebSocket close codes used by the client.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
)

// DisconnectReason is sent with the normal closure frame on Disconnect.
const DisconnectReason = "Client disconnecting"

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateReconnectScheduled:
		return "RECONNECT_SCHEDULED"
	}
	return "UNKNOWN"
}

// Config configures a Client.
type Config struct {
	URL       string   // WebSocket URL (e.g., wss://bgapp-ws.majearcasa.workers.dev)
	Protocols []string // Sub-protocols offered during the handshake

	Reconnect            bool          // Reconnect after an unintentional close
	ReconnectInterval    time.Duration // Base backoff; attempt n waits interval * 1.5^(n-1)
	MaxReconnectAttempts int           // Consecutive attempts before giving up
	HeartbeatInterval    time.Duration // Ping period while connected (0 disables)
	Debug                bool          // Log every frame at debug level

	HandshakeTimeout time.Duration // Dial + upgrade timeout
	WriteTimeout     time.Duration // Write deadline for each frame

	MaxQueueSize  int                   // Outbound queue bound (0 = unbounded)
	QueueOverflow outbox.OverflowPolicy // What to do when the bound is hit

	ResubscribeOnReconnect bool // Re-announce active channels on every new session
	ReconnectOnDialFailure bool // Enter the backoff loop when an explicit Connect fails
}

// DefaultConfig returns the defaults of the dashboard client.
func DefaultConfig() Config {
	return Config{
		Reconnect:              true,
		ReconnectInterval:      5 * time.Second,
		MaxReconnectAttempts:   10,
		HeartbeatInterval:      30 * time.Second,
		HandshakeTimeout:       10 * time.Second,
		WriteTimeout:           5 * time.Second,
		MaxQueueSize:           10000,
		QueueOverflow:          outbox.DropOldest,
		ResubscribeOnReconnect: true,
	}
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 1.5^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
}

// Stats is a point-in-time view of a Client.
type Stats struct {
	State             State
	ReconnectAttempts int
	QueueLen          int
	Channels          int
	FramesReceived    int64
	MessagesSent      int64
	MessagesQueued    int64
	QueueDropped      int64
	ParseErrors       int64
	HandlerErrors     int64
	LastPong          time.Time
}
