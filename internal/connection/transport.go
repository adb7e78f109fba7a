package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bgapp/marine-realtime/internal/version"
)

// Conn is one open WebSocket session as seen by the Client.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives. When the session
	// ends it returns a *CloseError describing how.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close sends a close frame with code and reason, then releases the socket.
	Close(code int, reason string) error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, url string, protocols []string) (Conn, error)
}

// CloseError reports how a session ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: code %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: code %d (%s)", e.Code, e.Reason)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Dial opens a session to url offering protocols as sub-protocols.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     protocols,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, translateReadError(err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage, closePayload(code, reason), deadline)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closePayload builds a close frame body. Codes that must never appear on
// the wire (1005, 1006, 1015) produce an empty body.
func closePayload(code int, reason string) []byte {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return []byte{}
	}
	return websocket.FormatCloseMessage(code, reason)
}

// translateReadError maps a gorilla read error to a *CloseError. Anything
// that is not a close frame counts as an abnormal closure.
func translateReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &CloseError{Code: CloseAbnormalClosure, Reason: err.Error()}
}
