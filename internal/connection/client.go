package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bgapp/marine-realtime/internal/channel"
	"github.com/bgapp/marine-realtime/internal/message"
	"github.com/bgapp/marine-realtime/internal/metrics"
	"github.com/bgapp/marine-realtime/internal/outbox"
)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithScheduler replaces the timer source used for reconnects and heartbeats.
func WithScheduler(s Scheduler) Option {
	return func(c *Client) { c.sched = s }
}

// WithClock replaces time.Now for message timestamps and pong tracking.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// session is one open transport. It is replaced, never reused, on reconnect.
type session struct {
	id   uint64
	conn Conn

	// announced holds the channels a subscribe frame was written for on this session.
	announced map[string]bool
}

// dialAttempt lets concurrent Connect calls share one in-flight dial.
type dialAttempt struct {
	done chan struct{}
	err  error
}

// Client is a reconnecting WebSocket client with channel multiplexing and an
// outbound queue. All state is guarded by mu; listeners and channel handlers
// run without it held.
type Client struct {
	cfg    Config
	dialer Dialer
	sched  Scheduler
	now    func() time.Time
	logger *slog.Logger

	mux         *channel.Mux
	events      *emitter
	queue       *outbox.Queue
	overflowLog rate.Sometimes

	mu             sync.Mutex
	state          State
	sess           *session
	dialing        *dialAttempt
	gen            uint64 // bumped by Disconnect
	sessionSeq     uint64
	reconnectSeq   uint64
	attempts       int
	closedByUser   bool
	reconnectTimer Timer
	heartbeatTimer Timer
	lastPong       time.Time

	framesReceived atomic.Int64
	messagesSent   atomic.Int64
	messagesQueued atomic.Int64
	queueDropped   atomic.Int64
	parseErrors    atomic.Int64
	handlerErrors  atomic.Int64
}

// NewClient creates a disconnected client. Call Connect to open the session.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("url", cfg.URL)

	c := &Client{
		cfg:         cfg,
		sched:       SystemScheduler{},
		now:         time.Now,
		logger:      logger,
		events:      newEmitter(logger),
		queue:       outbox.NewQueue(cfg.MaxQueueSize, cfg.QueueOverflow),
		overflowLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &WebSocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		}
	}
	c.mux = channel.NewMux(channel.Config{OnHandlerError: c.onHandlerError}, c, logger)

	metrics.ConnectionState.WithLabelValues(cfg.URL).Set(float64(StateDisconnected))
	return c
}

// Connect opens the session. It is idempotent: when already connected it
// returns nil, and while a dial is in flight it waits for that dial's result.
//
// On success the attempt counter resets, the heartbeat starts, the outbound
// queue is flushed and active channels are re-announced before the connected
// event fires. A failed dial is returned to the caller; it only enters the
// reconnect loop when ReconnectOnDialFailure is set or a reconnect was
// already pending.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false, 0, 0)
}

func (c *Client) connect(ctx context.Context, fromTimer bool, gen, seq uint64) error {
	c.mu.Lock()
	if c.cfg.URL == "" {
		c.mu.Unlock()
		return ErrNoURL
	}

	retry := c.cfg.ReconnectOnDialFailure
	if fromTimer {
		if gen != c.gen || seq != c.reconnectSeq || c.closedByUser || c.state != StateReconnectScheduled {
			c.mu.Unlock()
			return ErrClosed
		}
		c.reconnectTimer = nil
		retry = true
	} else {
		c.closedByUser = false
	}

	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	if d := c.dialing; d != nil {
		c.mu.Unlock()
		select {
		case <-d.done:
			return d.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.state == StateReconnectScheduled {
		// An explicit Connect pre-empts the pending attempt and stays in the loop.
		c.stopReconnectTimerLocked()
		retry = true
	}

	d := &dialAttempt{done: make(chan struct{})}
	c.dialing = d
	c.setStateLocked(StateConnecting)
	gen = c.gen
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Debug("dialing websocket", "attempt", attempt)
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, c.cfg.Protocols)

	c.mu.Lock()
	if c.dialing == d {
		c.dialing = nil
	}
	stale := gen != c.gen || c.closedByUser

	if err != nil {
		metrics.TransportErrors.WithLabelValues("dial").Inc()
		c.logger.Warn("websocket dial failed", "attempt", attempt, "error", err)

		events := []Event{{Kind: EventError, Err: err}}
		if !stale {
			if retry && c.cfg.Reconnect {
				events = append(events, c.scheduleReconnectLocked()...)
			} else {
				c.setStateLocked(StateDisconnected)
			}
		}
		c.mu.Unlock()

		d.err = err
		close(d.done)
		c.emitAll(events)
		return err
	}

	if stale {
		c.mu.Unlock()
		conn.Close(CloseNormalClosure, DisconnectReason)
		d.err = ErrClosed
		close(d.done)
		return ErrClosed
	}

	c.sessionSeq++
	s := &session{id: c.sessionSeq, conn: conn, announced: make(map[string]bool)}
	c.sess = s
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.startHeartbeatLocked(s)

	events := c.flushLocked(s)
	if c.cfg.ResubscribeOnReconnect {
		events = append(events, c.resubscribeLocked(s)...)
	}
	c.mu.Unlock()

	close(d.done)
	c.logger.Info("websocket connected", "session", s.id)
	c.emitAll(events)
	c.events.emit(Event{Kind: EventConnected})

	go c.readLoop(s)
	return nil
}

// Disconnect closes the session with code 1000 and cancels the heartbeat
// and any pending reconnect. No reconnect follows until Connect is called.
// A disconnected event is emitted on every call, including when no session
// was open, such as while a reconnect is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closedByUser = true
	c.gen++
	c.stopReconnectTimerLocked()
	c.stopHeartbeatLocked()
	c.dialing = nil

	s := c.sess
	c.sess = nil
	if s != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	gen := c.gen
	c.mu.Unlock()

	if s != nil {
		if err := s.conn.Close(CloseNormalClosure, DisconnectReason); err != nil {
			c.logger.Debug("close failed", "session", s.id, "error", err)
		}

		c.mu.Lock()
		if c.gen == gen {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()

		c.logger.Info("websocket disconnected", "session", s.id)
	}

	c.events.emit(Event{
		Kind:   EventDisconnected,
		Code:   CloseNormalClosure,
		Reason: DisconnectReason,
	})
}

// Reconnect drops the current session and dials a fresh one with the
// attempt counter cleared.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	return c.Connect(ctx)
}

// Send stamps msg with an id and timestamp and writes it. While disconnected,
// or while older messages are still queued, it is appended to the outbound
// queue instead. A message whose direct write fails stays at the head of the
// queue. Only the reject-new overflow policy makes Send fail on a full queue.
func (c *Client) Send(msg message.Message) error {
	events, err := c.send(msg)
	c.emitAll(events)
	return err
}

// SendControl queues or writes a subscription control message and defers
// event delivery to the returned func, which the mux runs after releasing
// its locks.
func (c *Client) SendControl(msg message.Message) (func(), error) {
	events, err := c.send(msg)
	if len(events) == 0 {
		return nil, err
	}
	return func() { c.emitAll(events) }, err
}

// send does the work of Send and returns the events to emit once no locks
// are held.
func (c *Client) send(msg message.Message) ([]Event, error) {
	msg = message.Stamp(msg, c.now())
	if _, err := message.Encode(msg); err != nil {
		return nil, err
	}

	c.mu.Lock()
	var events []Event

	if s := c.sess; s != nil && c.queue.Len() == 0 {
		err := c.writeLocked(s, msg)
		if err == nil {
			c.mu.Unlock()
			return nil, nil
		}
		c.logger.Warn("send failed, queueing", "type", msg.Type, "channel", msg.Channel, "error", err)
		events = append(events, Event{Kind: EventError, Err: err})
		c.queue.PushFront(msg)
		c.messagesQueued.Add(1)
		metrics.MessagesQueued.Inc()
	} else {
		evicted, dropped, err := c.queue.Push(msg)
		if err != nil {
			c.queueDropped.Add(1)
			metrics.QueueDropped.WithLabelValues(c.queue.Policy().String()).Inc()
			c.mu.Unlock()
			c.overflowLog.Do(func() {
				c.logger.Warn("outbound queue full, rejecting message",
					"max_size", c.queue.MaxSize(),
					"dropped_total", c.queueDropped.Load(),
				)
			})
			return nil, err
		}
		c.messagesQueued.Add(1)
		metrics.MessagesQueued.Inc()

		if dropped {
			c.queueDropped.Add(1)
			metrics.QueueDropped.WithLabelValues(c.queue.Policy().String()).Inc()
			c.overflowLog.Do(func() {
				c.logger.Warn("outbound queue full, dropping oldest message",
					"max_size", c.queue.MaxSize(),
					"dropped_total", c.queueDropped.Load(),
				)
			})
			events = append(events, Event{Kind: EventQueueOverflow, Message: evicted, Err: outbox.ErrQueueFull})
		}

		if s != nil {
			events = append(events, c.flushLocked(s)...)
		}
	}

	metrics.QueueDepth.WithLabelValues(c.cfg.URL).Set(float64(c.queue.Len()))
	c.mu.Unlock()

	return events, nil
}

// Subscribe registers fn for channel. See channel.Mux.Subscribe.
func (c *Client) Subscribe(ch string, fn channel.HandlerFunc) func() {
	return c.mux.Subscribe(ch, fn)
}

// SubscribeHandler registers h for ch. See channel.Mux.SubscribeHandler.
func (c *Client) SubscribeHandler(ch string, h *channel.Handler) func() {
	return c.mux.SubscribeHandler(ch, h)
}

// Channels returns the channels with at least one handler.
func (c *Client) Channels() []string {
	return c.mux.Channels()
}

// Mux returns the channel multiplexer.
func (c *Client) Mux() *channel.Mux {
	return c.mux
}

// On registers listener for kind and returns a function that removes it.
func (c *Client) On(kind EventKind, listener Listener) func() {
	return c.events.on(kind, listener)
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of messages waiting for a session.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	state, attempts, lastPong := c.state, c.attempts, c.lastPong
	c.mu.Unlock()

	return Stats{
		State:             state,
		ReconnectAttempts: attempts,
		QueueLen:          c.queue.Len(),
		Channels:          len(c.mux.Channels()),
		FramesReceived:    c.framesReceived.Load(),
		MessagesSent:      c.messagesSent.Load(),
		MessagesQueued:    c.messagesQueued.Load(),
		QueueDropped:      c.queueDropped.Load(),
		ParseErrors:       c.parseErrors.Load(),
		HandlerErrors:     c.handlerErrors.Load(),
		LastPong:          lastPong,
	}
}

// readLoop delivers frames from one session in arrival order until it ends.
func (c *Client) readLoop(s *session) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			c.handleSessionClosed(s, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	c.framesReceived.Add(1)

	msg, err := message.Decode(data)
	if err != nil {
		c.parseErrors.Add(1)
		metrics.ParseErrors.Inc()
		c.logger.Warn("failed to parse frame", "size", len(data), "error", err)
		c.events.emit(Event{Kind: EventParseError, Err: err, Raw: data})
		return
	}

	metrics.RecordFrame(string(msg.Type))
	if c.cfg.Debug {
		c.logger.Debug("frame received", "type", msg.Type, "channel", msg.Channel, "id", msg.ID)
	}

	c.events.emit(Event{Kind: EventMessage, Message: msg})

	if msg.Channel != "" && isDataFrame(msg.Type) {
		c.mux.Dispatch(msg.Channel, msg.Data)
	}

	switch msg.Type {
	case message.TypePong:
		c.mu.Lock()
		c.lastPong = c.now()
		c.mu.Unlock()
		c.events.emit(Event{Kind: EventPong, Message: msg})
	case message.TypeError:
		c.logger.Warn("server error", "channel", msg.Channel, "data", string(msg.Data))
		c.events.emit(Event{Kind: EventServerError, Message: msg})
	case message.TypeNotification:
		c.events.emit(Event{Kind: EventNotification, Message: msg})
	}
}

// isDataFrame reports whether frames of type t carry channel payloads.
// Control frames and server errors are never handed to channel handlers.
func isDataFrame(t message.Type) bool {
	return !t.IsControl() && t != message.TypeError
}

func (c *Client) handleSessionClosed(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		// Disconnect already tore this session down.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.stopHeartbeatLocked()

	code, reason := CloseAbnormalClosure, ""
	var ce *CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Reason
	}

	var events []Event
	if code != CloseNormalClosure {
		metrics.TransportErrors.WithLabelValues("read").Inc()
		events = append(events, Event{Kind: EventError, Err: err})
	}
	events = append(events, Event{Kind: EventDisconnected, Code: code, Reason: reason})

	if !c.closedByUser && c.cfg.Reconnect {
		events = append(events, c.scheduleReconnectLocked()...)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	// Reserved codes such as 1006 never go on the wire.
	s.conn.Close(CloseNormalClosure, "")
	c.logger.Info("websocket closed", "session", s.id, "code", code, "reason", reason)
	c.emitAll(events)
}

// scheduleReconnectLocked arms the next reconnect attempt, or reports that
// the limit is reached.
func (c *Client) scheduleReconnectLocked() []Event {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.setStateLocked(StateDisconnected)
		metrics.ReconnectExhausted.WithLabelValues(c.cfg.URL).Inc()
		c.logger.Error("max reconnect attempts reached", "attempts", c.attempts)
		return []Event{{Kind: EventMaxReconnectAttempts, Attempts: c.attempts}}
	}

	c.attempts++
	c.reconnectSeq++
	delay := Backoff(c.cfg.ReconnectInterval, c.attempts)
	gen, seq := c.gen, c.reconnectSeq

	c.setStateLocked(StateReconnectScheduled)
	c.reconnectTimer = c.sched.AfterFunc(delay, func() {
		c.connect(context.Background(), true, gen, seq)
	})
	metrics.ReconnectAttempts.WithLabelValues(c.cfg.URL).Inc()
	c.logger.Info("scheduling reconnect",
		"attempt", c.attempts,
		"max_attempts", c.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
	return nil
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) startHeartbeatLocked(s *session) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	gen := c.gen
	c.heartbeatTimer = c.sched.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeat(gen, s)
	})
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

// heartbeat writes one ping on s and re-arms itself while s is current.
func (c *Client) heartbeat(gen uint64, s *session) {
	c.mu.Lock()
	if gen != c.gen || c.sess != s {
		c.mu.Unlock()
		return
	}

	now := c.now()
	var events []Event
	if err := c.writeLocked(s, message.Stamp(message.Ping(now), now)); err != nil {
		c.logger.Debug("failed to send ping", "session", s.id, "error", err)
		events = append(events, Event{Kind: EventError, Err: err})
	}
	c.startHeartbeatLocked(s)
	c.mu.Unlock()

	c.emitAll(events)
}

// flushLocked writes queued messages in FIFO order. A message is removed
// only after its write succeeds; the first failure stops the flush.
func (c *Client) flushLocked(s *session) []Event {
	var events []Event
	flushed := 0
	for {
		msg, ok := c.queue.Peek()
		if !ok {
			break
		}
		if err := c.writeLocked(s, msg); err != nil {
			c.logger.Warn("flush interrupted", "remaining", c.queue.Len(), "error", err)
			events = append(events, Event{Kind: EventError, Err: err})
			break
		}
		c.queue.Pop()
		flushed++
	}
	if flushed > 0 {
		c.logger.Debug("flushed outbound queue", "session", s.id, "count", flushed)
	}
	metrics.QueueDepth.WithLabelValues(c.cfg.URL).Set(float64(c.queue.Len()))
	return events
}

// resubscribeLocked announces every active channel the flush did not already
// announce on s.
func (c *Client) resubscribeLocked(s *session) []Event {
	var events []Event
	for _, ch := range c.mux.Channels() {
		if s.announced[ch] {
			continue
		}
		if err := c.writeLocked(s, message.Stamp(message.Subscribe(ch), c.now())); err != nil {
			c.logger.Warn("resubscribe failed", "channel", ch, "error", err)
			events = append(events, Event{Kind: EventError, Err: err})
			break
		}
		c.logger.Debug("channel resubscribed", "channel", ch, "session", s.id)
	}
	return events
}

// writeLocked encodes and writes one frame on s, tracking which channels
// the session has announced. A subscribe for a channel already announced on
// s is skipped.
func (c *Client) writeLocked(s *session, msg message.Message) error {
	if msg.Type == message.TypeSubscribe && s.announced[msg.Channel] {
		return nil
	}

	data, err := message.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(data); err != nil {
		metrics.TransportErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}

	switch msg.Type {
	case message.TypeSubscribe:
		s.announced[msg.Channel] = true
	case message.TypeUnsubscribe:
		delete(s.announced, msg.Channel)
	}

	c.messagesSent.Add(1)
	metrics.RecordSent(string(msg.Type))
	if c.cfg.Debug {
		c.logger.Debug("frame sent", "type", msg.Type, "channel", msg.Channel, "id", msg.ID)
	}
	return nil
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	metrics.ConnectionState.WithLabelValues(c.cfg.URL).Set(float64(s))
}

func (c *Client) onHandlerError(ch string, err error) {
	c.handlerErrors.Add(1)
	metrics.HandlerErrors.WithLabelValues(ch).Inc()
}

func (c *Client) emitAll(events []Event) {
	for _, ev := range events {
		c.events.emit(ev)
	}
}
