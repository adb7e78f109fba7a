package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bgapp/marine-realtime/internal/message"
)

// fakeTimer is a timer driven by fakeScheduler.
type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler records timers and runs them only when the test fires them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns timers that were neither stopped nor fired.
func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// delays returns the delay of every timer ever scheduled, in order.
func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

// fireNext runs the single pending timer and fails the test otherwise.
func (s *fakeScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	pending := s.pending()
	if len(pending) != 1 {
		t.Fatalf("pending timers = %d, want 1", len(pending))
	}
	timer := pending[0]
	s.mu.Lock()
	timer.fired = true
	s.mu.Unlock()
	timer.f()
	return timer.delay
}

// fakeDialer returns scripted results. A nil entry (or an exhausted script)
// succeeds with a new fakeConn.
type fakeDialer struct {
	mu      sync.Mutex
	results []error
	conns   []*fakeConn
	dials   int
	gate    chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.results) > 0 {
		err = d.results[0]
		d.results = d.results[1:]
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		t.Fatalf("conn %d not dialled (have %d)", i, len(d.conns))
	}
	return d.conns[i]
}

var errWriteFailed = errors.New("write failed")

// fakeConn is an in-memory session.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}

	mu          sync.Mutex
	written     [][]byte
	writeErr    error
	endErr      error
	closeCode   int
	closeReason string
	closeCalls  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.endErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeCode, c.closeReason = code, reason
	}
	c.endLocked(&CloseError{Code: code, Reason: reason})
	return nil
}

// drop ends the session from the server side.
func (c *fakeConn) drop(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(&CloseError{Code: code, Reason: reason})
}

func (c *fakeConn) endLocked(err error) {
	select {
	case <-c.closed:
	default:
		c.endErr = err
		close(c.closed)
	}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) deliver(frame string) {
	c.inbound <- []byte(frame)
}

// frames decodes everything written so far.
func (c *fakeConn) frames(t *testing.T) []message.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, 0, len(c.written))
	for _, data := range c.written {
		m, err := message.Decode(data)
		if err != nil {
			t.Fatalf("written frame %q: %v", data, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) closeInfo() (code int, reason string, calls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closeCalls
}

// eventLog collects events of the given kinds.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(c *Client, kinds ...EventKind) *eventLog {
	log := &eventLog{}
	for _, kind := range kinds {
		c.On(kind, func(ev Event) {
			log.mu.Lock()
			log.events = append(log.events, ev)
			log.mu.Unlock()
		})
	}
	return log
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return Event{}, false
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://realtime.test"
	cfg.ReconnectInterval = 100 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.HeartbeatInterval = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config, results ...error) (*Client, *fakeDialer, *fakeScheduler) {
	t.Helper()
	dialer := &fakeDialer{results: results}
	sched := &fakeScheduler{}
	c := NewClient(cfg, nil, WithDialer(dialer), WithScheduler(sched))
	t.Cleanup(c.Disconnect)
	return c, dialer, sched
}
