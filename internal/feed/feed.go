package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/bgapp/marine-realtime/internal/channel"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/message"
)

// Source is the part of connection.Client a feed uses.
type Source interface {
	Connect(ctx context.Context) error
	SubscribeHandler(ch string, h *channel.Handler) func()
	Send(m message.Message) error
	IsConnected() bool
	On(kind connection.EventKind, listener connection.Listener) func()
}

// Config configures a Feed.
type Config[T any] struct {
	Channel string

	// Fallback is returned by Latest until the first payload arrives.
	Fallback *T

	// Connect makes Start dial the source when it is not connected yet.
	Connect bool
}

// Feed holds the most recent value published on one channel.
type Feed[T any] struct {
	cfg    Config[T]
	src    Source
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	latest     T
	hasValue   bool
	lastUpdate time.Time
	connected  bool
	connecting bool
	err        error
	updates    int64

	started     bool
	unsubscribe func()
	offs        []func()

	listenersMu sync.RWMutex
	nextID      int
	listeners   []updateListener[T]
}

type updateListener[T any] struct {
	id int
	fn func(T)
}

// New creates a stopped feed for cfg.Channel.
func New[T any](src Source, cfg Config[T], logger *slog.Logger) *Feed[T] {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed[T]{
		cfg:    cfg,
		src:    src,
		logger: logger.With("channel", cfg.Channel),
		now:    time.Now,
	}
	if cfg.Fallback != nil {
		f.latest = *cfg.Fallback
		f.hasValue = true
	}
	return f
}

// Channel returns the channel name.
func (f *Feed[T]) Channel() string {
	return f.cfg.Channel
}

// Start subscribes to the channel and begins tracking connection events.
// With Config.Connect set it also dials the source; a dial error is recorded
// in Err and returned, but the subscription stays in place so data flows
// once the client reconnects.
func (f *Feed[T]) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.connected = f.src.IsConnected()
	f.mu.Unlock()

	offs := []func(){
		f.src.On(connection.EventConnected, func(connection.Event) {
			f.mu.Lock()
			f.connected = true
			f.err = nil
			f.mu.Unlock()
		}),
		f.src.On(connection.EventDisconnected, func(connection.Event) {
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
		}),
		f.src.On(connection.EventError, func(ev connection.Event) {
			f.setErr(ev.Err)
		}),
	}
	unsubscribe := f.src.SubscribeHandler(f.cfg.Channel, channel.NewHandler(f.handle))

	f.mu.Lock()
	f.offs = offs
	f.unsubscribe = unsubscribe
	f.mu.Unlock()

	if !f.cfg.Connect || f.src.IsConnected() {
		return nil
	}

	f.mu.Lock()
	f.connecting = true
	f.mu.Unlock()

	err := f.src.Connect(ctx)

	f.mu.Lock()
	f.connecting = false
	if err != nil {
		f.err = err
	} else {
		f.connected = true
	}
	f.mu.Unlock()

	if err != nil {
		f.logger.Warn("feed connect failed", "error", err)
		return fmt.Errorf("start feed %s: %w", f.cfg.Channel, err)
	}
	return nil
}

// Stop unsubscribes from the channel. The last value is kept.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	unsubscribe, offs := f.unsubscribe, f.offs
	f.unsubscribe, f.offs = nil, nil
	f.connected = false
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, off := range offs {
		off()
	}
}

// Latest returns the most recent value, or the fallback. ok is false when
// neither exists.
func (f *Feed[T]) Latest() (value T, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.hasValue
}

// LastUpdate returns when the last payload was decoded, zero if none.
func (f *Feed[T]) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

// Connected reports the connection status seen by the feed.
func (f *Feed[T]) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Connecting reports whether Start is dialing.
func (f *Feed[T]) Connecting() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connecting
}

// Err returns the last connection or decode error. A successful connect clears it.
func (f *Feed[T]) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// Updates returns the number of payloads decoded.
func (f *Feed[T]) Updates() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updates
}

// Send publishes v as a message frame on the feed's channel. Nothing is
// queued: when the client is offline it returns connection.ErrNotConnected.
func (f *Feed[T]) Send(v any) error {
	if !f.src.IsConnected() {
		f.logger.Warn("not connected, message not sent")
		return connection.ErrNotConnected
	}
	msg, err := message.New(message.TypeMessage, f.cfg.Channel, v)
	if err != nil {
		return err
	}
	return f.src.Send(msg)
}

// OnUpdate registers fn to be called with every decoded value. The returned
// function removes it.
func (f *Feed[T]) OnUpdate(fn func(T)) func() {
	f.listenersMu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, updateListener[T]{id: id, fn: fn})
	f.listenersMu.Unlock()

	return func() {
		f.listenersMu.Lock()
		defer f.listenersMu.Unlock()
		kept := make([]updateListener[T], 0, len(f.listeners))
		for _, l := range f.listeners {
			if l.id != id {
				kept = append(kept, l)
			}
		}
		f.listeners = kept
	}
}

func (f *Feed[T]) handle(data json.RawMessage) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		err = fmt.Errorf("decode %s payload: %w", f.cfg.Channel, err)
		f.setErr(err)
		return err
	}

	f.mu.Lock()
	f.latest = v
	f.hasValue = true
	f.lastUpdate = f.now()
	f.updates++
	f.mu.Unlock()

	f.listenersMu.RLock()
	listeners := f.listeners
	f.listenersMu.RUnlock()

	for _, l := range listeners {
		l.fn(v)
	}
	return nil
}

func (f *Feed[T]) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
