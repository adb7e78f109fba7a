package channel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/bgapp/marine-realtime/internal/message"
)

// HandlerFunc receives the data payload of a frame published on a channel.
type HandlerFunc func(data json.RawMessage) error

// Handler is a subscription token. Its pointer identity is what makes a
// registration unique: subscribing the same *Handler to a channel twice has
// no additional effect.
type Handler struct {
	fn HandlerFunc
}

// NewHandler wraps fn in a token that can be subscribed to one or more channels.
func NewHandler(fn HandlerFunc) *Handler {
	return &Handler{fn: fn}
}

// ControlSender transmits subscribe/unsubscribe control messages.
// The connection client implements it.
//
// SendControl writes or queues m and returns a follow-up, possibly nil, that
// the Mux runs once it has released its own locks. Anything that may call
// back into the Mux, such as event listeners, belongs in the follow-up.
type ControlSender interface {
	SendControl(m message.Message) (after func(), err error)
}

// Config configures a Mux.
type Config struct {
	// OnHandlerError is called for every handler that returns an error or panics.
	OnHandlerError func(channel string, err error)
}

// Mux maps channel names to handler sets and dispatches inbound payloads.
// A channel is present exactly while it has at least one handler.
type Mux struct {
	cfg    Config
	sender ControlSender
	logger *slog.Logger

	// ctrlMu serialises table changes together with the control message they
	// produce, so subscribe/unsubscribe frames leave in table order.
	ctrlMu sync.Mutex

	mu       sync.RWMutex
	channels map[string][]*Handler
}

// NewMux creates a multiplexer that announces channel changes through sender.
func NewMux(cfg Config, sender ControlSender, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		cfg:      cfg,
		sender:   sender,
		logger:   logger,
		channels: make(map[string][]*Handler),
	}
}

// Subscribe registers fn under channel and returns a function that removes
// this registration. Every call creates a distinct registration.
func (m *Mux) Subscribe(channel string, fn HandlerFunc) func() {
	return m.SubscribeHandler(channel, NewHandler(fn))
}

// SubscribeHandler registers h under channel. The first handler on a channel
// triggers a subscribe control message. The returned function removes h; the
// last removal triggers an unsubscribe. Calling it again is a no-op.
func (m *Mux) SubscribeHandler(channel string, h *Handler) func() {
	m.ctrlMu.Lock()
	m.mu.Lock()
	handlers, exists := m.channels[channel]
	if !containsHandler(handlers, h) {
		m.channels[channel] = append(handlers, h)
	}
	m.mu.Unlock()

	var after func()
	if !exists {
		m.logger.Debug("channel subscribed", "channel", channel)
		after = m.sendControl(message.Subscribe(channel))
	}
	m.ctrlMu.Unlock()
	runAfter(after)

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(channel, h) })
	}
}

// remove deletes h from channel, dropping the channel when it empties.
func (m *Mux) remove(channel string, h *Handler) {
	m.ctrlMu.Lock()
	after := m.removeLocked(channel, h)
	m.ctrlMu.Unlock()
	runAfter(after)
}

func (m *Mux) removeLocked(channel string, h *Handler) func() {
	m.mu.Lock()
	handlers, ok := m.channels[channel]
	if !ok || !containsHandler(handlers, h) {
		m.mu.Unlock()
		return nil
	}

	// Build a new slice so snapshots held by an in-flight Dispatch stay intact.
	kept := make([]*Handler, 0, len(handlers)-1)
	for _, existing := range handlers {
		if existing != h {
			kept = append(kept, existing)
		}
	}

	last := len(kept) == 0
	if last {
		delete(m.channels, channel)
	} else {
		m.channels[channel] = kept
	}
	m.mu.Unlock()

	if !last {
		return nil
	}
	m.logger.Debug("channel unsubscribed", "channel", channel)
	return m.sendControl(message.Unsubscribe(channel))
}

// Dispatch invokes every handler registered for channel, in registration
// order, with data. A failing or panicking handler does not stop the others.
// Handlers may subscribe or unsubscribe while being dispatched to; the set
// used is the one registered when Dispatch started.
func (m *Mux) Dispatch(channel string, data json.RawMessage) (delivered, failed int) {
	m.mu.RLock()
	handlers := m.channels[channel]
	m.mu.RUnlock()

	for _, h := range handlers {
		delivered++
		if err := m.invoke(h, data); err != nil {
			failed++
			m.logger.Error("channel handler failed", "channel", channel, "error", err)
			if m.cfg.OnHandlerError != nil {
				m.cfg.OnHandlerError(channel, err)
			}
		}
	}
	return delivered, failed
}

func (m *Mux) invoke(h *Handler, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.fn(data)
}

// Channels returns the names of all channels with at least one handler, sorted.
func (m *Mux) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether channel has at least one handler.
func (m *Mux) Has(channel string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.channels[channel]
	return ok
}

// HandlerCount returns the number of handlers registered for channel.
func (m *Mux) HandlerCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channel])
}

// sendControl runs with ctrlMu held; the returned follow-up must run after
// it is released.
func (m *Mux) sendControl(msg message.Message) func() {
	if m.sender == nil {
		return nil
	}
	after, err := m.sender.SendControl(msg)
	if err != nil {
		m.logger.Warn("failed to send control message",
			"type", msg.Type,
			"channel", msg.Channel,
			"error", err,
		)
	}
	return after
}

func runAfter(f func()) {
	if f != nil {
		f()
	}
}

func containsHandler(handlers []*Handler, h *Handler) bool {
	for _, existing := range handlers {
		if existing == h {
			return true
		}
	}
	return false
}
