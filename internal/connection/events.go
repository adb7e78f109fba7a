package connection

import (
	"log/slog"
	"sync"

	"github.com/bgapp/marine-realtime/internal/message"
)

// EventKind identifies a client event.
type EventKind string

const (
	EventConnected            EventKind = "connected"
	EventDisconnected         EventKind = "disconnected"
	EventError                EventKind = "error"
	EventMessage              EventKind = "message"
	EventServerError          EventKind = "server-error"
	EventNotification         EventKind = "notification"
	EventMaxReconnectAttempts EventKind = "max-reconnect-attempts"
	EventPong                 EventKind = "pong"
	EventParseError           EventKind = "parse-error"
	EventQueueOverflow        EventKind = "queue-overflow"
)

// Event is delivered to listeners. Which fields are set depends on Kind:
//
//	connected               -
//	disconnected            Code, Reason
//	error                   Err
//	message                 Message (every inbound frame)
//	server-error            Message (type "error"; payload in Message.Data)
//	notification            Message
//	pong                    Message
//	parse-error             Err, Raw
//	max-reconnect-attempts  Attempts
//	queue-overflow          Message (the dropped one), Err
type Event struct {
	Kind     EventKind
	Message  message.Message
	Err      error
	Raw      []byte
	Code     int
	Reason   string
	Attempts int
}

// Listener receives client events.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// emitter is a typed observer list keyed by event kind.
type emitter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventKind][]listenerEntry
}

func newEmitter(logger *slog.Logger) *emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &emitter{
		logger:    logger,
		listeners: make(map[EventKind][]listenerEntry),
	}
}

// on registers fn for kind and returns a function that removes it.
func (e *emitter) on(kind EventKind, fn Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[kind] = append(e.listeners[kind], listenerEntry{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(kind, id) })
	}
}

func (e *emitter) off(kind EventKind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.listeners[kind]
	kept := make([]listenerEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.id != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, kind)
		return
	}
	e.listeners[kind] = kept
}

// emit calls every listener of ev.Kind over a snapshot of the list. A
// panicking listener is logged and skipped.
func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	entries := e.listeners[ev.Kind]
	e.mu.RUnlock()

	for _, entry := range entries {
		e.call(entry.fn, ev)
	}
}

func (e *emitter) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked", "event", ev.Kind, "panic", r)
		}
	}()
	fn(ev)
}

func (e *emitter) count(kind EventKind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[kind])
}
