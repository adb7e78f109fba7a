package connection

import (
	"testing"
)

func TestEmitter_OrderAndOff(t *testing.T) {
	e := newEmitter(nil)
	var calls []string

	e.on(EventConnected, func(Event) { calls = append(calls, "a") })
	off := e.on(EventConnected, func(Event) { calls = append(calls, "b") })
	e.on(EventConnected, func(Event) { calls = append(calls, "c") })

	e.emit(Event{Kind: EventConnected})
	off()
	e.emit(Event{Kind: EventConnected})

	want := []string{"a", "b", "c", "a", "c"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
	if e.count(EventConnected) != 2 {
		t.Errorf("count = %d, want 2", e.count(EventConnected))
	}
}

func TestEmitter_PanicIsolated(t *testing.T) {
	e := newEmitter(nil)
	called := false

	e.on(EventError, func(Event) { panic("listener bug") })
	e.on(EventError, func(Event) { called = true })

	e.emit(Event{Kind: EventError})

	if !called {
		t.Error("second listener not called after first panicked")
	}
}

func TestEmitter_OffDuringEmit(t *testing.T) {
	e := newEmitter(nil)
	var calls int
	var off func()

	off = e.on(EventMessage, func(Event) {
		calls++
		off()
	})
	e.on(EventMessage, func(Event) { calls++ })

	e.emit(Event{Kind: EventMessage})
	e.emit(Event{Kind: EventMessage})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEmitter_UnknownKind(t *testing.T) {
	e := newEmitter(nil)
	e.emit(Event{Kind: EventPong})
	if e.count(EventPong) != 0 {
		t.Error("expected no listeners")
	}
}
