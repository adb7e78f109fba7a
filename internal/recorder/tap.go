package recorder

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/bgapp/marine-realtime/internal/channel"
	"github.com/bgapp/marine-realtime/internal/connection"
	"github.com/bgapp/marine-realtime/internal/message"
)

// Source is the part of connection.Client the tap listens on.
type Source interface {
	SubscribeHandler(ch string, h *channel.Handler) func()
	On(kind connection.EventKind, listener connection.Listener) func()
}

// Tap records data frames arriving on channels into r. It subscribes each
// channel so the server keeps publishing it, and returns a function that
// detaches everything.
func Tap(src Source, r *Recorder, channels []string) func() {
	return tap(src, r, channels, time.Now)
}

func tap(src Source, r *Recorder, channels []string, now func() time.Time) func() {
	wanted := make(map[string]bool, len(channels))
	for _, ch := range channels {
		wanted[ch] = true
	}

	offs := make([]func(), 0, len(wanted)+1)
	offs = append(offs, src.On(connection.EventMessage, func(ev connection.Event) {
		m := ev.Message
		if !wanted[m.Channel] || !recordable(m.Type) {
			return
		}
		r.Add(FromMessage(m, now()))
	}))

	for ch := range wanted {
		// Frames are taken from the message event; the handler only holds
		// the subscription.
		offs = append(offs, src.SubscribeHandler(ch, channel.NewHandler(func(json.RawMessage) error {
			return nil
		})))
	}

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func recordable(t message.Type) bool {
	return t == message.TypeMessage || t == message.TypeNotification
}
