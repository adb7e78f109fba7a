package recorder

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/bgapp/marine-realtime/internal/message"
)

// Record is one channel frame queued for insertion.
type Record struct {
	ID         string
	Channel    string
	Timestamp  time.Time
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// FromMessage builds a Record from an inbound frame. Frames without an id get
// a fresh UUID; frames without a parseable timestamp use receivedAt.
func FromMessage(m message.Message, receivedAt time.Time) Record {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := m.Time()
	if ts.IsZero() {
		ts = receivedAt
	}
	payload := m.Data
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Record{
		ID:         id,
		Channel:    m.Channel,
		Timestamp:  ts.UTC(),
		ReceivedAt: receivedAt,
		Payload:    payload,
	}
}

// messageRow is a Record in the column order of channel_messages.
type messageRow struct {
	ID         string
	Channel    string
	Ts         time.Time
	ReceivedAt int64 // µs since epoch
	Source     string
	Payload    []byte
}
