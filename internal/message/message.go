package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TimestampLayout is the ISO-8601 layout used for the timestamp field
// (millisecond precision, UTC with a trailing Z).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidMessage is returned when an inbound frame is not a JSON object.
var ErrInvalidMessage = errors.New("invalid message")

// Type is the wire tag carried in the "type" field.
type Type string

const (
	TypeSubscribe    Type = "subscribe"
	TypeUnsubscribe  Type = "unsubscribe"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeMessage      Type = "message"
	TypeNotification Type = "notification"
	TypeError        Type = "error"
)

// IsControl reports whether t is a protocol-level frame rather than application data.
func (t Type) IsControl() bool {
	switch t {
	case TypeSubscribe, TypeUnsubscribe, TypePing, TypePong:
		return true
	}
	return false
}

// Message is the JSON frame exchanged with the real-time server.
type Message struct {
	Type      Type            `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// New builds a message whose data field is the JSON encoding of v.
func New(typ Type, channel string, v any) (Message, error) {
	data, err := marshalData(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s data: %w", typ, err)
	}
	return Message{Type: typ, Channel: channel, Data: data}, nil
}

// Subscribe returns the control message announcing interest in channel.
func Subscribe(channel string) Message {
	return Message{Type: TypeSubscribe, Channel: channel, Data: emptyObject()}
}

// Unsubscribe returns the control message withdrawing interest in channel.
func Unsubscribe(channel string) Message {
	return Message{Type: TypeUnsubscribe, Channel: channel, Data: emptyObject()}
}

// Ping returns a heartbeat frame carrying the send time in Unix milliseconds.
func Ping(now time.Time) Message {
	data, _ := json.Marshal(struct {
		Timestamp int64 `json:"timestamp"`
	}{Timestamp: now.UnixMilli()})
	return Message{Type: TypePing, Data: data}
}

// Stamp fills in a missing id and timestamp. Existing values are kept.
func Stamp(m Message, now time.Time) Message {
	if m.Timestamp == "" {
		m.Timestamp = now.UTC().Format(TimestampLayout)
	}
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Data == nil {
		m.Data = json.RawMessage("null")
	}
	return m
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// Encode serializes m for the wire.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return json.Marshal(m)
}

// Decode parses an inbound frame. Frames with an unknown or empty type are
// still returned; only malformed JSON is rejected.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// DecodeData unmarshals the data field of m into v.
func DecodeData(m Message, v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidMessage)
	}
	return json.Unmarshal(m.Data, v)
}

// Time parses the timestamp field. The zero time is returned when it is absent
// or not in a recognised ISO-8601 form.
func (m Message) Time() time.Time {
	if m.Timestamp == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		return t
	}
	return time.Time{}
}

func marshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return emptyObject(), nil
	case json.RawMessage:
		return d, nil
	case []byte:
		if !json.Valid(d) {
			return nil, fmt.Errorf("%w: data is not valid JSON", ErrInvalidMessage)
		}
		return json.RawMessage(d), nil
	}
	return json.Marshal(v)
}

func emptyObject() json.RawMessage {
	return json.RawMessage("{}")
}
