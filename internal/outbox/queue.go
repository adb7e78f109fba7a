package outbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bgapp/marine-realtime/internal/message"
)

// ErrQueueFull is returned by Push under the RejectNew policy when the queue is at its bound.
var ErrQueueFull = errors.New("outbound queue full")

// OverflowPolicy decides what happens when a bounded queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the head message to make room for the new one.
	DropOldest OverflowPolicy = iota
	// RejectNew refuses the new message.
	RejectNew
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case RejectNew:
		return "reject_new"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy converts a config string ("drop_oldest", "reject_new") to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "drop-oldest":
		return DropOldest, nil
	case "reject_new", "reject-new":
		return RejectNew, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

// Queue holds outbound messages composed while the connection is down.
// It is in-memory only. A MaxSize of 0 means unbounded. The bound check in
// Push assumes a single writer; the connection client pushes under its lock.
type Queue struct {
	buf     *Buffer[message.Message]
	maxSize int
	policy  OverflowPolicy
}

// NewQueue creates a queue with the given bound and overflow policy.
func NewQueue(maxSize int, policy OverflowPolicy) *Queue {
	initial := 64
	if maxSize > 0 && maxSize < initial {
		initial = maxSize
	}
	return &Queue{
		buf:     NewBuffer[message.Message](initial),
		maxSize: maxSize,
		policy:  policy,
	}
}

// Push appends m to the tail. When the bound is reached the policy applies:
// DropOldest returns the evicted message with dropped=true, RejectNew returns ErrQueueFull.
func (q *Queue) Push(m message.Message) (evicted message.Message, dropped bool, err error) {
	if q.maxSize > 0 && q.buf.Len() >= q.maxSize {
		if q.policy == RejectNew {
			return message.Message{}, false, ErrQueueFull
		}
		evicted, dropped = q.buf.TryReceive()
	}
	q.buf.Push(m)
	return evicted, dropped, nil
}

// PushFront re-queues m at the head, ahead of everything else. Used when a
// write fails mid-flush so ordering is preserved. The bound is not enforced.
func (q *Queue) PushFront(m message.Message) {
	q.buf.PushFront(m)
}

// Peek returns the head message without removing it.
func (q *Queue) Peek() (message.Message, bool) {
	return q.buf.Peek()
}

// Pop removes and returns the head message.
func (q *Queue) Pop() (message.Message, bool) {
	return q.buf.TryReceive()
}

// Drain removes and returns every queued message in FIFO order.
func (q *Queue) Drain() []message.Message {
	return q.buf.DrainTo(0)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return q.buf.Len()
}

// MaxSize returns the configured bound (0 = unbounded).
func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy {
	return q.policy
}

// Stats returns statistics for the underlying buffer.
func (q *Queue) Stats() BufferStats {
	return q.buf.Stats()
}
