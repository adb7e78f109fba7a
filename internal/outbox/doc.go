// Package outbox buffers outbound frames while the real-time connection is down.
//
// Queue is a FIFO of messages with an optional bound and overflow policy. It is
// drained in order by the connection client as soon as a session opens. Buffer is
// the generic growable ring underneath, also used as the recorder's input.
package outbox
