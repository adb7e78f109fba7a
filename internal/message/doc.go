// Package message defines the JSON frame shared by the real-time client and server.
//
// Every frame carries a type tag, an optional channel, an arbitrary JSON payload,
// an ISO-8601 timestamp and an id. Ids are only used for tracing; the protocol
// has no acknowledgements.
package message
