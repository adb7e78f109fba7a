// Package channel multiplexes named logical channels over one connection.
//
// The Mux keeps a table of channel name to handler set. The first handler on a
// channel causes a subscribe control message, removing the last one causes an
// unsubscribe, and inbound payloads are fanned out to every handler of the exact
// channel name. Names are opaque: there is no wildcard or hierarchy matching.
package channel
