// Package feed keeps the latest typed value published on a channel.
//
// A Feed subscribes to one channel through a connection.Client, decodes
// every payload into T and tracks connection status from client events.
// Metrics, Alerts, OceanData and Biodiversity build feeds for the
// well-known channels; Multi groups raw feeds for an arbitrary list.
package feed
