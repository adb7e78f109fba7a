// Package model defines the payloads published on the well-known real-time channels.
//
// Field names mirror the JSON the server sends:
//   - metrics: system load of the platform
//   - alerts: operator alerts with a severity
//   - ocean-data: oceanographic readings off the Angolan coast
//   - biodiversity: species detection reports
//
// Timestamps are kept as the ISO-8601 strings found on the wire; use the
// Time methods to parse them.
package model
