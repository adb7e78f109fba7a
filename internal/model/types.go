package model

import (
	"fmt"
	"time"
)

// Well-known channel names.
const (
	ChannelMetrics      = "metrics"
	ChannelAlerts       = "alerts"
	ChannelOceanData    = "ocean-data"
	ChannelBiodiversity = "biodiversity"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// SystemMetrics is a platform load sample.
type SystemMetrics struct {
	CPU      float64 `json:"cpu"`      // Percent
	Memory   float64 `json:"memory"`   // Percent
	Requests int64   `json:"requests"` // Requests in the sample window
	Errors   int64   `json:"errors"`   // Errors in the sample window
	Latency  float64 `json:"latency"`  // Milliseconds
}

// ErrorRate returns Errors/Requests, or 0 when there were no requests.
func (m SystemMetrics) ErrorRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// AlertType is the severity of an alert.
type AlertType string

const (
	AlertInfo     AlertType = "info"
	AlertWarning  AlertType = "warning"
	AlertError    AlertType = "error"
	AlertCritical AlertType = "critical"
)

// Valid reports whether t is a known severity.
func (t AlertType) Valid() bool {
	switch t {
	case AlertInfo, AlertWarning, AlertError, AlertCritical:
		return true
	}
	return false
}

// Alert is an operator alert.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
}

// Time parses Timestamp; the zero time is returned if it is absent or malformed.
func (a Alert) Time() time.Time {
	return parseTime(a.Timestamp)
}

// Validate checks the fields every alert must carry.
func (a Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert: missing id")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("alert %s: unknown type %q", a.ID, a.Type)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Ocean data
// -----------------------------------------------------------------------------

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// OceanReading is one oceanographic sample.
type OceanReading struct {
	Temperature      float64     `json:"temperature"`       // °C
	Salinity         float64     `json:"salinity"`          // PSU
	PH               float64     `json:"ph"`
	Oxygen           float64     `json:"oxygen"`            // mg/L
	Depth            float64     `json:"depth"`             // Metres
	CurrentSpeed     float64     `json:"current_speed"`     // m/s
	CurrentDirection float64     `json:"current_direction"` // Degrees from north
	WaveHeight       float64     `json:"wave_height"`       // Metres
	Coordinates      Coordinates `json:"coordinates"`
}

// -----------------------------------------------------------------------------
// Biodiversity
// -----------------------------------------------------------------------------

// ThreatLevel grades the pressure on the observed ecosystem.
type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// SpeciesDetection is one species sighting.
type SpeciesDetection struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Count      int         `json:"count"`
	Confidence float64     `json:"confidence"` // 0-1
	Location   Coordinates `json:"location"`
	Timestamp  string      `json:"timestamp"`
}

// Time parses Timestamp; the zero time is returned if it is absent or malformed.
func (d SpeciesDetection) Time() time.Time {
	return parseTime(d.Timestamp)
}

// BiodiversityReport summarises recent detections.
type BiodiversityReport struct {
	SpeciesDetected []SpeciesDetection `json:"species_detected"`
	TotalSpecies    int                `json:"total_species"`
	DiversityIndex  float64            `json:"diversity_index"`
	ThreatLevel     ThreatLevel        `json:"threat_level"`
}

// Individuals returns the summed count of every detection.
func (r BiodiversityReport) Individuals() int {
	total := 0
	for _, d := range r.SpeciesDetected {
		total += d.Count
	}
	return total
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
