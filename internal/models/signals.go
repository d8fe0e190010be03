package models

import (
	"time"
)

// TempStatus tells on which side of the safe band a reading fell
type TempStatus string

const (
	TempHigh TempStatus = "HIGH"
	TempLow  TempStatus = "LOW"
)

// Signal categories, used for metrics and banner summaries
const (
	CategoryLost        = "lost"
	CategoryStale       = "stale"
	CategoryTemperature = "temperature"
	CategoryCamera      = "camera"
)

// AlertSignal is implemented by every detectable anomaly.
type AlertSignal interface {
	Category() string
	SignalLabel() string
}

// LostConnection reports a logger that dropped its connection
type LostConnection struct {
	Label string `json:"label"`
}

// StaleReading reports a logger whose last reading is too old
type StaleReading struct {
	Label       string `json:"label"`
	MinutesLate int    `json:"minutes_late"`
}

// TemperatureExcursion reports a reading outside the safe band
type TemperatureExcursion struct {
	Label  string     `json:"label"`
	Value  float64    `json:"value"`
	Status TempStatus `json:"status"`
}

// CameraDisconnect reports a camera that recently went offline
type CameraDisconnect struct {
	Label               string  `json:"label"`
	MinutesDisconnected float64 `json:"minutes_disconnected"`
	IsPriority          bool    `json:"is_priority"`
}

func (s LostConnection) Category() string       { return CategoryLost }
func (s LostConnection) SignalLabel() string    { return s.Label }
func (s StaleReading) Category() string         { return CategoryStale }
func (s StaleReading) SignalLabel() string      { return s.Label }
func (s TemperatureExcursion) Category() string { return CategoryTemperature }
func (s TemperatureExcursion) SignalLabel() string {
	return s.Label
}
func (s CameraDisconnect) Category() string    { return CategoryCamera }
func (s CameraDisconnect) SignalLabel() string { return s.Label }

// ScanResult is the outcome of one scan cycle. It is built once and
// never mutated afterwards.
type ScanResult struct {
	Lost         []LostConnection       `json:"lost"`
	Stale        []StaleReading         `json:"stale"`
	TempOut      []TemperatureExcursion `json:"temp_out"`
	CameraAlerts []CameraDisconnect     `json:"camera_alerts"`
	ScannedAt    time.Time              `json:"scanned_at"`
}

// Empty reports whether the scan found nothing of any kind
func (r *ScanResult) Empty() bool {
	return r == nil ||
		len(r.Lost) == 0 && len(r.Stale) == 0 && len(r.TempOut) == 0 && len(r.CameraAlerts) == 0
}

// Counts returns the number of signals per category
func (r *ScanResult) Counts() map[string]int {
	if r == nil {
		return map[string]int{}
	}
	return map[string]int{
		CategoryLost:        len(r.Lost),
		CategoryStale:       len(r.Stale),
		CategoryTemperature: len(r.TempOut),
		CategoryCamera:      len(r.CameraAlerts),
	}
}

// Signals flattens the result in report order
func (r *ScanResult) Signals() []AlertSignal {
	if r == nil {
		return nil
	}
	out := make([]AlertSignal, 0, len(r.Lost)+len(r.Stale)+len(r.TempOut)+len(r.CameraAlerts))
	for _, s := range r.Lost {
		out = append(out, s)
	}
	for _, s := range r.Stale {
		out = append(out, s)
	}
	for _, s := range r.TempOut {
		out = append(out, s)
	}
	for _, s := range r.CameraAlerts {
		out = append(out, s)
	}
	return out
}

// AlertState mirrors what the persistence layer keeps for delivery
type AlertState struct {
	LastAlertTimestampMs int64  `json:"last_alert_ts"`
	ReportText           string `json:"report_text"`
}
