// Package alerts turns a rendered dashboard into a ScanResult, decides
// whether the result may be delivered, and renders the persisted report.
package alerts

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"coldwatch/internal/camera"
	"coldwatch/internal/document"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
	"coldwatch/internal/signals"
)

const (
	DefaultLabelSelector = "div.col-lg-4.col-md-4.col-sm-5.col-xs-5.text-left > span, .text-left > span"
	DefaultStaleMinutes  = 30
)

// DefaultCardSelectors are tried in order to find the card around a label
func DefaultCardSelectors() []string {
	return []string{".row", "li, .list-group-item, .card, .panel, .location-item"}
}

// Config holds the detection thresholds
type Config struct {
	LabelSelector string
	CardSelectors []string
	StaleMinutes  int
	Band          signals.Band
	// Location interprets "last reading" wall-clock times.
	Location *time.Location
}

// DefaultConfig mirrors the dashboard defaults
func DefaultConfig() Config {
	return Config{
		LabelSelector: DefaultLabelSelector,
		CardSelectors: DefaultCardSelectors(),
		StaleMinutes:  DefaultStaleMinutes,
		Band:          signals.Band{Low: 3.0, High: 6.0},
		Location:      time.Local,
	}
}

// Aggregator runs the signal parser over every monitored record and, on
// camera surfaces, the camera scanner.
type Aggregator struct {
	cfg    Config
	camera *camera.Scanner
	log    zerolog.Logger
}

// NewAggregator creates an aggregator. A nil scanner disables camera
// detection.
func NewAggregator(cfg Config, cam *camera.Scanner) *Aggregator {
	if cfg.LabelSelector == "" {
		cfg.LabelSelector = DefaultLabelSelector
	}
	if cfg.CardSelectors == nil {
		cfg.CardSelectors = DefaultCardSelectors()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Aggregator{
		cfg:    cfg,
		camera: cam,
		log:    logger.WithComponent("aggregator"),
	}
}

// WithLogger replaces the aggregator's logger
func (a *Aggregator) WithLogger(l zerolog.Logger) *Aggregator {
	a.log = l
	return a
}

// HasCamera reports whether camera detection is enabled
func (a *Aggregator) HasCamera() bool {
	return a.camera != nil
}

// Records locates the monitored records on the page. Labels with no text
// are ignored.
func (a *Aggregator) Records(doc document.Document) []models.MonitoredRecord {
	var records []models.MonitoredRecord
	for _, anchor := range doc.Query(a.cfg.LabelSelector) {
		label := anchor.Text()
		if label == "" {
			continue
		}
		records = append(records, models.MonitoredRecord{
			Label: label,
			Node:  a.cardFor(anchor),
		})
	}
	return records
}

func (a *Aggregator) cardFor(anchor document.Node) document.Node {
	for _, sel := range a.cfg.CardSelectors {
		if card := anchor.Closest(sel); card != nil {
			return card
		}
	}
	if p := anchor.Parent(); p != nil {
		if gp := p.Parent(); gp != nil {
			return gp
		}
	}
	return anchor
}

// recordSignals is what one record contributed
type recordSignals struct {
	lost  *models.LostConnection
	stale *models.StaleReading
	temp  *models.TemperatureExcursion
}

func (a *Aggregator) evaluate(rec models.MonitoredRecord, now time.Time) recordSignals {
	var out recordSignals
	flat := document.Flatten(rec.Node)

	if signals.DetectLostConnection(flat) {
		out.lost = &models.LostConnection{Label: rec.Label}
	}

	if ts, ok := signals.ParseLastReadingTimestamp(flat, a.cfg.Location); ok {
		late := signals.MinutesDiff(now, ts)
		if signals.IsStale(late, a.cfg.StaleMinutes) {
			out.stale = &models.StaleReading{Label: rec.Label, MinutesLate: late}
		}
	}

	readings := signals.ExtractTemperatureReadings(flat)
	if v, status, ok := signals.ClassifyTemperature(readings, a.cfg.Band); ok {
		out.temp = &models.TemperatureExcursion{Label: rec.Label, Value: v, Status: status}
	}
	return out
}

// safeEvaluate isolates a failing record from the rest of the scan
func (a *Aggregator) safeEvaluate(rec models.MonitoredRecord, now time.Time) (out recordSignals, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("aggregator").Inc()
			a.log.Error().
				Interface("panic", r).
				Str("label", rec.Label).
				Str("stack", string(debug.Stack())).
				Msg("record evaluation panicked")
			err = fmt.Errorf("record %q: %v", rec.Label, r)
		}
	}()
	return a.evaluate(rec, now), nil
}

// Detection is the raw outcome of one pass over a document, before the
// camera diff is applied
type Detection struct {
	Lost      []models.LostConnection
	Stale     []models.StaleReading
	TempOut   []models.TemperatureExcursion
	Cameras   []models.CameraDisconnect
	Records   int
	ScannedAt time.Time
}

// Detect evaluates every record and camera row. Malformed input is skipped.
func (a *Aggregator) Detect(doc document.Document, now time.Time) Detection {
	det := Detection{ScannedAt: now}

	records := a.Records(doc)
	det.Records = len(records)
	for _, rec := range records {
		sig, err := a.safeEvaluate(rec, now)
		if err != nil {
			metrics.RecordsSkipped.WithLabelValues("record").Inc()
			continue
		}
		if sig.lost != nil {
			det.Lost = append(det.Lost, *sig.lost)
		}
		if sig.stale != nil {
			det.Stale = append(det.Stale, *sig.stale)
		}
		if sig.temp != nil {
			det.TempOut = append(det.TempOut, *sig.temp)
		}
	}

	det.Cameras = a.CameraAlerts(doc)
	return det
}

// CameraAlerts runs only the camera scanner
func (a *Aggregator) CameraAlerts(doc document.Document) []models.CameraDisconnect {
	if a.camera == nil {
		return nil
	}

	var alerts []models.CameraDisconnect
	func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsRecovered.WithLabelValues("camera").Inc()
				a.log.Error().Interface("panic", r).Msg("camera scan panicked")
				alerts = nil
			}
		}()
		alerts = a.camera.Scan(doc, func(err error) {
			metrics.RecordsSkipped.WithLabelValues("camera_row").Inc()
			a.log.Debug().Err(err).Msg("skipping camera row")
		})
	}()
	return alerts
}

// Assemble applies the camera diff to a detection. The diff decides
// whether camera alerts are part of the result.
func Assemble(det Detection, diff CameraDiff) *models.ScanResult {
	result := &models.ScanResult{
		Lost:      det.Lost,
		Stale:     det.Stale,
		TempOut:   det.TempOut,
		ScannedAt: det.ScannedAt,
	}
	if len(det.Cameras) > 0 && diff.Changed() {
		result.CameraAlerts = det.Cameras
	}

	for category, n := range result.Counts() {
		if n > 0 {
			metrics.SignalsDetected.WithLabelValues(category).Add(float64(n))
		}
	}
	return result
}

// BuildResult detects, diffs camera labels against previous and builds the
// result. The returned diff carries the snapshot to persist.
func (a *Aggregator) BuildResult(doc document.Document, now time.Time, previous []string) (*models.ScanResult, CameraDiff) {
	det := a.Detect(doc, now)
	metrics.ScanRecords.Set(float64(det.Records))

	diff := DiffCameras(previous, det.Cameras)
	return Assemble(det, diff), diff
}
