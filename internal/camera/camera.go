// Package camera reads the camera status table and picks out cameras that
// disconnected recently.
package camera

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"coldwatch/internal/document"
	"coldwatch/internal/models"
)

// Columns maps table fields to 1-based column positions
type Columns struct {
	CodeName  int `yaml:"code_name"`
	Channel   int `yaml:"channel"`
	Status    int `yaml:"status"`
	Priority1 int `yaml:"priority_1"`
	Priority2 int `yaml:"priority_2"`
	Minutes   int `yaml:"minutes"`
}

// DefaultColumns is the layout of the camera monitoring page
func DefaultColumns() Columns {
	return Columns{
		CodeName:  3,
		Channel:   5,
		Status:    6,
		Priority1: 7,
		Priority2: 8,
		Minutes:   11,
	}
}

// Validate rejects non-positive column positions
func (c Columns) Validate() error {
	for name, v := range map[string]int{
		"code_name":  c.CodeName,
		"channel":    c.Channel,
		"status":     c.Status,
		"priority_1": c.Priority1,
		"priority_2": c.Priority2,
		"minutes":    c.Minutes,
	} {
		if v < 1 {
			return errors.New("camera column " + name + " must be >= 1")
		}
	}
	return nil
}

var (
	ErrMissingStatus  = errors.New("camera row has no status column")
	ErrMissingMinutes = errors.New("camera row has no minutes column")
)

var (
	minutesRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*m\b`)
	trueRe    = regexp.MustCompile(`(?i)\btrue\b`)
)

// Row is one parsed line of the camera table
type Row struct {
	CodeName string
	Channel  string
	Status   string
	Priority bool
	// Minutes is nil when the cell has no "<number> m" value.
	Minutes *float64
}

// Disconnected reports whether the status cell says "disconnected"
func (r Row) Disconnected() bool {
	return strings.EqualFold(r.Status, "disconnected")
}

// Label is "code — CHANNEL", or just the code when the channel is blank
func (r Row) Label() string {
	if r.Channel == "" {
		return r.CodeName
	}
	return r.CodeName + " — " + strings.ToUpper(r.Channel)
}

// Scanner classifies camera rows against a recency threshold
type Scanner struct {
	Columns Columns
	// ThresholdMinutes is exclusive: a disconnect alerts only while
	// its elapsed minutes are strictly below it.
	ThresholdMinutes float64
	// MinRowLength drops header and separator rows.
	MinRowLength int
}

// NewScanner returns a scanner with the default row noise filter
func NewScanner(cols Columns, threshold float64) *Scanner {
	return &Scanner{Columns: cols, ThresholdMinutes: threshold, MinRowLength: 10}
}

// Rows returns the table rows long enough to carry data
func (s *Scanner) Rows(doc document.Document) []document.Node {
	var rows []document.Node
	for _, tr := range doc.Query("table tr") {
		if len([]rune(tr.Text())) > s.MinRowLength {
			rows = append(rows, tr)
		}
	}
	return rows
}

// ParseRow reads the mapped cells of one row
func (s *Scanner) ParseRow(tr document.Node) (Row, error) {
	status := tr.Cell(s.Columns.Status)
	if status == nil {
		return Row{}, ErrMissingStatus
	}
	minutes := tr.Cell(s.Columns.Minutes)
	if minutes == nil {
		return Row{}, ErrMissingMinutes
	}

	row := Row{
		CodeName: document.Flatten(tr.Cell(s.Columns.CodeName)),
		Channel:  document.Flatten(tr.Cell(s.Columns.Channel)),
		Status:   status.Text(),
		Priority: trueRe.MatchString(document.Flatten(tr.Cell(s.Columns.Priority1))) ||
			trueRe.MatchString(document.Flatten(tr.Cell(s.Columns.Priority2))),
		Minutes: ParseMinutes(minutes.Text()),
	}
	return row, nil
}

// Classify turns a row into an alert when it is a recent disconnect
func (s *Scanner) Classify(row Row) (models.CameraDisconnect, bool) {
	if !row.Disconnected() || row.Minutes == nil {
		return models.CameraDisconnect{}, false
	}
	if !(*row.Minutes < s.ThresholdMinutes) {
		return models.CameraDisconnect{}, false
	}
	return models.CameraDisconnect{
		Label:               row.Label(),
		MinutesDisconnected: *row.Minutes,
		IsPriority:          row.Priority,
	}, true
}

// Scan classifies every data row. Malformed rows are reported through
// skip and left out.
func (s *Scanner) Scan(doc document.Document, skip func(error)) []models.CameraDisconnect {
	var alerts []models.CameraDisconnect
	for _, tr := range s.Rows(doc) {
		row, err := s.ParseRow(tr)
		if err != nil {
			if skip != nil {
				skip(err)
			}
			continue
		}
		if alert, ok := s.Classify(row); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// ParseMinutes extracts the first "<number> m" value
func ParseMinutes(text string) *float64 {
	m := minutesRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
