package camera

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"coldwatch/internal/document"
)

// row renders an 11-column camera table row
func row(code, ch, status, p1, p2, minutes string) string {
	cells := []string{"1", "HCM", code, "Shop", ch, status, p1, p2, "x", "y", minutes}
	var b strings.Builder
	b.WriteString("<tr>")
	for _, c := range cells {
		fmt.Fprintf(&b, "<td>%s</td>", c)
	}
	b.WriteString("</tr>")
	return b.String()
}

func table(rows ...string) document.Document {
	html := `<table><tr><th>#</th><th>Code</th></tr>` + strings.Join(rows, "") + `</table>`
	doc, err := document.ParseString(html)
	if err != nil {
		panic(err)
	}
	return doc
}

func TestRowsSkipsHeaders(t *testing.T) {
	s := NewScanner(DefaultColumns(), 20)
	doc := table(row("CAM-01", "ch1", "Connected", "false", "false", "0 m"))
	if got := len(s.Rows(doc)); got != 1 {
		t.Errorf("expected 1 data row, got %d", got)
	}
}

func TestClassifyThresholdIsExclusive(t *testing.T) {
	s := NewScanner(DefaultColumns(), 20)

	tests := []struct {
		minutes string
		alert   bool
	}{
		{"19 m", true},
		{"19.9m", true},
		{"20 m", false},
		{"45 m", false},
		{"", false},
		{"n/a", false},
	}
	for _, tt := range tests {
		doc := table(row("CAM-01", "ch1", "Disconnected", "false", "false", tt.minutes))
		alerts := s.Scan(doc, nil)
		if (len(alerts) == 1) != tt.alert {
			t.Errorf("minutes %q: alert = %v, want %v", tt.minutes, len(alerts) == 1, tt.alert)
		}
	}
}

func TestClassifyStatusAndLabel(t *testing.T) {
	s := NewScanner(DefaultColumns(), 20)
	doc := table(
		row("CAM-01", "ch1", "DISCONNECTED", "False", "TRUE", "5 m"),
		row("CAM-02", "", "disconnected", "false", "false", "3 m"),
		row("CAM-03", "ch2", "Connected", "true", "true", "1 m"),
	)

	alerts := s.Scan(doc, nil)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].Label != "CAM-01 — CH1" || !alerts[0].IsPriority || alerts[0].MinutesDisconnected != 5 {
		t.Errorf("unexpected first alert: %+v", alerts[0])
	}
	if alerts[1].Label != "CAM-02" || alerts[1].IsPriority {
		t.Errorf("unexpected second alert: %+v", alerts[1])
	}
}

func TestPriorityNeedsWholeWord(t *testing.T) {
	s := NewScanner(DefaultColumns(), 20)
	doc := table(row("CAM-09", "ch1", "Disconnected", "untrue", "trueish", "1 m"))
	alerts := s.Scan(doc, nil)
	if len(alerts) != 1 || alerts[0].IsPriority {
		t.Errorf("expected non-priority alert, got %+v", alerts)
	}
}

func TestMalformedRowIsSkipped(t *testing.T) {
	s := NewScanner(DefaultColumns(), 20)
	short := `<tr><td>only a few cells here</td><td>Disconnected</td></tr>`
	doc := table(short, row("CAM-01", "ch1", "Disconnected", "false", "false", "2 m"))

	var skipped []error
	alerts := s.Scan(doc, func(err error) { skipped = append(skipped, err) })
	if len(alerts) != 1 {
		t.Errorf("expected the valid row to alert, got %d", len(alerts))
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], ErrMissingStatus) {
		t.Errorf("expected one ErrMissingStatus skip, got %v", skipped)
	}
}

func TestParseMinutes(t *testing.T) {
	if v := ParseMinutes("12.5 m ago"); v == nil || *v != 12.5 {
		t.Errorf("ParseMinutes = %v", v)
	}
	if v := ParseMinutes("12 min"); v != nil {
		t.Errorf("expected nil for 'min', got %v", *v)
	}
}

func TestColumnsValidate(t *testing.T) {
	if err := DefaultColumns().Validate(); err != nil {
		t.Errorf("default columns invalid: %v", err)
	}
	c := DefaultColumns()
	c.Minutes = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for zero column")
	}
}
