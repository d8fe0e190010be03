package alerts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"coldwatch/internal/models"
)

const (
	ReportTimeFormat = "2006-01-02 15:04:05"

	staleMargin = 5
	tempMargin  = 10
	lateWidth   = 10
)

var labelSep = regexp.MustCompile(`\s*-\s*`)

// FormatLabel replaces the first " - " separator of a label with sep
func FormatLabel(label, sep string) string {
	loc := labelSep.FindStringIndex(label)
	if loc == nil {
		return label
	}
	return label[:loc[0]] + sep + label[loc[1]:]
}

// RenderReport builds the persisted report text. Sections appear in the
// order lost, stale, temperature, camera, each headed by its count.
func RenderReport(r *models.ScanResult) string {
	var lines []string
	add := func(l ...string) { lines = append(lines, l...) }

	add(fmt.Sprintf("Alerts (%s)", r.ScannedAt.Format(ReportTimeFormat)), "")

	if len(r.Lost) > 0 {
		add("", fmt.Sprintf("**********LOST CONNECTION********** %d units", len(r.Lost)))
		for _, s := range r.Lost {
			add(" " + FormatLabel(s.Label, ":"))
		}
		add("")
	}

	if len(r.Stale) > 0 {
		add("", "", fmt.Sprintf("**********STALE READINGS********** %d units", len(r.Stale)), "")
		width := 0
		for _, s := range r.Stale {
			width = max(width, utf8.RuneCountInString(FormatLabel(s.Label, ":")))
		}
		for _, s := range r.Stale {
			late := strconv.Itoa(s.MinutesLate) + "min"
			add(fmt.Sprintf("%-*s%*s", width+staleMargin, FormatLabel(s.Label, ":"), lateWidth, late), "")
		}
	}

	add("", "")

	if len(r.TempOut) > 0 {
		add(fmt.Sprintf("**********TEMPERATURE**********(%d units)", len(r.TempOut)), "")
		width := 0
		for _, s := range r.TempOut {
			width = max(width, utf8.RuneCountInString(FormatLabel(s.Label, ": ")))
		}
		for _, s := range r.TempOut {
			value := strconv.FormatFloat(s.Value, 'f', -1, 64) + "°C"
			add(fmt.Sprintf("%-*s%s", width+tempMargin, FormatLabel(s.Label, ": "), value), "")
		}
	}

	if len(r.CameraAlerts) > 0 {
		add("", "", fmt.Sprintf("**********CAMERA DISCONNECTED********** %d cameras", len(r.CameraAlerts)), "")
		for _, c := range r.CameraAlerts {
			prefix := "📷 "
			if c.IsPriority {
				prefix = "📷 Cam GS: "
			}
			add(fmt.Sprintf("%s%s — %sm", prefix, c.Label, strconv.FormatFloat(c.MinutesDisconnected, 'f', -1, 64)))
		}
	}

	return strings.Join(lines, "\n")
}

// Summary is the banner text: a headline plus one line per non-empty
// category
func Summary(r *models.ScanResult) string {
	var b strings.Builder
	b.WriteString("NEW ALERTS!")
	if n := len(r.Lost); n > 0 {
		fmt.Fprintf(&b, "\n%d lost connection", n)
	}
	if n := len(r.Stale); n > 0 {
		fmt.Fprintf(&b, "\n%d reporting late", n)
	}
	if n := len(r.TempOut); n > 0 {
		fmt.Fprintf(&b, "\n%d temperature out of range", n)
	}
	if n := len(r.CameraAlerts); n > 0 {
		fmt.Fprintf(&b, "\n%d camera disconnected", n)
	}
	return b.String()
}
