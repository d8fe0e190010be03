// Package signals turns flattened record text into typed readings.
// Every function is pure: each call runs its own match and keeps no
// cursor between calls.
package signals

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"coldwatch/internal/models"
)

var (
	lostRe = regexp.MustCompile(`(?i)\blost[\s\W]*connection\b`)
	lastRe = regexp.MustCompile(
		`(?i)last\W*reading\W*:\W*(\d{1,2})\W*:\W*(\d{2})\W*([A-Za-z]{3})\W*(\d{1,2})\W*(\d{4})`)
	tempRe = regexp.MustCompile(`(?i)(-?\d+(?:[.,]\d+)?)\s*°\s*C\b`)
)

var months = map[string]time.Month{
	"Jan": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Apr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Aug": time.August,
	"Sep": time.September,
	"Oct": time.October,
	"Nov": time.November,
	"Dec": time.December,
}

// Noise band: readings at or beyond these are sensor garbage.
const (
	NoiseFloor   = -30.0
	NoiseCeiling = 60.0
)

// DetectLostConnection reports whether the text says "lost ... connection"
func DetectLostConnection(text string) bool {
	return lostRe.MatchString(text)
}

// ParseLastReadingTimestamp extracts "last reading: HH:MM Mon DD YYYY".
// The wall-clock time is interpreted in loc (time.Local when nil).
func ParseLastReadingTimestamp(text string, loc *time.Location) (time.Time, bool) {
	m := lastRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}

	mon, ok := months[titleCase(m[3])]
	if !ok {
		return time.Time{}, false
	}

	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	dd, _ := strconv.Atoi(m[4])
	yyyy, _ := strconv.Atoi(m[5])
	if hh > 23 || mm > 59 || dd < 1 || dd > 31 {
		return time.Time{}, false
	}

	if loc == nil {
		loc = time.Local
	}
	t := time.Date(yyyy, mon, dd, hh, mm, 0, 0, loc)
	if t.Day() != dd {
		// Feb 30 and friends roll over into the next month
		return time.Time{}, false
	}
	return t, true
}

// ExtractTemperatureReadings returns every "<number> °C" value in order of
// appearance. Comma and dot are both accepted as decimal separator.
func ExtractTemperatureReadings(text string) []float64 {
	matches := tempRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		values = append(values, v)
	}
	return values
}

// Band is the configured safe temperature range
type Band struct {
	Low  float64
	High float64
}

// ClassifyTemperature scans readings in order and returns the first one
// outside the band. Noise readings are skipped.
func ClassifyTemperature(readings []float64, band Band) (float64, models.TempStatus, bool) {
	for _, v := range readings {
		if math.IsNaN(v) || v <= NoiseFloor || v >= NoiseCeiling {
			continue
		}
		if v > band.High {
			return v, models.TempHigh, true
		}
		if v < band.Low {
			return v, models.TempLow, true
		}
	}
	return 0, "", false
}

// MinutesDiff returns (now - then) rounded to the nearest whole minute
func MinutesDiff(now, then time.Time) int {
	return int(math.Round(float64(now.Sub(then)) / float64(time.Minute)))
}

// IsStale applies the inclusive stale threshold
func IsStale(minutesLate, staleMinutes int) bool {
	return minutesLate >= staleMinutes
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
