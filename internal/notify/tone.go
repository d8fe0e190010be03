// Package notify delivers alerts to the operator: an audible tone
// sequence, a self-dismissing banner and a cross-surface update message.
package notify

import (
	"errors"
	"fmt"
	"time"
)

// Waveform of the generated tone
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Triangle Waveform = "triangle"
	Sawtooth Waveform = "sawtooth"
)

// ToneConfig describes the alert tone sequence
type ToneConfig struct {
	Count     int           `yaml:"count"`
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
	Gap       time.Duration `yaml:"gap"`
	Volume    float64       `yaml:"volume"`
	Waveform  Waveform      `yaml:"waveform"`
}

// DefaultTone is five 880 Hz half-second beeps
func DefaultTone() ToneConfig {
	return ToneConfig{
		Count:     5,
		Frequency: 880,
		Duration:  500 * time.Millisecond,
		Gap:       500 * time.Millisecond,
		Volume:    0.3,
		Waveform:  Sine,
	}
}

var ErrInvalidTone = errors.New("invalid tone config")

func (c ToneConfig) Validate() error {
	switch {
	case c.Count < 0:
		return fmt.Errorf("%w: count must be >= 0", ErrInvalidTone)
	case c.Frequency <= 0:
		return fmt.Errorf("%w: frequency must be > 0", ErrInvalidTone)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidTone)
	case c.Gap < 0:
		return fmt.Errorf("%w: gap must be >= 0", ErrInvalidTone)
	case c.Volume < 0 || c.Volume > 1:
		return fmt.Errorf("%w: volume must be within [0,1]", ErrInvalidTone)
	}
	switch c.Waveform {
	case Sine, Square, Triangle, Sawtooth:
		return nil
	default:
		return fmt.Errorf("%w: unknown waveform %q", ErrInvalidTone, c.Waveform)
	}
}

// Burst is one beep, offset from the start of playback
type Burst struct {
	Start     time.Duration
	Duration  time.Duration
	Frequency float64
	Volume    float64
	Waveform  Waveform
}

// ToneSchedule lays out every burst up front: burst i starts at
// i*(duration+gap)
func ToneSchedule(cfg ToneConfig) []Burst {
	if cfg.Count <= 0 {
		return nil
	}
	if cfg.Waveform == "" {
		cfg.Waveform = Sine
	}

	bursts := make([]Burst, cfg.Count)
	step := cfg.Duration + cfg.Gap
	for i := range bursts {
		bursts[i] = Burst{
			Start:     time.Duration(i) * step,
			Duration:  cfg.Duration,
			Frequency: cfg.Frequency,
			Volume:    cfg.Volume,
			Waveform:  cfg.Waveform,
		}
	}
	return bursts
}

// Length is the total playback time of a schedule
func Length(bursts []Burst) time.Duration {
	var end time.Duration
	for _, b := range bursts {
		if e := b.Start + b.Duration; e > end {
			end = e
		}
	}
	return end
}
