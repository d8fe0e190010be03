package models

import "errors"

// Position is a screen coordinate in px
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Preferences are user-mutated settings persisted indefinitely
type Preferences struct {
	SoundEnabled   bool      `json:"sound_enabled"`
	PanelPosition  *Position `json:"panel_position,omitempty"`
	BubblePosition *Position `json:"bubble_position,omitempty"`
	Minimized      bool      `json:"minimized"`
}

// DefaultPreferences is what a fresh store yields
func DefaultPreferences() Preferences {
	return Preferences{SoundEnabled: true}
}

// Credentials are saved login details. They are stored in plaintext by the
// surrounding shell and are not hardened here.
type Credentials struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Timestamp int64  `json:"timestamp"`
}

var ErrEmptyEmail = errors.New("credentials email cannot be empty")

// Validate checks that the credentials are usable
func (c Credentials) Validate() error {
	if c.Email == "" {
		return ErrEmptyEmail
	}
	return nil
}
