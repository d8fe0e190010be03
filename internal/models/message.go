package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cross-surface actions. Messages carry nothing but the action tag;
// receivers re-read the persisted store instead of trusting a payload.
const (
	ActionScanAlertsNow = "scanAlertsNow"
	ActionUpdateLogs    = "updateLogs"
)

// Message is the cross-surface wire schema
type Message struct {
	Action string `json:"action" msgpack:"action"`
}

// Validation errors
var (
	ErrEmptyAction   = errors.New("message action cannot be empty")
	ErrUnknownAction = errors.New("unknown message action")
)

// ScanNow builds a request for an immediate, cooldown-bypassed scan
func ScanNow() Message { return Message{Action: ActionScanAlertsNow} }

// UpdateLogs builds a request to re-read the persisted report
func UpdateLogs() Message { return Message{Action: ActionUpdateLogs} }

// Normalize trims the action and restores its canonical casing
func (m *Message) Normalize() {
	a := strings.TrimSpace(m.Action)
	switch strings.ToLower(a) {
	case strings.ToLower(ActionScanAlertsNow):
		a = ActionScanAlertsNow
	case strings.ToLower(ActionUpdateLogs):
		a = ActionUpdateLogs
	}
	m.Action = a
}

// Validate checks the action tag
func (m Message) Validate() error {
	switch m.Action {
	case "":
		return ErrEmptyAction
	case ActionScanAlertsNow, ActionUpdateLogs:
		return nil
	default:
		return ErrUnknownAction
	}
}

// Envelope wraps a Message with transport metadata. The metadata travels
// in broker headers only; the payload stays the bare Message.
type Envelope struct {
	Message Message `json:"message"`

	ID        string    `json:"id"`
	SurfaceID string    `json:"surface_id"`
	SentAt    time.Time `json:"sent_at"`
}

// NewEnvelope creates a new envelope for a message sent by surfaceID
func NewEnvelope(msg Message, surfaceID string) *Envelope {
	return &Envelope{
		Message:   msg,
		ID:        uuid.New().String(),
		SurfaceID: surfaceID,
		SentAt:    time.Now().UTC(),
	}
}
