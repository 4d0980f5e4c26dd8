package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chargehub/backend/services/charging-service/internal/models"
)

// EventType names the closed set of session events.
type EventType string

const (
	EventBatteryUpdate       EventType = "battery_update"
	EventSessionStatusChange EventType = "session_status_change"
)

// ErrUnknownEvent is returned when decoding an envelope of an unknown type.
var ErrUnknownEvent = errors.New("notify: unknown event type")

// Event is implemented only by BatteryUpdate and SessionStatusChange.
type Event interface {
	Type() EventType
	SessionID() int64
	sealed()
}

// OvertimeWarning is attached to battery updates once the booking window has passed.
type OvertimeWarning struct {
	Minutes       int64  `json:"minutes"`
	RatePerMinute int64  `json:"rate_per_minute"`
	ProjectedFee  int64  `json:"projected_fee"`
	Message       string `json:"message"`
}

// BatteryUpdate reports the live battery state of an in-progress session.
type BatteryUpdate struct {
	Session           int64            `json:"session_id"`
	Initial           float64          `json:"initial"`
	Current           float64          `json:"current"`
	Target            float64          `json:"target"`
	Charged           float64          `json:"charged"`
	RemainingToTarget float64          `json:"remaining_to_target"`
	TargetReached     bool             `json:"target_reached"`
	OvertimeWarning   *OvertimeWarning `json:"overtime_warning,omitempty"`
	At                time.Time        `json:"at"`
}

func (BatteryUpdate) Type() EventType { return EventBatteryUpdate }
func (e BatteryUpdate) SessionID() int64 { return e.Session }
func (BatteryUpdate) sealed() {}

// SessionStatusChange reports a lifecycle change or an advisory such as "target reached".
type SessionStatusChange struct {
	Session      int64                `json:"session_id"`
	Status       models.SessionStatus `json:"status"`
	Message      string               `json:"message"`
	AutoStopped  *bool                `json:"auto_stopped,omitempty"`
	FinalBattery *float64             `json:"final_battery,omitempty"`
	InvoiceID    *int64               `json:"invoice_id,omitempty"`
	At           time.Time            `json:"at"`
}

func (SessionStatusChange) Type() EventType { return EventSessionStatusChange }
func (e SessionStatusChange) SessionID() int64 { return e.Session }
func (SessionStatusChange) sealed() {}

type envelope struct {
	Type      EventType       `json:"type"`
	SessionID int64           `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serialises an event into its wire envelope.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("notify: encode %s: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), SessionID: e.SessionID(), Payload: payload})
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("notify: decode envelope: %w", err)
	}
	switch env.Type {
	case EventBatteryUpdate:
		var e BatteryUpdate
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventSessionStatusChange:
		var e SessionStatusChange
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("notify: decode %s: %w", env.Type, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
