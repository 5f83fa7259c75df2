package audit

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentTransition  = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentFlagged     = "APPOINTMENT_FLAGGED_FOR_REVIEW"
	EventTokenIssued            = "TOKEN_ISSUED"
	EventTokenTransition        = "TOKEN_STATUS_CHANGED"
)

// Event is one row of the append-only event log. Status changes are applied
// in place on the entity; the log keeps the history.
type Event struct {
	ID            int64
	Type          string
	AppointmentID *uuid.UUID
	TokenID       *uuid.UUID
	Payload       map[string]any
	CreatedAt     time.Time
}

func ForAppointment(eventType string, id uuid.UUID, payload map[string]any) Event {
	return Event{Type: eventType, AppointmentID: &id, Payload: payload, CreatedAt: time.Now()}
}

func ForToken(eventType string, id uuid.UUID, payload map[string]any) Event {
	return Event{Type: eventType, TokenID: &id, Payload: payload, CreatedAt: time.Now()}
}
