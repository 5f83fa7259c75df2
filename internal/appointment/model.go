package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

type Status string

const (
	StatusProposed       Status = "proposed"
	StatusPending        Status = "pending"
	StatusBooked         Status = "booked"
	StatusArrived        Status = "arrived"
	StatusCheckedIn      Status = "checked_in"
	StatusWaitlist       Status = "waitlist"
	StatusInConsultation Status = "in_consultation"
	StatusFulfilled      Status = "fulfilled"
	StatusNoShow         Status = "noshow"

	StatusCancelled      Status = "cancelled"
	StatusEnteredInError Status = "entered_in_error"
	StatusRescheduled    Status = "rescheduled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusPending, StatusBooked, StatusArrived, StatusCheckedIn,
		StatusWaitlist, StatusInConsultation, StatusFulfilled, StatusNoShow,
		StatusCancelled, StatusEnteredInError, StatusRescheduled:
		return true
	}
	return false
}

// Terminal statuses release their slot and accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusEnteredInError, StatusRescheduled:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_date"`
	UpdatedAt time.Time `json:"modified_date"`
}

// Appointment is a patient's claim on one slot window. The window is copied
// onto the row so history survives template changes.
type Appointment struct {
	ID              uuid.UUID    `json:"id"`
	FacilityID      uuid.UUID    `json:"facility_id"`
	Resource        resource.Ref `json:"resource"`
	AvailabilityID  uuid.UUID    `json:"availability_id"`
	SlotStart       time.Time    `json:"slot_start"`
	SlotEnd         time.Time    `json:"slot_end"`
	PatientID       uuid.UUID    `json:"patient_id"`
	Status          Status       `json:"status"`
	Note            string       `json:"note"`
	Tags            []string     `json:"tags"`
	BookedBy        *uuid.UUID   `json:"booked_by"`
	CancelReason    *string      `json:"cancel_reason,omitempty"`
	NeedsReview     bool         `json:"needs_review"`
	ReviewReason    *string      `json:"review_reason,omitempty"`
	RescheduledFrom *uuid.UUID   `json:"rescheduled_from,omitempty"`
	RescheduledTo   *uuid.UUID   `json:"rescheduled_to,omitempty"`
	CreatedAt       time.Time    `json:"created_date"`
	UpdatedAt       time.Time    `json:"modified_date"`
}

func (a Appointment) SlotKey() slots.Key {
	return slots.Key{AvailabilityID: a.AvailabilityID, Start: a.SlotStart.UTC()}
}

func (a Appointment) SlotID() string {
	return a.SlotKey().String()
}

type Detail struct {
	Appointment
	SlotID  string   `json:"slot_id"`
	Patient *Patient `json:"patient,omitempty"`
}

type BookingRequest struct {
	SlotID    string
	PatientID uuid.UUID
	Note      string
	Tags      []string
	BookedBy  *uuid.UUID
}

type RescheduleRequest struct {
	NewSlotID string
	Note      *string
	BookedBy  *uuid.UUID
}

// UpdateRequest edits an appointment. Nil fields are left alone; a non-nil
// empty Tags clears the tags.
type UpdateRequest struct {
	Note   *string
	Tags   []string
	Status *Status
}

type RescheduleResult struct {
	Previous *Appointment `json:"previous"`
	Current  *Appointment `json:"current"`
}

type Filter struct {
	PatientID *uuid.UUID
	Resource  *resource.Ref
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
