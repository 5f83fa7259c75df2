package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/token"
)

type ScheduleRequest struct {
	FacilityID     uuid.UUID                   `json:"facility_id"`
	ResourceType   string                      `json:"resource_type"`
	ResourceID     string                      `json:"resource_id"`
	Name           string                      `json:"name"`
	ValidFrom      civil.Date                  `json:"valid_from"`
	ValidTo        civil.Date                  `json:"valid_to"`
	Availabilities []availability.Availability `json:"availabilities"`
}

type UpdateScheduleRequest struct {
	Name      string     `json:"name"`
	ValidFrom civil.Date `json:"valid_from"`
	ValidTo   civil.Date `json:"valid_to"`
}

type ExceptionRequest struct {
	FacilityID   uuid.UUID       `json:"facility_id"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Reason       string          `json:"reason"`
	ValidFrom    civil.Date      `json:"valid_from"`
	ValidTo      civil.Date      `json:"valid_to"`
	StartTime    civil.TimeOfDay `json:"start_time"`
	EndTime      civil.TimeOfDay `json:"end_time"`
	Confirm      bool            `json:"confirm"`
}

type SlotsForDayRequest struct {
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Day          civil.Date `json:"day"`
}

type AvailabilityStatsRequest struct {
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	FromDate     civil.Date `json:"from_date"`
	ToDate       civil.Date `json:"to_date"`
}

type CreateAppointmentRequest struct {
	PatientID uuid.UUID  `json:"patient_id"`
	Note      string     `json:"note"`
	BookedBy  *uuid.UUID `json:"booked_by"`
	Tags      []string   `json:"tags"`
}

type UpdateAppointmentRequest struct {
	Status *string   `json:"status"`
	Note   *string   `json:"note"`
	Tags   *[]string `json:"tags"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

type RescheduleAppointmentRequest struct {
	NewSlot  string     `json:"new_slot"`
	Note     *string    `json:"note"`
	BookedBy *uuid.UUID `json:"booked_by"`
}

type GenerateTokenRequest struct {
	Category *uuid.UUID `json:"category"`
	Note     string     `json:"note"`
}

type CreateQueueRequest struct {
	FacilityID   uuid.UUID  `json:"facility_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Date         civil.Date `json:"date"`
	Name         string     `json:"name"`
	SetIsPrimary bool       `json:"set_is_primary"`
}

type IssueTokenRequest struct {
	Category  *uuid.UUID `json:"category"`
	Note      string     `json:"note"`
	PatientID *uuid.UUID `json:"patient_id"`
}

type CreateCategoryRequest struct {
	FacilityID   uuid.UUID `json:"facility_id"`
	ResourceType string    `json:"resource_type"`
	Name         string    `json:"name"`
	Shorthand    string    `json:"shorthand"`
	Default      bool      `json:"default"`
}

type UpdateTokenRequest struct {
	Status token.Status `json:"status"`
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

type ErrorResponse struct {
	Error    string      `json:"error"`
	Details  string      `json:"details,omitempty"`
	Affected []uuid.UUID `json:"affected_appointments,omitempty"`
}
