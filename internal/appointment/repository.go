package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

var (
	ErrPatientNotFound     = apperr.New(apperr.KindNotFound, "patient_not_found", "patient not found")
	ErrAppointmentNotFound = apperr.New(apperr.KindNotFound, "appointment_not_found", "appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// LockAppointment reads an appointment and holds its row lock for the
	// rest of the enclosing transaction.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f Filter) ([]Appointment, int, error)

	// LockSlot serializes writers of one slot window for the rest of the
	// enclosing transaction.
	LockSlot(ctx context.Context, key slots.Key) error
	PatientHasActiveInWindow(ctx context.Context, patientID uuid.UUID, key slots.Key) (bool, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus is a compare-and-set on status; it returns
	// ErrAppointmentNotFound when the row is no longer in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)
	LinkRescheduled(ctx context.Context, id, to uuid.UUID) error
	UpdateDetails(ctx context.Context, id uuid.UUID, note *string, tags []string) (*Appointment, error)

	// No-show sweep
	FindNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev audit.Event) error

	slots.AllocationCounter
	availability.BookingLookup
}
