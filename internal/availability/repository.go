package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var (
	ErrScheduleNotFound     = apperr.New(apperr.KindNotFound, "schedule_not_found", "schedule not found")
	ErrAvailabilityNotFound = apperr.New(apperr.KindNotFound, "availability_not_found", "availability not found")
	ErrExceptionNotFound    = apperr.New(apperr.KindNotFound, "exception_not_found", "schedule exception not found")
)

// Repository persists templates, their rules and exceptions.
type Repository interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]Schedule, int, error)

	// SchedulesForResource returns templates (with availabilities) whose
	// validity window intersects [from, to].
	SchedulesForResource(ctx context.Context, ref resource.Ref, from, to time.Time) ([]Schedule, error)
	ScheduleForAvailability(ctx context.Context, availabilityID uuid.UUID) (*Schedule, error)

	CreateAvailability(ctx context.Context, a *Availability) error
	GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) error

	CreateException(ctx context.Context, e *Exception) error
	GetException(ctx context.Context, id uuid.UUID) (*Exception, error)
	DeleteException(ctx context.Context, id uuid.UUID) error
	ListExceptions(ctx context.Context, f ExceptionFilter) ([]Exception, error)
}

// BookingLookup is the view of the booking engine the overlay needs to
// protect existing appointments from administrative changes.
type BookingLookup interface {
	ActiveInRange(ctx context.Context, ref resource.Ref, from, to time.Time) ([]BookedWindow, error)
	CountActiveFrom(ctx context.Context, availabilityIDs []uuid.UUID, from time.Time) (int, error)
	FlagForReview(ctx context.Context, ids []uuid.UUID, reason string) error
}

func exceptionFilterFor(ref resource.Ref, from, to civil.Date) ExceptionFilter {
	return ExceptionFilter{Resource: &ref, From: &from, To: &to}
}
