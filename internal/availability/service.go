package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var (
	ErrScheduleHasBookings     = apperr.New(apperr.KindConflict, "schedule_has_bookings", "schedule still has upcoming appointments")
	ErrOverlapsExistingBooking = apperr.New(apperr.KindConflict, "overlaps_existing_booking", "exception overlaps existing appointments")
	ErrOverlappingRules        = apperr.New(apperr.KindValidation, "overlapping_rules", "appointment rules overlap within the schedule")
)

type Service struct {
	repo     Repository
	bookings BookingLookup
	tx       db.Transactor
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(repo Repository, bookings BookingLookup, tx db.Transactor, cfg config.Config, logger zerolog.Logger) *Service {
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:     repo,
		bookings: bookings,
		tx:       tx,
		loc:      loc,
		now:      time.Now,
		log:      logger.With().Str("component", "availability").Logger(),
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Location is the facility timezone all wall-clock rules are read in.
func (s *Service) Location() *time.Location { return s.loc }

// -- Schedules --

func validateSchedule(sched *Schedule) error {
	if err := sched.Resource.Validate(); err != nil {
		return err
	}
	if sched.FacilityID == uuid.Nil {
		return apperr.Validation("facility_id is required")
	}
	if strings.TrimSpace(sched.Name) == "" {
		return apperr.Validation("name is required")
	}
	if sched.ValidFrom.IsZero() || sched.ValidTo.IsZero() {
		return apperr.Validation("valid_from and valid_to are required")
	}
	if sched.ValidFrom.After(sched.ValidTo) {
		return apperr.Validation("valid_from must not be after valid_to")
	}
	return nil
}

// CreateSchedule stores a template together with any availabilities it
// carries.
func (s *Service) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if err := validateSchedule(sched); err != nil {
		return err
	}
	for i := range sched.Availabilities {
		if err := validateAvailability(&sched.Availabilities[i]); err != nil {
			return err
		}
	}
	if err := checkOverlaps(sched.Availabilities); err != nil {
		return err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		avs := sched.Availabilities
		if err := s.repo.CreateSchedule(ctx, sched); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		created := make([]Availability, 0, len(avs))
		for _, a := range avs {
			a.ScheduleID = sched.ID
			if err := s.repo.CreateAvailability(ctx, &a); err != nil {
				return fmt.Errorf("create availability: %w", err)
			}
			created = append(created, a)
		}
		sched.Availabilities = created
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule_id", sched.ID.String()).Str("resource", sched.Resource.String()).Msg("schedule created")
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, f ScheduleFilter) ([]Schedule, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListSchedules(ctx, f)
}

// UpdateSchedule changes the name and validity window. Narrowing the window
// is refused while it would orphan upcoming appointments.
func (s *Service) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetSchedule(ctx, sched.ID)
		if err != nil {
			return err
		}
		sched.FacilityID = current.FacilityID
		sched.Resource = current.Resource
		if err := validateSchedule(sched); err != nil {
			return err
		}

		ids := availabilityIDs(current.Availabilities)
		now := s.now()

		if sched.ValidTo.Before(current.ValidTo) {
			cutoff := civil.DateOf(sched.ValidTo.In(s.loc)).AddDays(1).In(s.loc)
			if cutoff.Before(now) {
				cutoff = now
			}
			n, err := s.bookings.CountActiveFrom(ctx, ids, cutoff)
			if err != nil {
				return fmt.Errorf("count bookings: %w", err)
			}
			if n > 0 {
				return ErrScheduleHasBookings.WithMessage("%d upcoming appointments fall after the new valid_to", n)
			}
		}
		if sched.ValidFrom.After(current.ValidFrom) {
			start := civil.DateOf(sched.ValidFrom.In(s.loc)).In(s.loc)
			if start.After(now) {
				fromNow, err := s.bookings.CountActiveFrom(ctx, ids, now)
				if err != nil {
					return fmt.Errorf("count bookings: %w", err)
				}
				fromStart, err := s.bookings.CountActiveFrom(ctx, ids, start)
				if err != nil {
					return fmt.Errorf("count bookings: %w", err)
				}
				if fromNow > fromStart {
					return ErrScheduleHasBookings.WithMessage("%d upcoming appointments fall before the new valid_from", fromNow-fromStart)
				}
			}
		}

		sched.Availabilities = current.Availabilities
		sched.CreatedAt = current.CreatedAt
		return s.repo.UpdateSchedule(ctx, sched)
	})
}

// DeleteSchedule removes a superseded template. Past appointments keep
// their own copy of the slot window.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		sched, err := s.repo.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		n, err := s.bookings.CountActiveFrom(ctx, availabilityIDs(sched.Availabilities), s.now())
		if err != nil {
			return fmt.Errorf("count bookings: %w", err)
		}
		if n > 0 {
			return ErrScheduleHasBookings.WithMessage("schedule has %d upcoming appointments", n)
		}
		return s.repo.DeleteSchedule(ctx, id)
	})
}

// -- Availabilities --

func validateAvailability(a *Availability) error {
	if strings.TrimSpace(a.Name) == "" {
		return apperr.Validation("availability name is required")
	}
	if !a.SlotType.Valid() {
		return apperr.Validation("invalid slot_type %q", a.SlotType)
	}
	if a.SlotType == SlotTypeAppointment {
		if a.SlotSizeInMinutes == nil || *a.SlotSizeInMinutes <= 0 {
			return apperr.Validation("slot_size_in_minutes is required for appointment slots")
		}
		if a.TokensPerSlot == nil || *a.TokensPerSlot <= 0 {
			return apperr.Validation("tokens_per_slot is required for appointment slots")
		}
	} else if a.SlotSizeInMinutes != nil || a.TokensPerSlot != nil {
		return apperr.Validation("%s slots must not carry slot_size_in_minutes or tokens_per_slot", a.SlotType)
	}
	if len(a.Rules) == 0 {
		return apperr.Validation("at least one availability rule is required")
	}

	for i, r := range a.Rules {
		if r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
			return apperr.Validation("rule %d: day_of_week must be between 0 and 6", i)
		}
		if !r.StartTime.Valid() || !r.EndTime.Valid() || r.StartTime >= r.EndTime {
			return apperr.Validation("rule %d: start_time must be before end_time", i)
		}
		if a.SlotType == SlotTypeAppointment && r.EndTime-r.StartTime < civil.TimeOfDay(*a.SlotSizeInMinutes) {
			return apperr.Validation("rule %d: window is shorter than one slot", i)
		}
		for j := 0; j < i; j++ {
			if r.Overlaps(a.Rules[j]) {
				return ErrOverlappingRules.WithMessage("rules %d and %d overlap", j, i)
			}
		}
	}
	return nil
}

// checkOverlaps rejects appointment rules of one schedule that cover the same
// weekday and time. Separate schedules for the same resource may overlap.
func checkOverlaps(avs []Availability) error {
	for i := range avs {
		if avs[i].SlotType != SlotTypeAppointment {
			continue
		}
		for j := 0; j < i; j++ {
			if avs[j].SlotType != SlotTypeAppointment {
				continue
			}
			for _, a := range avs[i].Rules {
				for _, b := range avs[j].Rules {
					if a.Overlaps(b) {
						return ErrOverlappingRules.WithMessage("availability %q overlaps %q on %s", avs[i].Name, avs[j].Name, a.DayOfWeek)
					}
				}
			}
		}
	}
	return nil
}

func (s *Service) AddAvailability(ctx context.Context, scheduleID uuid.UUID, a *Availability) error {
	if err := validateAvailability(a); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		sched, err := s.repo.GetSchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		if err := checkOverlaps(append(sched.Availabilities, *a)); err != nil {
			return err
		}
		a.ScheduleID = scheduleID
		return s.repo.CreateAvailability(ctx, a)
	})
}

func (s *Service) RemoveAvailability(ctx context.Context, scheduleID, availabilityID uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetAvailability(ctx, availabilityID)
		if err != nil {
			return err
		}
		if a.ScheduleID != scheduleID {
			return ErrAvailabilityNotFound
		}
		n, err := s.bookings.CountActiveFrom(ctx, []uuid.UUID{availabilityID}, s.now())
		if err != nil {
			return fmt.Errorf("count bookings: %w", err)
		}
		if n > 0 {
			return ErrScheduleHasBookings.WithMessage("availability has %d upcoming appointments", n)
		}
		return s.repo.DeleteAvailability(ctx, availabilityID)
	})
}

// -- Exceptions --

func validateException(e *Exception) error {
	if err := e.Resource.Validate(); err != nil {
		return err
	}
	if e.FacilityID == uuid.Nil {
		return apperr.Validation("facility_id is required")
	}
	if strings.TrimSpace(e.Reason) == "" {
		return apperr.Validation("reason is required")
	}
	if e.ValidFrom.IsZero() || e.ValidTo.IsZero() {
		return apperr.Validation("valid_from and valid_to are required")
	}
	if e.ValidFrom.After(e.ValidTo) {
		return apperr.Validation("valid_from must not be after valid_to")
	}
	if !e.StartTime.Valid() || !e.EndTime.Valid() || e.StartTime >= e.EndTime {
		return apperr.Validation("start_time must be before end_time")
	}
	return nil
}

// ExceptionResult carries the appointments an exception collides with.
type ExceptionResult struct {
	Exception *Exception  `json:"exception,omitempty"`
	Affected  []uuid.UUID `json:"affected_appointments"`
}

// CreateException adds a suppression window. When the window overlaps
// active appointments the call fails with ErrOverlapsExistingBooking unless
// confirm is set, in which case the exception is stored and the affected
// appointments are flagged for manual review. Appointments are never
// cancelled here.
func (s *Service) CreateException(ctx context.Context, e *Exception, confirm bool) (*ExceptionResult, error) {
	if err := validateException(e); err != nil {
		return nil, err
	}

	result := &ExceptionResult{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		from := e.ValidFrom.In(s.loc)
		to := e.ValidTo.AddDays(1).In(s.loc)
		booked, err := s.bookings.ActiveInRange(ctx, e.Resource, from, to)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}

		var affected []uuid.UUID
		for _, b := range booked {
			if e.Covers(b.Start, b.End, s.loc) {
				affected = append(affected, b.AppointmentID)
			}
		}
		result.Affected = affected

		if len(affected) > 0 && !confirm {
			return ErrOverlapsExistingBooking.WithMessage("exception overlaps %d active appointments", len(affected))
		}

		if err := s.repo.CreateException(ctx, e); err != nil {
			return fmt.Errorf("create exception: %w", err)
		}
		if len(affected) > 0 {
			reason := fmt.Sprintf("schedule exception %s: %s", e.ID, e.Reason)
			if err := s.bookings.FlagForReview(ctx, affected, reason); err != nil {
				return fmt.Errorf("flag appointments: %w", err)
			}
		}
		result.Exception = e
		return nil
	})
	if err != nil {
		return result, err
	}

	s.log.Info().
		Str("exception_id", e.ID.String()).
		Str("resource", e.Resource.String()).
		Int("flagged", len(result.Affected)).
		Msg("schedule exception created")
	return result, nil
}

func (s *Service) ListExceptions(ctx context.Context, f ExceptionFilter) ([]Exception, error) {
	return s.repo.ListExceptions(ctx, f)
}

// DeleteException only affects future slot computations.
func (s *Service) DeleteException(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetException(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteException(ctx, id)
}

// -- Read side for the slot generator --

// Snapshot loads the templates and exceptions of ref relevant to the
// inclusive date range.
func (s *Service) Snapshot(ctx context.Context, ref resource.Ref, from, to civil.Date) (Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return Snapshot{}, err
	}
	scheds, err := s.repo.SchedulesForResource(ctx, ref, from.In(s.loc), to.AddDays(1).In(s.loc))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load schedules: %w", err)
	}
	exceptions, err := s.repo.ListExceptions(ctx, exceptionFilterFor(ref, from, to))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load exceptions: %w", err)
	}
	return Snapshot{Resource: ref, Schedules: scheds, Exceptions: exceptions}, nil
}

// SnapshotForAvailability narrows a snapshot to the schedule owning
// availabilityID on one day.
func (s *Service) SnapshotForAvailability(ctx context.Context, availabilityID uuid.UUID, day civil.Date) (Snapshot, error) {
	sched, err := s.repo.ScheduleForAvailability(ctx, availabilityID)
	if err != nil {
		return Snapshot{}, err
	}
	exceptions, err := s.repo.ListExceptions(ctx, exceptionFilterFor(sched.Resource, day, day))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load exceptions: %w", err)
	}
	return Snapshot{Resource: sched.Resource, Schedules: []Schedule{*sched}, Exceptions: exceptions}, nil
}

func availabilityIDs(avs []Availability) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(avs))
	for _, a := range avs {
		ids = append(ids, a.ID)
	}
	return ids
}
