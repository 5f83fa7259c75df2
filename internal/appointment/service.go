package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

var (
	ErrSlotNotFound         = slots.ErrSlotNotFound
	ErrSlotFull             = apperr.New(apperr.KindConflict, "slot_full", "slot has no remaining capacity")
	ErrSlotInPast           = apperr.New(apperr.KindValidation, "slot_in_past", "slot has already started")
	ErrSlotBeingBooked      = apperr.New(apperr.KindTransient, "slot_busy", "slot is currently being booked, please retry")
	ErrPatientAlreadyBooked = apperr.New(apperr.KindConflict, "patient_already_booked", "patient already holds this slot")
	ErrInvalidTransition    = apperr.New(apperr.KindState, "invalid_transition", "invalid status transition")
	ErrAlreadyTerminal      = apperr.New(apperr.KindState, "already_terminal", "appointment is already in a terminal status")
	ErrSameSlot             = apperr.New(apperr.KindValidation, "same_slot", "new slot must differ from the current slot")
)

// SlotResolver regenerates a slot by id with a live allocation count.
type SlotResolver interface {
	Resolve(ctx context.Context, id string) (slots.TokenSlot, error)
}

// TokenReleaser cancels the queue token of an appointment that no longer
// takes place.
type TokenReleaser interface {
	ReleaseForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) error
}

type Service struct {
	repo          Repository
	slots         SlotResolver
	tx            db.Transactor
	locker        lock.Locker
	tokens        TokenReleaser
	initialStatus Status
	now           func() time.Time
	log           zerolog.Logger
}

func NewService(repo Repository, resolver SlotResolver, tx db.Transactor, locker lock.Locker, cfg config.Config, logger zerolog.Logger) *Service {
	initial := StatusBooked
	if Status(cfg.InitialStatus) == StatusProposed {
		initial = StatusProposed
	}
	return &Service{
		repo:          repo,
		slots:         resolver,
		tx:            tx,
		locker:        locker,
		initialStatus: initial,
		now:           time.Now,
		log:           logger.With().Str("component", "appointment").Logger(),
	}
}

// SetTokenReleaser wires the token queue once it exists; the queue itself
// depends on this service.
func (s *Service) SetTokenReleaser(t TokenReleaser) { s.tokens = t }

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// BookSlot claims one unit of capacity on a slot. The capacity check and the
// insert happen under the slot's lock inside one transaction, so concurrent
// callers past capacity always get ErrSlotFull.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	key, err := slots.ParseID(req.SlotID)
	if err != nil {
		return nil, err
	}

	// Validate patient exists
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment

	err = s.withSlotLocks(ctx, []slots.Key{key}, func(txCtx context.Context) error {
		slot, err := s.claimable(txCtx, req.SlotID, req.PatientID)
		if err != nil {
			return err
		}

		appt := &Appointment{
			ID:             uuid.New(),
			FacilityID:     slot.FacilityID,
			Resource:       slot.Resource,
			AvailabilityID: slot.AvailabilityID,
			SlotStart:      slot.Start,
			SlotEnd:        slot.End,
			PatientID:      req.PatientID,
			Status:         s.initialStatus,
			Note:           req.Note,
			Tags:           normalizeTags(req.Tags),
			BookedBy:       req.BookedBy,
		}
		if err := s.repo.CreateAppointment(txCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentBooked, appt.ID, map[string]any{
			"slot_id":    slot.ID,
			"patient_id": req.PatientID.String(),
			"status":     string(appt.Status),
			"allocated":  slot.Allocated + 1,
			"capacity":   slot.TokensPerSlot,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", req.SlotID).
		Str("patient_id", req.PatientID.String()).
		Msg("appointment booked")
	return created, nil
}

// claimable resolves a slot inside the locked transaction and checks it can
// take one more appointment for patientID.
func (s *Service) claimable(ctx context.Context, slotID string, patientID uuid.UUID) (slots.TokenSlot, error) {
	slot, err := s.slots.Resolve(ctx, slotID)
	if err != nil {
		return slots.TokenSlot{}, err
	}
	if !slot.Start.After(s.now()) {
		return slots.TokenSlot{}, ErrSlotInPast
	}
	if slot.Full() {
		return slots.TokenSlot{}, ErrSlotFull.WithMessage("slot %s is full (%d/%d)", slot.ID, slot.Allocated, slot.TokensPerSlot)
	}
	dup, err := s.repo.PatientHasActiveInWindow(ctx, patientID, slot.Key())
	if err != nil {
		return slots.TokenSlot{}, fmt.Errorf("check patient bookings: %w", err)
	}
	if dup {
		return slots.TokenSlot{}, ErrPatientAlreadyBooked
	}
	return slot, nil
}

// withSlotLocks takes the distributed lock of every key in a fixed order,
// then runs fn in a transaction that also holds the database-side locks.
func (s *Service) withSlotLocks(ctx context.Context, keys []slots.Key, fn func(ctx context.Context) error) error {
	keys = sortKeys(keys)

	run := func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(txCtx context.Context) error {
			for _, k := range keys {
				if err := s.repo.LockSlot(txCtx, k); err != nil {
					return err
				}
			}
			return fn(txCtx)
		})
	}
	for i := len(keys) - 1; i >= 0; i-- {
		inner, key := run, keys[i]
		run = func(ctx context.Context) error {
			return s.locker.WithLock(ctx, key.LockKey(), inner)
		}
	}

	err := run(ctx)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrSlotBeingBooked.Wrap(err)
	}
	return err
}

func sortKeys(keys []slots.Key) []slots.Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b slots.Key) int {
		return strings.Compare(a.String(), b.String())
	})
	return slices.CompactFunc(out, func(a, b slots.Key) bool {
		return a.String() == b.String()
	})
}

// Cancel moves a non-terminal appointment to cancelled or entered_in_error,
// which frees its unit of capacity.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason Status, note string) (*Appointment, error) {
	if reason == "" {
		reason = StatusCancelled
	}
	if reason != StatusCancelled && reason != StatusEnteredInError {
		return nil, apperr.Validation("cancel reason must be %q or %q", StatusCancelled, StatusEnteredInError)
	}

	var updated *Appointment
	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		appt, err := s.repo.LockAppointment(txCtx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return ErrAlreadyTerminal.WithMessage("appointment is already %s", appt.Status)
		}

		var notePtr *string
		if note != "" {
			notePtr = &note
		}
		updated, err = s.repo.UpdateAppointmentStatus(txCtx, id, appt.Status, reason, notePtr)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrAlreadyTerminal.WithMessage("appointment changed concurrently")
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := s.releaseToken(txCtx, id, string(reason)); err != nil {
			return err
		}
		return s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentCancelled, id, map[string]any{
			"from":   string(appt.Status),
			"to":     string(reason),
			"reason": note,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("status", string(reason)).Msg("appointment cancelled")
	return updated, nil
}

// Transition applies a plain status update. Cancellation statuses are routed
// through Cancel; rescheduled is only reachable through Reschedule.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}
	switch to {
	case StatusCancelled, StatusEnteredInError:
		return s.Cancel(ctx, id, to, "")
	case StatusRescheduled:
		return nil, ErrInvalidTransition.WithMessage("use the reschedule operation to move an appointment")
	}

	var updated *Appointment
	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		appt, err := s.repo.LockAppointment(txCtx, id)
		if err != nil {
			return err
		}
		if !CanTransition(appt.Status, to) {
			return ErrInvalidTransition.WithMessage("cannot move appointment from %s to %s", appt.Status, to)
		}
		if to == StatusNoShow && !s.now().After(appt.SlotStart) {
			return ErrInvalidTransition.WithMessage("cannot mark noshow before the slot starts")
		}

		updated, err = s.repo.UpdateAppointmentStatus(txCtx, id, appt.Status, to, nil)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrInvalidTransition.WithMessage("appointment changed concurrently")
			}
			return fmt.Errorf("update appointment status: %w", err)
		}

		return s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentTransition, id, map[string]any{
			"from": string(appt.Status),
			"to":   string(to),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Str("status", string(to)).Msg("appointment transitioned")
	return updated, nil
}

// Reschedule atomically retires an appointment and books its patient into a
// different slot. Both slot windows are locked in a fixed order so two
// reschedules crossing the same pair of slots cannot deadlock.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*RescheduleResult, error) {
	newKey, err := slots.ParseID(req.NewSlotID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrAlreadyTerminal.WithMessage("appointment is already %s", current.Status)
	}
	oldKey := current.SlotKey()
	if oldKey.String() == newKey.String() {
		return nil, ErrSameSlot
	}

	result := &RescheduleResult{}
	err = s.withSlotLocks(ctx, []slots.Key{oldKey, newKey}, func(txCtx context.Context) error {
		old, err := s.repo.LockAppointment(txCtx, id)
		if err != nil {
			return err
		}
		if old.Status.Terminal() {
			return ErrAlreadyTerminal.WithMessage("appointment is already %s", old.Status)
		}

		slot, err := s.claimable(txCtx, req.NewSlotID, old.PatientID)
		if err != nil {
			return err
		}

		note := old.Note
		if req.Note != nil {
			note = *req.Note
		}
		bookedBy := old.BookedBy
		if req.BookedBy != nil {
			bookedBy = req.BookedBy
		}
		next := &Appointment{
			ID:              uuid.New(),
			FacilityID:      slot.FacilityID,
			Resource:        slot.Resource,
			AvailabilityID:  slot.AvailabilityID,
			SlotStart:       slot.Start,
			SlotEnd:         slot.End,
			PatientID:       old.PatientID,
			Status:          StatusBooked,
			Note:            note,
			Tags:            old.Tags,
			BookedBy:        bookedBy,
			RescheduledFrom: &old.ID,
		}
		if err := s.repo.CreateAppointment(txCtx, next); err != nil {
			return fmt.Errorf("create rescheduled appointment: %w", err)
		}

		prev, err := s.repo.UpdateAppointmentStatus(txCtx, old.ID, old.Status, StatusRescheduled, nil)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrAlreadyTerminal.WithMessage("appointment changed concurrently")
			}
			return fmt.Errorf("retire appointment: %w", err)
		}
		if err := s.repo.LinkRescheduled(txCtx, old.ID, next.ID); err != nil {
			return fmt.Errorf("link rescheduled appointment: %w", err)
		}
		prev.RescheduledTo = &next.ID

		if err := s.releaseToken(txCtx, old.ID, string(StatusRescheduled)); err != nil {
			return err
		}

		payload := map[string]any{
			"from_appointment": old.ID.String(),
			"to_appointment":   next.ID.String(),
			"from_slot":        old.SlotID(),
			"to_slot":          slot.ID,
		}
		if err := s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentRescheduled, old.ID, payload)); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentBooked, next.ID, payload)); err != nil {
			return err
		}

		result.Previous = prev
		result.Current = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("new_appointment_id", result.Current.ID.String()).
		Str("slot_id", req.NewSlotID).
		Msg("appointment rescheduled")
	return result, nil
}

// LockActive reads an appointment under its row lock inside the caller's
// transaction and fails unless it can still be served. Cancel and Reschedule
// take the same lock before releasing tokens, so a token issued under it is
// either seen and released or never issued.
func (s *Service) LockActive(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.LockAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return appt, ErrAlreadyTerminal.WithMessage("appointment is %s", appt.Status)
	}
	return appt, nil
}

func (s *Service) releaseToken(ctx context.Context, appointmentID uuid.UUID, reason string) error {
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.ReleaseForAppointment(ctx, appointmentID, reason); err != nil {
		return fmt.Errorf("release token: %w", err)
	}
	return nil
}

// UpdateDetails edits the free-form fields of an appointment without
// touching its status.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, note *string, tags []string) (*Appointment, error) {
	if tags != nil {
		tags = normalizeTags(tags)
	}
	appt, err := s.repo.UpdateDetails(ctx, id, note, tags)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// Update applies detail edits and an optional status change in one
// transaction. A rejected transition leaves the details untouched.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		var err error
		if req.Note != nil || req.Tags != nil {
			if out, err = s.UpdateDetails(txCtx, id, req.Note, req.Tags); err != nil {
				return err
			}
		}
		if req.Status != nil {
			if out, err = s.Transition(txCtx, id, *req.Status); err != nil {
				return err
			}
		}
		if out == nil {
			out, err = s.repo.GetAppointmentByID(txCtx, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get retrieves an appointment with its patient.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Appointment: *appt, SlotID: appt.SlotID()}

	p, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	switch {
	case err == nil:
		detail.Patient = p
	case errors.Is(err, ErrPatientNotFound):
	default:
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return detail, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20 // default
	}
	if f.Limit > 100 {
		f.Limit = 100 // max
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, apperr.Validation("unknown status %q", st)
		}
	}

	appts, total, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return appts, total, nil
}

// MarkNoShows is intended to be called by the worker periodically. It moves
// appointments whose slot started more than grace ago without check-in to
// noshow.
func (s *Service) MarkNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	candidates, err := s.repo.FindNoShowCandidates(ctx, cutoff, 500)
	if err != nil {
		return 0, fmt.Errorf("find no-show candidates: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		err := s.tx.InTx(ctx, func(txCtx context.Context) error {
			if _, err := s.repo.UpdateAppointmentStatus(txCtx, appt.ID, appt.Status, StatusNoShow, nil); err != nil {
				return err
			}
			return s.repo.InsertEvent(txCtx, audit.ForAppointment(audit.EventAppointmentTransition, appt.ID, map[string]any{
				"from":   string(appt.Status),
				"to":     string(StatusNoShow),
				"reason": "worker",
			}))
		})
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			}
			continue
		}
		marked++
	}

	return marked, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
