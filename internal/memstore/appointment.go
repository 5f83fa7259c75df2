package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

func (s *Store) GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	var out *appointment.Patient
	err := s.read(func(d *state) error {
		p, ok := d.patients[id]
		if !ok {
			return appointment.ErrPatientNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var out *appointment.Appointment
	err := s.read(func(d *state) error {
		a, ok := d.appointments[id]
		if !ok {
			return appointment.ErrAppointmentNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

// LockAppointment is a plain read; transactions are already serialized.
func (s *Store) LockAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.GetAppointmentByID(ctx, id)
}

func (s *Store) ListAppointments(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, int, error) {
	var matched []appointment.Appointment
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if f.PatientID != nil && a.PatientID != *f.PatientID {
				continue
			}
			if f.Resource != nil && a.Resource != *f.Resource {
				continue
			}
			if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
				continue
			}
			if f.From != nil && a.SlotStart.Before(*f.From) {
				continue
			}
			if f.To != nil && !a.SlotStart.Before(*f.To) {
				continue
			}
			matched = append(matched, a)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].SlotStart.Equal(matched[j].SlotStart) {
			return matched[i].SlotStart.After(matched[j].SlotStart)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

// LockSlot is a no-op: transactions are already serialized.
func (s *Store) LockSlot(context.Context, slots.Key) error { return nil }

func (s *Store) PatientHasActiveInWindow(ctx context.Context, patientID uuid.UUID, key slots.Key) (bool, error) {
	found := false
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if a.PatientID == patientID && !a.Status.Terminal() && sameWindow(a, key) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func sameWindow(a appointment.Appointment, key slots.Key) bool {
	return a.AvailabilityID == key.AvailabilityID && a.SlotStart.Equal(key.Start)
}

func (s *Store) CreateAppointment(ctx context.Context, a *appointment.Appointment) error {
	return s.write(ctx, func(d *state) error {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Tags == nil {
			a.Tags = []string{}
		}
		now := s.tick()
		a.CreatedAt, a.UpdatedAt = now, now
		a.Tags = slices.Clone(a.Tags)
		d.appointments[a.ID] = *a
		return nil
	})
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status, reason *string) (*appointment.Appointment, error) {
	var out *appointment.Appointment
	err := s.write(ctx, func(d *state) error {
		a, ok := d.appointments[id]
		if !ok || a.Status != from {
			return appointment.ErrAppointmentNotFound
		}
		a.Status = to
		if reason != nil {
			a.CancelReason = reason
		}
		a.UpdatedAt = s.tick()
		d.appointments[id] = a
		out = &a
		return nil
	})
	return out, err
}

func (s *Store) LinkRescheduled(ctx context.Context, id, to uuid.UUID) error {
	return s.write(ctx, func(d *state) error {
		a, ok := d.appointments[id]
		if !ok {
			return appointment.ErrAppointmentNotFound
		}
		a.RescheduledTo = &to
		a.UpdatedAt = s.tick()
		d.appointments[id] = a
		return nil
	})
}

func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, note *string, tags []string) (*appointment.Appointment, error) {
	var out *appointment.Appointment
	err := s.write(ctx, func(d *state) error {
		a, ok := d.appointments[id]
		if !ok {
			return appointment.ErrAppointmentNotFound
		}
		if note != nil {
			a.Note = *note
		}
		if tags != nil {
			a.Tags = slices.Clone(tags)
		}
		a.UpdatedAt = s.tick()
		d.appointments[id] = a
		out = &a
		return nil
	})
	return out, err
}

func (s *Store) FindNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if !appointment.CanTransition(a.Status, appointment.StatusNoShow) {
				continue
			}
			if a.SlotStart.Before(startedBefore) {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) InsertEvent(ctx context.Context, ev audit.Event) error {
	return s.write(ctx, func(d *state) error {
		s.appendEvent(d, ev)
		return nil
	})
}

// slots.AllocationCounter

func (s *Store) AllocatedBetween(ctx context.Context, ref resource.Ref, from, to time.Time) (map[slots.Key]int, error) {
	counts := make(map[slots.Key]int)
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if a.Resource != ref || a.Status.Terminal() {
				continue
			}
			if a.SlotStart.Before(from) || !a.SlotStart.Before(to) {
				continue
			}
			counts[a.SlotKey()]++
		}
		return nil
	})
	return counts, err
}

func (s *Store) AllocatedFor(ctx context.Context, key slots.Key) (int, error) {
	n := 0
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if !a.Status.Terminal() && sameWindow(a, key) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// availability.BookingLookup

func (s *Store) ActiveInRange(ctx context.Context, ref resource.Ref, from, to time.Time) ([]availability.BookedWindow, error) {
	var out []availability.BookedWindow
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if a.Resource != ref || a.Status.Terminal() {
				continue
			}
			if a.SlotStart.Before(to) && a.SlotEnd.After(from) {
				out = append(out, availability.BookedWindow{AppointmentID: a.ID, Start: a.SlotStart, End: a.SlotEnd})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].AppointmentID.String() < out[j].AppointmentID.String()
	})
	return out, err
}

func (s *Store) CountActiveFrom(ctx context.Context, availabilityIDs []uuid.UUID, from time.Time) (int, error) {
	n := 0
	err := s.read(func(d *state) error {
		for _, a := range d.appointments {
			if a.Status.Terminal() || a.SlotStart.Before(from) {
				continue
			}
			if slices.Contains(availabilityIDs, a.AvailabilityID) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) FlagForReview(ctx context.Context, ids []uuid.UUID, reason string) error {
	return s.write(ctx, func(d *state) error {
		for _, id := range ids {
			a, ok := d.appointments[id]
			if !ok {
				continue
			}
			a.NeedsReview = true
			a.ReviewReason = &reason
			a.UpdatedAt = s.tick()
			d.appointments[id] = a
			s.appendEvent(d, audit.ForAppointment(audit.EventAppointmentFlagged, id, map[string]any{"reason": reason}))
		}
		return nil
	})
}
