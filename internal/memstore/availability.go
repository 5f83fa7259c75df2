package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

func (s *Store) CreateSchedule(ctx context.Context, sched *availability.Schedule) error {
	return s.write(ctx, func(d *state) error {
		if sched.ID == uuid.Nil {
			sched.ID = uuid.New()
		}
		now := s.tick()
		sched.CreatedAt, sched.UpdatedAt = now, now

		stored := *sched
		stored.Availabilities = nil
		d.schedules[sched.ID] = stored
		return nil
	})
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*availability.Schedule, error) {
	var out *availability.Schedule
	err := s.read(func(d *state) error {
		sched, ok := d.schedules[id]
		if !ok {
			return availability.ErrScheduleNotFound
		}
		out = withAvailabilities(sched)
		return nil
	})
	return out, err
}

func withAvailabilities(sched availability.Schedule) *availability.Schedule {
	sched.Availabilities = slices.Clone(sched.Availabilities)
	if sched.Availabilities == nil {
		sched.Availabilities = []availability.Availability{}
	}
	return &sched
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *availability.Schedule) error {
	return s.write(ctx, func(d *state) error {
		stored, ok := d.schedules[sched.ID]
		if !ok {
			return availability.ErrScheduleNotFound
		}
		stored.Name = sched.Name
		stored.ValidFrom = sched.ValidFrom
		stored.ValidTo = sched.ValidTo
		stored.UpdatedAt = s.tick()
		d.schedules[sched.ID] = stored
		*sched = *withAvailabilities(stored)
		return nil
	})
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(d *state) error {
		sched, ok := d.schedules[id]
		if !ok {
			return availability.ErrScheduleNotFound
		}
		for _, a := range sched.Availabilities {
			delete(d.availOwner, a.ID)
		}
		delete(d.schedules, id)
		return nil
	})
}

func (s *Store) ListSchedules(ctx context.Context, f availability.ScheduleFilter) ([]availability.Schedule, int, error) {
	var matched []availability.Schedule
	err := s.read(func(d *state) error {
		for _, sched := range d.schedules {
			if f.FacilityID != nil && sched.FacilityID != *f.FacilityID {
				continue
			}
			if f.Resource != nil && sched.Resource != *f.Resource {
				continue
			}
			matched = append(matched, *withAvailabilities(sched))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortSchedules(matched)

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *Store) SchedulesForResource(ctx context.Context, ref resource.Ref, from, to time.Time) ([]availability.Schedule, error) {
	var out []availability.Schedule
	err := s.read(func(d *state) error {
		for _, sched := range d.schedules {
			if sched.Resource != ref {
				continue
			}
			if !sched.ValidFrom.Before(to) || sched.ValidTo.Before(from) {
				continue
			}
			out = append(out, *withAvailabilities(sched))
		}
		return nil
	})
	sortSchedules(out)
	return out, err
}

func sortSchedules(scheds []availability.Schedule) {
	sort.Slice(scheds, func(i, j int) bool {
		if !scheds[i].ValidFrom.Equal(scheds[j].ValidFrom) {
			return scheds[i].ValidFrom.Before(scheds[j].ValidFrom)
		}
		return scheds[i].ID.String() < scheds[j].ID.String()
	})
}

func (s *Store) ScheduleForAvailability(ctx context.Context, availabilityID uuid.UUID) (*availability.Schedule, error) {
	var out *availability.Schedule
	err := s.read(func(d *state) error {
		owner, ok := d.availOwner[availabilityID]
		if !ok {
			return availability.ErrAvailabilityNotFound
		}
		out = withAvailabilities(d.schedules[owner])
		return nil
	})
	return out, err
}

func (s *Store) CreateAvailability(ctx context.Context, a *availability.Availability) error {
	return s.write(ctx, func(d *state) error {
		sched, ok := d.schedules[a.ScheduleID]
		if !ok {
			return availability.ErrScheduleNotFound
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		now := s.tick()
		a.CreatedAt, a.UpdatedAt = now, now
		a.Rules = slices.Clone(a.Rules)

		sched.Availabilities = append(slices.Clone(sched.Availabilities), *a)
		d.schedules[sched.ID] = sched
		d.availOwner[a.ID] = sched.ID
		return nil
	})
}

func (s *Store) GetAvailability(ctx context.Context, id uuid.UUID) (*availability.Availability, error) {
	var out *availability.Availability
	err := s.read(func(d *state) error {
		owner, ok := d.availOwner[id]
		if !ok {
			return availability.ErrAvailabilityNotFound
		}
		for _, a := range d.schedules[owner].Availabilities {
			if a.ID == id {
				out = &a
				return nil
			}
		}
		return availability.ErrAvailabilityNotFound
	})
	return out, err
}

func (s *Store) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(d *state) error {
		owner, ok := d.availOwner[id]
		if !ok {
			return availability.ErrAvailabilityNotFound
		}
		sched := d.schedules[owner]
		sched.Availabilities = slices.DeleteFunc(slices.Clone(sched.Availabilities), func(a availability.Availability) bool {
			return a.ID == id
		})
		d.schedules[owner] = sched
		delete(d.availOwner, id)
		return nil
	})
}

func (s *Store) CreateException(ctx context.Context, e *availability.Exception) error {
	return s.write(ctx, func(d *state) error {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = s.tick()
		d.exceptions[e.ID] = *e
		return nil
	})
}

func (s *Store) GetException(ctx context.Context, id uuid.UUID) (*availability.Exception, error) {
	var out *availability.Exception
	err := s.read(func(d *state) error {
		e, ok := d.exceptions[id]
		if !ok {
			return availability.ErrExceptionNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (s *Store) DeleteException(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(d *state) error {
		if _, ok := d.exceptions[id]; !ok {
			return availability.ErrExceptionNotFound
		}
		delete(d.exceptions, id)
		return nil
	})
}

func (s *Store) ListExceptions(ctx context.Context, f availability.ExceptionFilter) ([]availability.Exception, error) {
	var out []availability.Exception
	err := s.read(func(d *state) error {
		for _, e := range d.exceptions {
			if f.FacilityID != nil && e.FacilityID != *f.FacilityID {
				continue
			}
			if f.Resource != nil && e.Resource != *f.Resource {
				continue
			}
			if f.From != nil && e.ValidTo.Before(*f.From) {
				continue
			}
			if f.To != nil && e.ValidFrom.After(*f.To) {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ValidFrom.Compare(out[j].ValidFrom); c != 0 {
			return c < 0
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}
