package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/token"
)

func (s *Store) CreateCategory(ctx context.Context, c *token.Category) error {
	return s.write(ctx, func(d *state) error {
		if c.IsDefault {
			for _, other := range d.categories {
				if other.IsDefault && other.FacilityID == c.FacilityID && other.ResourceType == c.ResourceType {
					return errUniqueViolation("token_categories_default_uniq")
				}
			}
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		now := s.tick()
		c.CreatedAt, c.UpdatedAt = now, now
		d.categories[c.ID] = *c
		return nil
	})
}

func (s *Store) GetCategory(ctx context.Context, id uuid.UUID) (*token.Category, error) {
	var out *token.Category
	err := s.read(func(d *state) error {
		c, ok := d.categories[id]
		if !ok {
			return token.ErrCategoryNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) DefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) (*token.Category, error) {
	var out *token.Category
	err := s.read(func(d *state) error {
		for _, c := range d.categories {
			if c.IsDefault && c.FacilityID == facilityID && c.ResourceType == rt {
				out = &c
				return nil
			}
		}
		return token.ErrCategoryNotFound
	})
	return out, err
}

func (s *Store) DemoteDefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) error {
	return s.write(ctx, func(d *state) error {
		for id, c := range d.categories {
			if c.IsDefault && c.FacilityID == facilityID && c.ResourceType == rt {
				c.IsDefault = false
				c.UpdatedAt = s.tick()
				d.categories[id] = c
			}
		}
		return nil
	})
}

func (s *Store) ListCategories(ctx context.Context, facilityID *uuid.UUID, rt *resource.Type) ([]token.Category, error) {
	var out []token.Category
	err := s.read(func(d *state) error {
		for _, c := range d.categories {
			if facilityID != nil && c.FacilityID != *facilityID {
				continue
			}
			if rt != nil && c.ResourceType != *rt {
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Name < out[j].Name
	})
	return out, err
}

func (s *Store) CreateQueue(ctx context.Context, q *token.Queue) error {
	return s.write(ctx, func(d *state) error {
		if q.IsPrimary {
			for _, other := range d.queues {
				if other.IsPrimary && other.Resource == q.Resource && other.Date == q.Date {
					return errUniqueViolation("token_queues_primary_uniq")
				}
			}
		}
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		if q.Status == "" {
			q.Status = token.QueueActive
		}
		now := s.tick()
		q.CreatedAt, q.UpdatedAt = now, now
		d.queues[q.ID] = *q
		return nil
	})
}

func (s *Store) GetQueue(ctx context.Context, id uuid.UUID) (*token.Queue, error) {
	var out *token.Queue
	err := s.read(func(d *state) error {
		q, ok := d.queues[id]
		if !ok {
			return token.ErrQueueNotFound
		}
		out = &q
		return nil
	})
	return out, err
}

func (s *Store) ListQueues(ctx context.Context, f token.QueueFilter) ([]token.Queue, error) {
	var out []token.Queue
	err := s.read(func(d *state) error {
		for _, q := range d.queues {
			if f.FacilityID != nil && q.FacilityID != *f.FacilityID {
				continue
			}
			if f.Resource != nil && q.Resource != *f.Resource {
				continue
			}
			if f.Date != nil && q.Date != *f.Date {
				continue
			}
			out = append(out, q)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c > 0
		}
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) PrimaryQueue(ctx context.Context, ref resource.Ref, day civil.Date) (*token.Queue, error) {
	var out *token.Queue
	err := s.read(func(d *state) error {
		for _, q := range d.queues {
			if q.IsPrimary && q.Resource == ref && q.Date == day {
				out = &q
				return nil
			}
		}
		return token.ErrQueueNotFound
	})
	return out, err
}

func (s *Store) DemotePrimary(ctx context.Context, ref resource.Ref, day civil.Date) error {
	return s.write(ctx, func(d *state) error {
		for id, q := range d.queues {
			if q.IsPrimary && q.Resource == ref && q.Date == day {
				q.IsPrimary = false
				q.UpdatedAt = s.tick()
				d.queues[id] = q
			}
		}
		return nil
	})
}

func (s *Store) PromotePrimary(ctx context.Context, id uuid.UUID) (*token.Queue, error) {
	var out *token.Queue
	err := s.write(ctx, func(d *state) error {
		q, ok := d.queues[id]
		if !ok {
			return token.ErrQueueNotFound
		}
		for otherID, other := range d.queues {
			if otherID != id && other.IsPrimary && other.Resource == q.Resource && other.Date == q.Date {
				return errUniqueViolation("token_queues_primary_uniq")
			}
		}
		q.IsPrimary = true
		q.UpdatedAt = s.tick()
		d.queues[id] = q
		out = &q
		return nil
	})
	return out, err
}

func (s *Store) UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to token.QueueStatus) (*token.Queue, error) {
	var out *token.Queue
	err := s.write(ctx, func(d *state) error {
		q, ok := d.queues[id]
		if !ok || q.Status != from {
			return token.ErrQueueNotFound
		}
		q.Status = to
		q.UpdatedAt = s.tick()
		d.queues[id] = q
		out = &q
		return nil
	})
	return out, err
}

// LockQueue is a no-op: transactions are already serialized.
func (s *Store) LockQueue(context.Context, uuid.UUID) error { return nil }

func (s *Store) LockQueueDay(context.Context, resource.Ref, civil.Date) error { return nil }

func (s *Store) CountIssued(ctx context.Context, queueID, scopeID uuid.UUID) (int, error) {
	n := 0
	err := s.read(func(d *state) error {
		for _, t := range d.tokens {
			if t.QueueID == queueID && t.ScopeID == scopeID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) CreateToken(ctx context.Context, t *token.Token) error {
	return s.write(ctx, func(d *state) error {
		for _, other := range d.tokens {
			if other.QueueID == t.QueueID && other.ScopeID == t.ScopeID && other.Number == t.Number {
				return errUniqueViolation("tokens_queue_id_scope_id_number_key")
			}
			if t.AppointmentID != nil && other.AppointmentID != nil && *other.AppointmentID == *t.AppointmentID && live(other.Status) {
				return token.ErrTokenAlreadyIssued
			}
		}
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		now := s.tick()
		t.CreatedAt, t.UpdatedAt = now, now
		d.tokens[t.ID] = *t
		return nil
	})
}

func live(st token.Status) bool {
	return st == token.StatusCreated || st == token.StatusCalled
}

func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*token.Token, error) {
	var out *token.Token
	err := s.read(func(d *state) error {
		t, ok := d.tokens[id]
		if !ok {
			return token.ErrTokenNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (s *Store) LiveTokenForAppointment(ctx context.Context, appointmentID uuid.UUID) (*token.Token, error) {
	var out *token.Token
	err := s.read(func(d *state) error {
		for _, t := range d.tokens {
			if t.AppointmentID != nil && *t.AppointmentID == appointmentID && live(t.Status) {
				out = &t
				return nil
			}
		}
		return token.ErrTokenNotFound
	})
	return out, err
}

func (s *Store) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to token.Status) (*token.Token, error) {
	var out *token.Token
	err := s.write(ctx, func(d *state) error {
		t, ok := d.tokens[id]
		if !ok || t.Status != from {
			return token.ErrTokenNotFound
		}
		t.Status = to
		t.UpdatedAt = s.tick()
		d.tokens[id] = t
		out = &t
		return nil
	})
	return out, err
}

func (s *Store) QueueTokens(ctx context.Context, queueID uuid.UUID) ([]token.Token, error) {
	var out []token.Token
	err := s.read(func(d *state) error {
		for _, t := range d.tokens {
			if t.QueueID == queueID {
				out = append(out, t)
			}
		}
		return nil
	})
	sortTokens(out, nil)
	return out, err
}

func (s *Store) ListTokens(ctx context.Context, f token.TokenFilter) ([]token.Token, error) {
	var out []token.Token
	days := make(map[uuid.UUID]civil.Date)
	err := s.read(func(d *state) error {
		for _, t := range d.tokens {
			q := d.queues[t.QueueID]
			if f.PatientID != nil && (t.PatientID == nil || *t.PatientID != *f.PatientID) {
				continue
			}
			if f.QueueID != nil && t.QueueID != *f.QueueID {
				continue
			}
			if f.Date != nil && q.Date != *f.Date {
				continue
			}
			days[t.QueueID] = q.Date
			out = append(out, t)
		}
		return nil
	})
	sortTokens(out, days)
	return out, err
}

func sortTokens(tokens []token.Token, days map[uuid.UUID]civil.Date) {
	sort.Slice(tokens, func(i, j int) bool {
		if days != nil {
			if c := days[tokens[i].QueueID].Compare(days[tokens[j].QueueID]); c != 0 {
				return c > 0
			}
		}
		if tokens[i].Number != tokens[j].Number {
			return tokens[i].Number < tokens[j].Number
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}
