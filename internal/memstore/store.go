// Package memstore is an in-memory implementation of every repository in
// the engine. It backs unit tests and single-instance local runs.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/token"
)

var (
	_ availability.Repository = (*Store)(nil)
	_ appointment.Repository  = (*Store)(nil)
	_ token.Repository        = (*Store)(nil)
	_ db.Transactor           = (*Store)(nil)
)

// ErrConstraint mirrors a unique index violation in the SQL schema.
var ErrConstraint = apperr.New(apperr.KindConflict, "constraint_violation", "unique constraint violated")

func errUniqueViolation(name string) error {
	return ErrConstraint.WithMessage("unique constraint %s violated", name)
}

type state struct {
	patients     map[uuid.UUID]appointment.Patient
	schedules    map[uuid.UUID]availability.Schedule
	availOwner   map[uuid.UUID]uuid.UUID
	exceptions   map[uuid.UUID]availability.Exception
	appointments map[uuid.UUID]appointment.Appointment
	categories   map[uuid.UUID]token.Category
	queues       map[uuid.UUID]token.Queue
	tokens       map[uuid.UUID]token.Token
	events       []audit.Event
}

func newState() *state {
	return &state{
		patients:     make(map[uuid.UUID]appointment.Patient),
		schedules:    make(map[uuid.UUID]availability.Schedule),
		availOwner:   make(map[uuid.UUID]uuid.UUID),
		exceptions:   make(map[uuid.UUID]availability.Exception),
		appointments: make(map[uuid.UUID]appointment.Appointment),
		categories:   make(map[uuid.UUID]token.Category),
		queues:       make(map[uuid.UUID]token.Queue),
		tokens:       make(map[uuid.UUID]token.Token),
	}
}

// clone copies every map. Values are replaced rather than mutated in place,
// so a shallow copy is a consistent snapshot.
func (s *state) clone() *state {
	return &state{
		patients:     maps.Clone(s.patients),
		schedules:    maps.Clone(s.schedules),
		availOwner:   maps.Clone(s.availOwner),
		exceptions:   maps.Clone(s.exceptions),
		appointments: maps.Clone(s.appointments),
		categories:   maps.Clone(s.categories),
		queues:       maps.Clone(s.queues),
		tokens:       maps.Clone(s.tokens),
		events:       s.events[:len(s.events):len(s.events)],
	}
}

// Store serializes transactions with one mutex and rolls a failed
// transaction back by restoring the snapshot taken when it began.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	last time.Time
	seq  int64
}

func New() *Store {
	return &Store{data: newState()}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// InTx implements db.Transactor. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// write applies fn to the data. Outside a transaction it still waits for
// running transactions so a rollback cannot clobber it.
func (s *Store) write(ctx context.Context, fn func(d *state) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) read(fn func(d *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (s *Store) tick() time.Time {
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// AddPatient registers a patient the booking engine can look up.
func (s *Store) AddPatient(ctx context.Context, p appointment.Patient) (appointment.Patient, error) {
	err := s.write(ctx, func(d *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		now := s.tick()
		p.CreatedAt, p.UpdatedAt = now, now
		d.patients[p.ID] = p
		return nil
	})
	return p, err
}

// Events returns a copy of the event log.
func (s *Store) Events() []audit.Event {
	var out []audit.Event
	_ = s.read(func(d *state) error {
		out = append(out, d.events...)
		return nil
	})
	return out
}

func (s *Store) appendEvent(d *state, ev audit.Event) {
	s.seq++
	ev.ID = s.seq
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.tick()
	}
	d.events = append(d.events, ev)
}

// Ping always succeeds; it lets the store stand in for a database in
// readiness checks.
func (s *Store) Ping(context.Context) error { return nil }
