// Package enginetest builds an in-memory engine with a fixed clock for
// service tests.
package enginetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/engine"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/memstore"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

// Monday is the day every fixture schedule produces slots on.
var Monday = civil.Date{Year: 2026, Month: time.October, Day: 19}

// Start is where the fixture clock begins: well before Monday's slots.
var Start = time.Date(2026, time.October, 1, 8, 0, 0, 0, time.UTC)

type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type Fixture struct {
	*engine.Engine
	Store        *memstore.Store
	Clock        *Clock
	Facility     uuid.UUID
	Practitioner resource.Ref
}

func Config() config.Config {
	return config.Config{
		Timezone:       time.UTC,
		TokenNumbering: "category",
		InitialStatus:  "booked",
		NoShowGrace:    30 * time.Minute,
	}
}

// New returns a fixture over a fresh store. opts adjust the config before
// the services are built.
func New(t testing.TB, opts ...func(*config.Config)) *Fixture {
	t.Helper()
	return NewWithLocker(t, lock.NewLocal(), opts...)
}

// NewWithLocker is New with the services guarded by locker instead of an
// in-process one.
func NewWithLocker(t testing.TB, locker lock.Locker, opts ...func(*config.Config)) *Fixture {
	t.Helper()
	cfg := Config()
	for _, o := range opts {
		o(&cfg)
	}

	store := memstore.New()
	eng := engine.New(cfg, engine.Stores{
		Availability: store,
		Appointments: store,
		Tokens:       store,
		Tx:           store,
	}, locker, zerolog.Nop())
	clock := &Clock{t: Start}
	eng.Availability.SetClock(clock.Now)
	eng.Appointments.SetClock(clock.Now)

	return &Fixture{
		Engine:       eng,
		Store:        store,
		Clock:        clock,
		Facility:     uuid.New(),
		Practitioner: resource.Ref{Type: resource.TypePractitioner, ID: uuid.New()},
	}
}

func intPtr(v int) *int { return &v }

// MorningSchedule creates a template with one appointment availability on
// Mondays 09:00-10:00 in 30 minute slots of the given capacity.
func (f *Fixture) MorningSchedule(t testing.TB, capacity int) *availability.Schedule {
	t.Helper()
	sched := &availability.Schedule{
		FacilityID: f.Facility,
		Resource:   f.Practitioner,
		Name:       "OPD " + gofakeit.LastName(),
		ValidFrom:  time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:    time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		Availabilities: []availability.Availability{{
			Name:              "Morning",
			SlotType:          availability.SlotTypeAppointment,
			SlotSizeInMinutes: intPtr(30),
			TokensPerSlot:     intPtr(capacity),
			Rules: []availability.Rule{
				{DayOfWeek: time.Monday, StartTime: civil.NewTimeOfDay(9, 0), EndTime: civil.NewTimeOfDay(10, 0)},
			},
		}},
	}
	if err := f.Availability.CreateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

// SlotID names the slot of availabilityID starting at hh:mm on Monday.
func SlotID(availabilityID uuid.UUID, hh, mm int) string {
	return slots.Key{
		AvailabilityID: availabilityID,
		Start:          Monday.At(civil.NewTimeOfDay(hh, mm), time.UTC),
	}.String()
}

// Patient registers a patient with a generated name.
func (f *Fixture) Patient(t testing.TB) uuid.UUID {
	t.Helper()
	email := gofakeit.Email()
	p, err := f.Store.AddPatient(context.Background(), appointment.Patient{
		Name:  gofakeit.Name(),
		Email: &email,
	})
	if err != nil {
		t.Fatalf("add patient: %v", err)
	}
	return p.ID
}

// Book books patient into slotID and fails the test on error.
func (f *Fixture) Book(t testing.TB, slotID string, patient uuid.UUID) *appointment.Appointment {
	t.Helper()
	appt, err := f.Appointments.BookSlot(context.Background(), appointment.BookingRequest{SlotID: slotID, PatientID: patient})
	if err != nil {
		t.Fatalf("book %s: %v", slotID, err)
	}
	return appt
}
