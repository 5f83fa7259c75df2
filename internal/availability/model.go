package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

type SlotType string

const (
	SlotTypeAppointment SlotType = "appointment"
	SlotTypeOpen        SlotType = "open"
	SlotTypeClosed      SlotType = "closed"
)

func (t SlotType) Valid() bool {
	switch t {
	case SlotTypeAppointment, SlotTypeOpen, SlotTypeClosed:
		return true
	}
	return false
}

// Schedule is a recurring availability template for one resource.
type Schedule struct {
	ID             uuid.UUID      `json:"id"`
	FacilityID     uuid.UUID      `json:"facility_id"`
	Resource       resource.Ref   `json:"resource"`
	Name           string         `json:"name"`
	ValidFrom      time.Time      `json:"valid_from"`
	ValidTo        time.Time      `json:"valid_to"`
	Availabilities []Availability `json:"availabilities"`
	CreatedAt      time.Time      `json:"created_date"`
	UpdatedAt      time.Time      `json:"modified_date"`
}

// AppliesOn reports whether the template's validity window covers day in loc.
func (s Schedule) AppliesOn(day civil.Date, loc *time.Location) bool {
	from := civil.DateOf(s.ValidFrom.In(loc))
	to := civil.DateOf(s.ValidTo.In(loc))
	return !day.Before(from) && !day.After(to)
}

// Availability is one rule set of a schedule. Only appointment rules carry
// slot sizing and generate bookable slots.
type Availability struct {
	ID                uuid.UUID `json:"id"`
	ScheduleID        uuid.UUID `json:"schedule_id"`
	Name              string    `json:"name"`
	SlotType          SlotType  `json:"slot_type"`
	SlotSizeInMinutes *int      `json:"slot_size_in_minutes,omitempty"`
	TokensPerSlot     *int      `json:"tokens_per_slot,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	Rules             []Rule    `json:"availability"`
	CreatedAt         time.Time `json:"created_date"`
	UpdatedAt         time.Time `json:"modified_date"`
}

func (a Availability) SlotSize() time.Duration {
	if a.SlotSizeInMinutes == nil {
		return 0
	}
	return time.Duration(*a.SlotSizeInMinutes) * time.Minute
}

func (a Availability) Capacity() int {
	if a.TokensPerSlot == nil {
		return 0
	}
	return *a.TokensPerSlot
}

// Rule is a weekly window. DayOfWeek follows time.Weekday (0 = Sunday).
type Rule struct {
	DayOfWeek time.Weekday    `json:"day_of_week"`
	StartTime civil.TimeOfDay `json:"start_time"`
	EndTime   civil.TimeOfDay `json:"end_time"`
}

func (r Rule) Overlaps(o Rule) bool {
	return r.DayOfWeek == o.DayOfWeek && r.StartTime < o.EndTime && o.StartTime < r.EndTime
}

// Exception suppresses availability for a resource over a date range and a
// daily time window.
type Exception struct {
	ID         uuid.UUID       `json:"id"`
	FacilityID uuid.UUID       `json:"facility_id"`
	Resource   resource.Ref    `json:"resource"`
	Reason     string          `json:"reason"`
	ValidFrom  civil.Date      `json:"valid_from"`
	ValidTo    civil.Date      `json:"valid_to"`
	StartTime  civil.TimeOfDay `json:"start_time"`
	EndTime    civil.TimeOfDay `json:"end_time"`
	CreatedAt  time.Time       `json:"created_date"`
}

// Covers reports whether the exception window on its dates overlaps the
// instant range [start, end).
func (e Exception) Covers(start, end time.Time, loc *time.Location) bool {
	day := civil.DateOf(start.In(loc))
	if day.Before(e.ValidFrom) || day.After(e.ValidTo) {
		return false
	}
	exStart := day.At(e.StartTime, loc)
	exEnd := day.At(e.EndTime, loc)
	return start.Before(exEnd) && exStart.Before(end)
}

// Snapshot is everything the slot generator needs for one resource.
type Snapshot struct {
	Resource   resource.Ref
	Schedules  []Schedule
	Exceptions []Exception
}

// BookedWindow is an active appointment as seen by the exception overlay.
type BookedWindow struct {
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

type ScheduleFilter struct {
	FacilityID *uuid.UUID
	Resource   *resource.Ref
	Limit      int
	Offset     int
}

type ExceptionFilter struct {
	FacilityID *uuid.UUID
	Resource   *resource.Ref
	From       *civil.Date
	To         *civil.Date
}
