package slots

import (
	"bytes"
	"iter"
	"sort"
	"time"

	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
)

// Input is the complete state the generator reads. Identical inputs give
// identical output.
type Input struct {
	Snapshot  availability.Snapshot
	From      civil.Date
	To        civil.Date
	Location  *time.Location
	Allocated map[Key]int
}

// All yields the slots of the inclusive date range one day at a time, in
// (start, availability id) order. The sequence can be ranged over more than
// once.
func All(in Input) iter.Seq[TokenSlot] {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	return func(yield func(TokenSlot) bool) {
		for day := in.From; !day.After(in.To); day = day.AddDays(1) {
			for _, s := range forDay(in, day, loc) {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Generate collects All into a slice.
func Generate(in Input) []TokenSlot {
	var out []TokenSlot
	for s := range All(in) {
		out = append(out, s)
	}
	return out
}

func forDay(in Input, day civil.Date, loc *time.Location) []TokenSlot {
	var out []TokenSlot
	weekday := day.Weekday()

	for _, sched := range in.Snapshot.Schedules {
		if !sched.AppliesOn(day, loc) {
			continue
		}
		for _, a := range sched.Availabilities {
			if a.SlotType != availability.SlotTypeAppointment {
				continue
			}
			size := a.SlotSizeInMinutes
			if size == nil || *size <= 0 {
				continue
			}
			step := civil.TimeOfDay(*size)

			for _, r := range a.Rules {
				if r.DayOfWeek != weekday {
					continue
				}
				// a trailing window shorter than one slot is dropped
				for t := r.StartTime; t+step <= r.EndTime; t += step {
					start := day.At(t, loc)
					end := day.At(t+step, loc)
					if !onWallClock(start, t, loc) || !onWallClock(end, t+step, loc) || !end.After(start) {
						continue
					}
					if suppressed(in.Snapshot.Exceptions, start, end, loc) {
						continue
					}
					slot := TokenSlot{
						FacilityID:     sched.FacilityID,
						ScheduleID:     sched.ID,
						AvailabilityID: a.ID,
						Resource:       sched.Resource,
						Start:          start,
						End:            end,
						TokensPerSlot:  a.Capacity(),
					}
					key := slot.Key()
					slot.ID = key.String()
					slot.Allocated = in.Allocated[key]
					out = append(out, slot)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return bytes.Compare(out[i].AvailabilityID[:], out[j].AvailabilityID[:]) < 0
	})
	return out
}

// onWallClock reports whether instant reads as wall time want in loc. Wall
// times skipped by a daylight saving jump normalize to some other time and
// fail this check. want may be 24:00 for a window ending at midnight.
func onWallClock(instant time.Time, want civil.TimeOfDay, loc *time.Location) bool {
	return civil.TimeOfDayOf(instant, loc) == want%(24*60)
}

// suppressed drops any window an exception touches, even partially.
func suppressed(exceptions []availability.Exception, start, end time.Time, loc *time.Location) bool {
	for _, e := range exceptions {
		if e.Covers(start, end, loc) {
			return true
		}
	}
	return false
}
