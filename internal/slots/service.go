package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

// MaxStatsRange bounds the heatmap so one request cannot expand years of
// templates.
const MaxStatsRange = 92

// AvailabilitySource is the read side of the availability store.
type AvailabilitySource interface {
	Snapshot(ctx context.Context, ref resource.Ref, from, to civil.Date) (availability.Snapshot, error)
	SnapshotForAvailability(ctx context.Context, availabilityID uuid.UUID, day civil.Date) (availability.Snapshot, error)
	Location() *time.Location
}

// AllocationCounter counts active appointments per slot window. Counts are
// always read live, never cached.
type AllocationCounter interface {
	AllocatedBetween(ctx context.Context, ref resource.Ref, from, to time.Time) (map[Key]int, error)
	AllocatedFor(ctx context.Context, key Key) (int, error)
}

type Service struct {
	source  AvailabilitySource
	counter AllocationCounter
	log     zerolog.Logger
}

func NewService(source AvailabilitySource, counter AllocationCounter, logger zerolog.Logger) *Service {
	return &Service{
		source:  source,
		counter: counter,
		log:     logger.With().Str("component", "slots").Logger(),
	}
}

// Range builds the generator input for ref over [from, to] with live
// allocation counts.
func (s *Service) Range(ctx context.Context, ref resource.Ref, from, to civil.Date) (Input, error) {
	if err := ref.Validate(); err != nil {
		return Input{}, err
	}
	if from.IsZero() || to.IsZero() {
		return Input{}, apperr.Validation("from_date and to_date are required")
	}
	if from.After(to) {
		return Input{}, apperr.Validation("from_date must not be after to_date")
	}

	loc := s.source.Location()
	snap, err := s.source.Snapshot(ctx, ref, from, to)
	if err != nil {
		return Input{}, err
	}
	allocated, err := s.counter.AllocatedBetween(ctx, ref, from.In(loc), to.AddDays(1).In(loc))
	if err != nil {
		return Input{}, fmt.Errorf("count allocations: %w", err)
	}
	return Input{Snapshot: snap, From: from, To: to, Location: loc, Allocated: allocated}, nil
}

func (s *Service) SlotsForDay(ctx context.Context, ref resource.Ref, day civil.Date) ([]TokenSlot, error) {
	in, err := s.Range(ctx, ref, day, day)
	if err != nil {
		return nil, err
	}
	out := Generate(in)
	if out == nil {
		out = []TokenSlot{}
	}
	return out, nil
}

// DayStats is one cell of the availability heatmap.
type DayStats struct {
	Date        civil.Date `json:"date"`
	TotalSlots  int        `json:"total_slots"`
	BookedSlots int        `json:"booked_slots"`
}

// AvailabilityStats sums capacity and allocation per date. Every date of the
// range is present, including those without slots.
func (s *Service) AvailabilityStats(ctx context.Context, ref resource.Ref, from, to civil.Date) ([]DayStats, error) {
	if !from.IsZero() && !to.IsZero() && from.DaysUntil(to) >= MaxStatsRange {
		return nil, apperr.Validation("date range must not exceed %d days", MaxStatsRange)
	}
	in, err := s.Range(ctx, ref, from, to)
	if err != nil {
		return nil, err
	}

	stats := make([]DayStats, 0, from.DaysUntil(to)+1)
	index := make(map[civil.Date]int)
	for d := from; !d.After(to); d = d.AddDays(1) {
		index[d] = len(stats)
		stats = append(stats, DayStats{Date: d})
	}
	for slot := range All(in) {
		i := index[civil.DateOf(slot.Start.In(in.Location))]
		stats[i].TotalSlots += slot.TokensPerSlot
		stats[i].BookedSlots += slot.Allocated
	}
	return stats, nil
}

// Resolve regenerates the slot named by id from current template and
// exception data. A slot suppressed by an exception or outside every
// template no longer resolves.
func (s *Service) Resolve(ctx context.Context, id string) (TokenSlot, error) {
	key, err := ParseID(id)
	if err != nil {
		return TokenSlot{}, err
	}
	loc := s.source.Location()
	day := civil.DateOf(key.Start.In(loc))

	snap, err := s.source.SnapshotForAvailability(ctx, key.AvailabilityID, day)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return TokenSlot{}, ErrSlotNotFound.Wrap(err)
		}
		return TokenSlot{}, err
	}

	for slot := range All(Input{Snapshot: snap, From: day, To: day, Location: loc}) {
		if slot.ID != key.String() {
			continue
		}
		n, err := s.counter.AllocatedFor(ctx, key)
		if err != nil {
			return TokenSlot{}, fmt.Errorf("count allocations: %w", err)
		}
		slot.Allocated = n
		return slot, nil
	}
	s.log.Debug().Str("slot_id", id).Msg("slot id no longer generated")
	return TokenSlot{}, ErrSlotNotFound
}
