package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var (
	ErrSlotNotFound  = apperr.New(apperr.KindNotFound, "slot_not_found", "slot not found")
	ErrInvalidSlotID = apperr.New(apperr.KindValidation, "invalid_slot_id", "malformed slot id")
)

const idLayout = "20060102T1504Z"

// Key addresses a generated slot. Slots are never stored; the same template
// data always yields the same key for the same window.
type Key struct {
	AvailabilityID uuid.UUID
	Start          time.Time
}

func (k Key) String() string {
	return k.AvailabilityID.String() + "_" + k.Start.UTC().Format(idLayout)
}

// ParseID reverses Key.String.
func ParseID(id string) (Key, error) {
	avail, start, ok := strings.Cut(id, "_")
	if !ok {
		return Key{}, ErrInvalidSlotID.WithMessage("malformed slot id %q", id)
	}
	availID, err := uuid.Parse(avail)
	if err != nil {
		return Key{}, ErrInvalidSlotID.WithMessage("malformed slot id %q", id).Wrap(err)
	}
	t, err := time.Parse(idLayout, start)
	if err != nil {
		return Key{}, ErrInvalidSlotID.WithMessage("malformed slot id %q", id).Wrap(err)
	}
	return Key{AvailabilityID: availID, Start: t.UTC()}, nil
}

// LockKey names the critical section guarding capacity of one window.
func (k Key) LockKey() string {
	return "slot:" + k.String()
}

// TokenSlot is one concrete bookable window with its capacity and the
// number of active appointments bound to it at read time.
type TokenSlot struct {
	ID             string       `json:"id"`
	FacilityID     uuid.UUID    `json:"facility_id"`
	ScheduleID     uuid.UUID    `json:"schedule_id"`
	AvailabilityID uuid.UUID    `json:"availability_id"`
	Resource       resource.Ref `json:"resource"`
	Start          time.Time    `json:"start_datetime"`
	End            time.Time    `json:"end_datetime"`
	TokensPerSlot  int          `json:"tokens_per_slot"`
	Allocated      int          `json:"allocated"`
}

func (s TokenSlot) Key() Key {
	return Key{AvailabilityID: s.AvailabilityID, Start: s.Start.UTC()}
}

func (s TokenSlot) Remaining() int {
	if s.Allocated >= s.TokensPerSlot {
		return 0
	}
	return s.TokensPerSlot - s.Allocated
}

func (s TokenSlot) Full() bool {
	return s.Allocated >= s.TokensPerSlot
}

func (s TokenSlot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Resource, s.Start.Format(time.RFC3339), s.End.Format("15:04"))
}
