package slots

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

func intPtr(v int) *int { return &v }

var (
	monday   = civil.Date{Year: 2026, Month: time.October, Day: 19}
	practRef = resource.Ref{Type: resource.TypePractitioner, ID: uuid.MustParse("6f1c1f3a-8a4e-4b8e-9a7a-2b8f0b7f6c11")}
)

func mondayMorning(t *testing.T) availability.Schedule {
	t.Helper()
	return availability.Schedule{
		ID:         uuid.MustParse("0d6c1a3e-0000-4000-8000-000000000001"),
		FacilityID: uuid.MustParse("0d6c1a3e-0000-4000-8000-0000000000ff"),
		Resource:   practRef,
		Name:       "OPD",
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Availabilities: []availability.Availability{
			{
				ID:                uuid.MustParse("0d6c1a3e-0000-4000-8000-000000000002"),
				Name:              "Morning",
				SlotType:          availability.SlotTypeAppointment,
				SlotSizeInMinutes: intPtr(30),
				TokensPerSlot:     intPtr(2),
				Rules: []availability.Rule{
					{DayOfWeek: time.Monday, StartTime: civil.NewTimeOfDay(9, 0), EndTime: civil.NewTimeOfDay(10, 0)},
				},
			},
			{
				ID:       uuid.MustParse("0d6c1a3e-0000-4000-8000-000000000003"),
				Name:     "Walk-in",
				SlotType: availability.SlotTypeOpen,
				Rules: []availability.Rule{
					{DayOfWeek: time.Monday, StartTime: civil.NewTimeOfDay(10, 0), EndTime: civil.NewTimeOfDay(12, 0)},
				},
			},
		},
	}
}

func TestGenerate_MondayMorning(t *testing.T) {
	sched := mondayMorning(t)
	in := Input{
		Snapshot: availability.Snapshot{Resource: practRef, Schedules: []availability.Schedule{sched}},
		From:     monday,
		To:       monday,
		Location: time.UTC,
	}

	got := Generate(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}

	wantStarts := []string{"09:00", "09:30"}
	for i, s := range got {
		if s.Start.Format("15:04") != wantStarts[i] {
			t.Errorf("slot %d starts at %s, want %s", i, s.Start.Format("15:04"), wantStarts[i])
		}
		if s.End.Sub(s.Start) != 30*time.Minute {
			t.Errorf("slot %d length = %s", i, s.End.Sub(s.Start))
		}
		if s.TokensPerSlot != 2 || s.Allocated != 0 {
			t.Errorf("slot %d capacity=%d allocated=%d", i, s.TokensPerSlot, s.Allocated)
		}
		if s.Resource != practRef {
			t.Errorf("slot %d resource = %v", i, s.Resource)
		}
	}

	// other weekdays produce nothing
	if n := len(Generate(Input{Snapshot: in.Snapshot, From: monday.AddDays(1), To: monday.AddDays(6), Location: time.UTC})); n != 0 {
		t.Errorf("expected no slots Tue-Sun, got %d", n)
	}
}

func TestGenerate_DropsTrailingPartialWindow(t *testing.T) {
	sched := mondayMorning(t)
	sched.Availabilities[0].Rules[0].EndTime = civil.NewTimeOfDay(10, 20)

	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     monday,
		To:       monday,
		Location: time.UTC,
	})
	if len(got) != 2 {
		t.Fatalf("expected trailing 20 minutes to be dropped, got %d slots", len(got))
	}
}

func TestGenerate_ExceptionSuppression(t *testing.T) {
	sched := mondayMorning(t)

	tests := []struct {
		name      string
		start     civil.TimeOfDay
		end       civil.TimeOfDay
		wantSlots int
	}{
		{"full cover", civil.NewTimeOfDay(9, 0), civil.NewTimeOfDay(10, 0), 0},
		{"exactly first slot", civil.NewTimeOfDay(9, 0), civil.NewTimeOfDay(9, 30), 1},
		{"partial overlap drops slot", civil.NewTimeOfDay(9, 15), civil.NewTimeOfDay(9, 20), 1},
		{"straddles both", civil.NewTimeOfDay(9, 25), civil.NewTimeOfDay(9, 35), 0},
		{"touching end is not overlap", civil.NewTimeOfDay(10, 0), civil.NewTimeOfDay(11, 0), 2},
		{"before window", civil.NewTimeOfDay(7, 0), civil.NewTimeOfDay(9, 0), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := availability.Exception{
				Resource:  practRef,
				Reason:    "leave",
				ValidFrom: monday,
				ValidTo:   monday,
				StartTime: tt.start,
				EndTime:   tt.end,
			}
			got := Generate(Input{
				Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}, Exceptions: []availability.Exception{ex}},
				From:     monday,
				To:       monday,
				Location: time.UTC,
			})
			if len(got) != tt.wantSlots {
				t.Errorf("got %d slots, want %d", len(got), tt.wantSlots)
			}
		})
	}
}

func TestGenerate_ExceptionOnlyAppliesInsideDateRange(t *testing.T) {
	sched := mondayMorning(t)
	ex := availability.Exception{
		ValidFrom: monday.AddDays(7),
		ValidTo:   monday.AddDays(7),
		StartTime: civil.NewTimeOfDay(0, 0),
		EndTime:   civil.EndOfDay,
	}
	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}, Exceptions: []availability.Exception{ex}},
		From:     monday,
		To:       monday.AddDays(7),
		Location: time.UTC,
	})
	if len(got) != 2 {
		t.Fatalf("expected only the first Monday's 2 slots, got %d", len(got))
	}
	for _, s := range got {
		if civil.DateOf(s.Start) != monday {
			t.Errorf("unexpected slot on %s", civil.DateOf(s.Start))
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	sched := mondayMorning(t)
	// a second overlapping template yields an independent slot set
	other := mondayMorning(t)
	other.ID = uuid.MustParse("0d6c1a3e-0000-4000-8000-000000000010")
	other.Availabilities[0].ID = uuid.MustParse("0d6c1a3e-0000-4000-8000-000000000011")

	in := Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{other, sched}},
		From:     monday,
		To:       monday.AddDays(14),
		Location: time.UTC,
		Allocated: map[Key]int{
			{AvailabilityID: sched.Availabilities[0].ID, Start: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}: 1,
		},
	}

	first, _ := json.Marshal(Generate(in))
	second, _ := json.Marshal(Generate(in))
	if string(first) != string(second) {
		t.Fatal("generator output differs between identical runs")
	}

	got := Generate(in)
	if len(got) != 12 {
		t.Fatalf("expected 3 Mondays x 2 windows x 2 templates = 12 slots, got %d", len(got))
	}
	if got[0].AvailabilityID != sched.Availabilities[0].ID || got[0].Allocated != 1 {
		t.Errorf("first slot should be the lower availability id with allocated=1, got %+v", got[0])
	}
	if got[1].AvailabilityID != other.Availabilities[0].ID || got[1].Allocated != 0 {
		t.Errorf("second slot should be the overlapping template, got %+v", got[1])
	}
}

func TestGenerate_ValidityWindow(t *testing.T) {
	sched := mondayMorning(t)
	sched.ValidTo = time.Date(2026, 10, 25, 23, 0, 0, 0, time.UTC)

	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     monday,
		To:       monday.AddDays(7),
		Location: time.UTC,
	})
	if len(got) != 2 {
		t.Fatalf("expected slots only before valid_to, got %d", len(got))
	}
}

func TestGenerate_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sched := mondayMorning(t)

	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     monday,
		To:       monday,
		Location: loc,
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if got[0].Start.UTC().Format("15:04") != "03:30" {
		t.Errorf("09:00 IST should be 03:30 UTC, got %s", got[0].Start.UTC().Format("15:04"))
	}
	if got[0].ID != sched.Availabilities[0].ID.String()+"_20261019T0330Z" {
		t.Errorf("unexpected id %s", got[0].ID)
	}
}

func TestGenerate_SpringForwardSkipsMissingWallTimes(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sunday := civil.Date{Year: 2026, Month: time.March, Day: 8}
	sched := mondayMorning(t)
	sched.Availabilities = sched.Availabilities[:1]
	sched.Availabilities[0].Rules = []availability.Rule{
		{DayOfWeek: time.Sunday, StartTime: civil.NewTimeOfDay(1, 0), EndTime: civil.NewTimeOfDay(4, 0)},
	}

	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     sunday,
		To:       sunday,
		Location: loc,
	})

	var starts []string
	seen := make(map[string]bool)
	for _, s := range got {
		if seen[s.ID] {
			t.Fatalf("duplicate slot id %s", s.ID)
		}
		seen[s.ID] = true
		if !s.End.After(s.Start) {
			t.Fatalf("slot %s ends at %s, before its start %s", s.ID, s.End, s.Start)
		}
		starts = append(starts, s.Start.In(loc).Format("15:04"))
	}
	// 01:30-02:00 and 02:30-03:00 touch the skipped hour
	want := []string{"01:00", "03:00", "03:30"}
	if len(starts) != len(want) {
		t.Fatalf("starts = %v, want %v", starts, want)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("starts = %v, want %v", starts, want)
		}
	}
}

func TestGenerate_FallBackKeepsIDsUnique(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sunday := civil.Date{Year: 2026, Month: time.November, Day: 1}
	sched := mondayMorning(t)
	sched.Availabilities = sched.Availabilities[:1]
	sched.Availabilities[0].Rules = []availability.Rule{
		{DayOfWeek: time.Sunday, StartTime: civil.NewTimeOfDay(0, 0), EndTime: civil.NewTimeOfDay(3, 0)},
	}

	got := Generate(Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     sunday,
		To:       sunday,
		Location: loc,
	})
	if len(got) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, s := range got {
		if seen[s.ID] || !s.End.After(s.Start) {
			t.Fatalf("bad slot %s %s-%s", s.ID, s.Start, s.End)
		}
		seen[s.ID] = true
	}
}

func TestAll_StopsEarly(t *testing.T) {
	sched := mondayMorning(t)
	in := Input{
		Snapshot: availability.Snapshot{Schedules: []availability.Schedule{sched}},
		From:     monday,
		To:       monday.AddDays(28),
		Location: time.UTC,
	}
	n := 0
	for range All(in) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("expected to consume 3 slots, got %d", n)
	}
}

func TestParseID(t *testing.T) {
	key := Key{AvailabilityID: uuid.New(), Start: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)}

	back, err := ParseID(key.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.AvailabilityID != key.AvailabilityID || !back.Start.Equal(key.Start) {
		t.Errorf("got %+v, want %+v", back, key)
	}

	for _, bad := range []string{"", "nope", "not-a-uuid_20261019T0930Z", key.AvailabilityID.String() + "_2026-10-19"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
