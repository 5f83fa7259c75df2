package civil

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDate_RoundTripAndArithmetic(t *testing.T) {
	d, err := ParseDate("2026-10-19")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Weekday() != time.Monday {
		t.Errorf("2026-10-19 should be a Monday, got %s", d.Weekday())
	}
	if got := d.AddDays(13).String(); got != "2026-11-01" {
		t.Errorf("AddDays = %s", got)
	}
	if d.DaysUntil(d.AddDays(7)) != 7 {
		t.Errorf("DaysUntil mismatch")
	}
	if !d.Before(d.AddDays(1)) || d.After(d) {
		t.Errorf("ordering broken")
	}

	b, _ := json.Marshal(d)
	if string(b) != `"2026-10-19"` {
		t.Errorf("json = %s", b)
	}
	var back Date
	if err := json.Unmarshal(b, &back); err != nil || back != d {
		t.Errorf("unmarshal = %v %v", back, err)
	}

	if _, err := ParseDate("19/10/2026"); err == nil {
		t.Error("expected error for wrong layout")
	}
}

func TestTimeOfDay(t *testing.T) {
	cases := map[string]TimeOfDay{
		"09:00":    540,
		"09:30:00": 570,
		"24:00":    EndOfDay,
		"00:00":    0,
	}
	for in, want := range cases {
		got, err := ParseTimeOfDay(in)
		if err != nil || got != want {
			t.Errorf("ParseTimeOfDay(%q) = %d, %v; want %d", in, got, err, want)
		}
	}

	for _, bad := range []string{"9", "25:00", "24:30", "10:75", "ab:cd"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	if NewTimeOfDay(9, 0).Add(30*time.Minute).String() != "09:30" {
		t.Error("Add/String mismatch")
	}
}

func TestDateAt(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata not available")
	}
	d := Date{Year: 2026, Month: time.October, Day: 19}
	at := d.At(NewTimeOfDay(9, 30), loc)
	if at.UTC().Format(time.RFC3339) != "2026-10-19T04:00:00Z" {
		t.Errorf("At = %s", at.UTC().Format(time.RFC3339))
	}
	if TimeOfDayOf(at, loc) != NewTimeOfDay(9, 30) {
		t.Errorf("TimeOfDayOf mismatch")
	}
}
