package appointment

import (
	"slices"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProposed, StatusBooked, true},
		{StatusPending, StatusBooked, true},
		{StatusBooked, StatusArrived, true},
		{StatusBooked, StatusCheckedIn, true},
		{StatusArrived, StatusCheckedIn, true},
		{StatusCheckedIn, StatusInConsultation, true},
		{StatusInConsultation, StatusFulfilled, true},
		{StatusBooked, StatusNoShow, true},
		{StatusBooked, StatusFulfilled, false},
		{StatusFulfilled, StatusBooked, false},
		{StatusNoShow, StatusBooked, false},
		{StatusCancelled, StatusBooked, false},
		{StatusRescheduled, StatusArrived, false},
		{StatusCheckedIn, StatusNoShow, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestAllowedTransitions(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusEnteredInError, StatusRescheduled} {
		if got := AllowedTransitions(s); len(got) != 0 {
			t.Errorf("AllowedTransitions(%s) = %v, want none", s, got)
		}
	}

	got := AllowedTransitions(StatusBooked)
	for _, want := range []Status{StatusArrived, StatusCancelled, StatusEnteredInError, StatusRescheduled} {
		if !slices.Contains(got, want) {
			t.Errorf("AllowedTransitions(booked) = %v, missing %s", got, want)
		}
	}
	if slices.Contains(transitions[StatusBooked], StatusCancelled) {
		t.Fatal("AllowedTransitions must not mutate the transition table")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusProposed, StatusBooked, StatusNoShow, StatusFulfilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("done").Valid() {
		t.Error("unknown status reported valid")
	}
}
