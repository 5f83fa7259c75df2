package appointment

import "slices"

// transitions lists the moves reachable through a plain status update.
// Cancellation and rescheduling have their own operations and are legal from
// every non-terminal status.
var transitions = map[Status][]Status{
	StatusProposed:       {StatusPending, StatusBooked, StatusNoShow},
	StatusPending:        {StatusBooked, StatusNoShow},
	StatusWaitlist:       {StatusBooked, StatusNoShow},
	StatusBooked:         {StatusArrived, StatusCheckedIn, StatusNoShow},
	StatusArrived:        {StatusCheckedIn, StatusNoShow},
	StatusCheckedIn:      {StatusInConsultation},
	StatusInConsultation: {StatusFulfilled},
}

// CanTransition reports whether from -> to is a legal plain status update.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// AllowedTransitions returns the statuses reachable from s, including the
// cancellation paths.
func AllowedTransitions(s Status) []Status {
	if s.Terminal() {
		return nil
	}
	out := slices.Clone(transitions[s])
	return append(out, StatusCancelled, StatusEnteredInError, StatusRescheduled)
}
