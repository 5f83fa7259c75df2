package token_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/engine/enginetest"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/token"
)

func newCategory(t *testing.T, f *enginetest.Fixture, name, shorthand string, isDefault bool) *token.Category {
	t.Helper()
	c := &token.Category{
		FacilityID:   f.Facility,
		ResourceType: resource.TypePractitioner,
		Name:         name,
		Shorthand:    shorthand,
		IsDefault:    isDefault,
	}
	if err := f.Tokens.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

func newQueue(t *testing.T, f *enginetest.Fixture, name string, primary bool) *token.Queue {
	t.Helper()
	q, err := f.Tokens.CreateQueue(context.Background(), token.CreateQueueRequest{
		FacilityID:   f.Facility,
		Resource:     f.Practitioner,
		Date:         enginetest.Monday,
		Name:         name,
		SetIsPrimary: primary,
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return q
}

func TestIssueToken_ConcurrentNumbersAreGapless(t *testing.T) {
	f := enginetest.New(t)
	newCategory(t, f, "General", "g", true)
	q := newQueue(t, f, "Morning", true)

	const n = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	var numbers []int
	var labels []string

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := f.Tokens.IssueToken(context.Background(), token.IssueRequest{QueueID: q.ID})
			if err != nil {
				t.Errorf("IssueToken: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, tok.Number)
			labels = append(labels, tok.Label)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(numbers)
	if !slices.Equal(numbers, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("numbers = %v, want 1..5", numbers)
	}
	if !slices.Contains(labels, "G-5") {
		t.Fatalf("labels = %v, want shorthand-number labels", labels)
	}
}

func TestIssueToken_NumberingScopes(t *testing.T) {
	tests := []struct {
		numbering string
		want      []int
	}{
		{"category", []int{1, 1, 2}},
		{"queue", []int{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.numbering, func(t *testing.T) {
			f := enginetest.New(t, func(c *config.Config) { c.TokenNumbering = tt.numbering })
			general := newCategory(t, f, "General", "G", true)
			emergency := newCategory(t, f, "Emergency", "E", false)
			q := newQueue(t, f, "Morning", true)

			var got []int
			for _, cat := range []uuid.UUID{general.ID, emergency.ID, general.ID} {
				tok, err := f.Tokens.IssueToken(context.Background(), token.IssueRequest{QueueID: q.ID, CategoryID: &cat})
				if err != nil {
					t.Fatalf("IssueToken: %v", err)
				}
				got = append(got, tok.Number)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("numbers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIssueToken_Rejections(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	q := newQueue(t, f, "Morning", true)

	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID}); !errors.Is(err, token.ErrNoDefaultCategory) {
		t.Fatalf("no default category error = %v", err)
	}

	locCat := &token.Category{FacilityID: f.Facility, ResourceType: resource.TypeLocation, Name: "Ward", Shorthand: "W"}
	if err := f.Tokens.CreateCategory(ctx, locCat); err != nil {
		t.Fatalf("create category: %v", err)
	}
	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID, CategoryID: &locCat.ID}); !errors.Is(err, token.ErrCategoryInvalidForResourceType) {
		t.Fatalf("mismatched category error = %v", err)
	}

	missing := uuid.New()
	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: missing}); !errors.Is(err, token.ErrQueueNotFound) {
		t.Fatalf("missing queue error = %v", err)
	}

	newCategory(t, f, "General", "G", true)
	if _, err := f.Tokens.CloseQueue(ctx, q.ID); err != nil {
		t.Fatalf("CloseQueue: %v", err)
	}
	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID}); !errors.Is(err, token.ErrQueueClosed) {
		t.Fatalf("closed queue error = %v", err)
	}
	if _, err := f.Tokens.CloseQueue(ctx, q.ID); !errors.Is(err, token.ErrQueueClosed) {
		t.Fatalf("second close error = %v", err)
	}
}

func TestCreateCategory_SingleDefault(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()

	first := newCategory(t, f, "General", "g", true)
	second := newCategory(t, f, "Priority", "p", true)
	if second.Shorthand != "P" {
		t.Fatalf("shorthand = %q, want upper case", second.Shorthand)
	}

	rt := resource.TypePractitioner
	cats, err := f.Tokens.ListCategories(ctx, &f.Facility, &rt)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	defaults := 0
	for _, c := range cats {
		if c.IsDefault {
			defaults++
			if c.ID != second.ID {
				t.Fatalf("default is %s, want the newest category", c.Name)
			}
		}
		if c.ID == first.ID && c.IsDefault {
			t.Fatal("previous default was not demoted")
		}
	}
	if defaults != 1 {
		t.Fatalf("%d default categories, want 1", defaults)
	}
}

func TestQueues_SinglePrimaryPerDay(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()

	first := newQueue(t, f, "Morning", true)
	second := newQueue(t, f, "Evening", true)
	if !second.IsPrimary {
		t.Fatal("new queue was not made primary")
	}

	got, err := f.Tokens.GetQueue(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if got.IsPrimary {
		t.Fatal("first queue still primary after a new primary was created")
	}

	promoted, err := f.Tokens.SetPrimary(ctx, first.ID)
	if err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	if !promoted.IsPrimary {
		t.Fatal("promoted queue is not primary")
	}

	queues, err := f.Tokens.ListQueues(ctx, token.QueueFilter{Resource: &f.Practitioner, Date: &enginetest.Monday})
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	primaries := 0
	for _, q := range queues {
		if q.IsPrimary {
			primaries++
			if q.ID != first.ID {
				t.Fatalf("primary is %s, want %s", q.ID, first.ID)
			}
		}
	}
	if primaries != 1 || len(queues) != 2 {
		t.Fatalf("%d queues with %d primaries, want 2 and 1", len(queues), primaries)
	}
}

func TestUpdateTokenStatus(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	newCategory(t, f, "General", "G", true)
	q := newQueue(t, f, "Morning", true)

	tok, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := f.Tokens.UpdateTokenStatus(ctx, tok.ID, token.StatusCompleted); !errors.Is(err, token.ErrInvalidTokenTransition) {
		t.Fatalf("created -> completed error = %v", err)
	}
	if _, err := f.Tokens.UpdateTokenStatus(ctx, tok.ID, token.StatusCalled); err != nil {
		t.Fatalf("call: %v", err)
	}
	done, err := f.Tokens.UpdateTokenStatus(ctx, tok.ID, token.StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != token.StatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}
	if _, err := f.Tokens.UpdateTokenStatus(ctx, tok.ID, token.StatusCalled); !errors.Is(err, token.ErrInvalidTokenTransition) {
		t.Fatalf("completed -> called error = %v", err)
	}

	board, err := f.Tokens.Board(ctx, q.ID)
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if len(board.Tokens) != 1 || board.Counts[token.StatusCompleted] != 1 {
		t.Fatalf("unexpected board %+v", board)
	}
}

func TestIssueForAppointment(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	newCategory(t, f, "General", "G", true)
	sched := f.MorningSchedule(t, 2)

	appt := f.Book(t, enginetest.SlotID(sched.Availabilities[0].ID, 9, 0), f.Patient(t))

	tok, err := f.Tokens.IssueForAppointment(ctx, appt.ID, nil, "")
	if err != nil {
		t.Fatalf("IssueForAppointment: %v", err)
	}
	if tok.Label != "G-1" || tok.AppointmentID == nil || *tok.AppointmentID != appt.ID {
		t.Fatalf("unexpected token %+v", tok)
	}

	q, err := f.Tokens.GetQueue(ctx, tok.QueueID)
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if !q.IsPrimary || q.Date != enginetest.Monday {
		t.Fatalf("token went to %+v, want the primary queue of the slot day", q)
	}

	if _, err := f.Tokens.IssueForAppointment(ctx, appt.ID, nil, ""); !errors.Is(err, token.ErrTokenAlreadyIssued) {
		t.Fatalf("second token error = %v", err)
	}

	// cancelling the appointment releases the uncalled token
	if _, err := f.Appointments.Cancel(ctx, appt.ID, "", ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	released, err := f.Tokens.GetToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if released.Status != token.StatusCancelled {
		t.Fatalf("token status = %s, want cancelled", released.Status)
	}
	if _, err := f.Tokens.IssueForAppointment(ctx, appt.ID, nil, ""); !errors.Is(err, token.ErrAppointmentNotActive) {
		t.Fatalf("issue for cancelled appointment error = %v", err)
	}

	second := f.Book(t, enginetest.SlotID(sched.Availabilities[0].ID, 9, 30), f.Patient(t))
	next, err := f.Tokens.IssueForAppointment(ctx, second.ID, nil, "")
	if err != nil {
		t.Fatalf("IssueForAppointment: %v", err)
	}
	if next.QueueID != q.ID || next.Number != 2 {
		t.Fatalf("token %+v, want number 2 in the same queue", next)
	}
}

// cancelDuringGet hands out the appointment as it was, then cancels it
// before the token is issued.
type cancelDuringGet struct {
	*appointment.Service
}

func (c cancelDuringGet) Get(ctx context.Context, id uuid.UUID) (*appointment.Detail, error) {
	d, err := c.Service.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := c.Service.Cancel(ctx, id, "", "changed plans"); err != nil {
		return nil, err
	}
	return d, nil
}

func TestIssueForAppointment_CancelledBeforeIssue(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	newCategory(t, f, "General", "G", true)
	sched := f.MorningSchedule(t, 2)
	patient := f.Patient(t)
	appt := f.Book(t, enginetest.SlotID(sched.Availabilities[0].ID, 9, 0), patient)

	svc := token.NewService(f.Store, cancelDuringGet{f.Appointments}, f.Store, lock.NewLocal(), enginetest.Config(), zerolog.Nop())
	if _, err := svc.IssueForAppointment(ctx, appt.ID, nil, ""); !errors.Is(err, token.ErrAppointmentNotActive) {
		t.Fatalf("issue error = %v, want ErrAppointmentNotActive", err)
	}

	tokens, err := f.Tokens.ListTokens(ctx, token.TokenFilter{PatientID: &patient})
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("tokens for cancelled appointment = %+v, want none", tokens)
	}
}

func TestReleaseKeepsCalledToken(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	newCategory(t, f, "General", "G", true)
	sched := f.MorningSchedule(t, 1)
	appt := f.Book(t, enginetest.SlotID(sched.Availabilities[0].ID, 9, 0), f.Patient(t))

	tok, err := f.Tokens.IssueForAppointment(ctx, appt.ID, nil, "")
	if err != nil {
		t.Fatalf("IssueForAppointment: %v", err)
	}
	if _, err := f.Tokens.UpdateTokenStatus(ctx, tok.ID, token.StatusCalled); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := f.Appointments.Reschedule(ctx, appt.ID, appointment.RescheduleRequest{NewSlotID: enginetest.SlotID(sched.Availabilities[0].ID, 9, 30)}); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	got, err := f.Tokens.GetToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Status != token.StatusCalled {
		t.Fatalf("called token status = %s, want it untouched", got.Status)
	}
}

func TestListTokens(t *testing.T) {
	f := enginetest.New(t)
	ctx := context.Background()
	newCategory(t, f, "General", "G", true)
	q := newQueue(t, f, "Morning", true)
	patient := f.Patient(t)

	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID, PatientID: &patient}); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID}); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	mine, err := f.Tokens.ListTokens(ctx, token.TokenFilter{PatientID: &patient})
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("got %d tokens for patient, want 1", len(mine))
	}

	day, err := f.Tokens.ListTokens(ctx, token.TokenFilter{Date: &enginetest.Monday})
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(day) != 2 || day[0].Number != 1 {
		t.Fatalf("got %+v, want two tokens in number order", day)
	}

	if _, err := f.Tokens.ListTokens(ctx, token.TokenFilter{}); err == nil {
		t.Fatal("unfiltered listing accepted")
	}
}
