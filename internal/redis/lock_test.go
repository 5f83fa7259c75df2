package redisclient_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/engine/enginetest"
	"github.com/hackgods/scheduling-engine/internal/lock"
	redisclient "github.com/hackgods/scheduling-engine/internal/redis"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/token"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLocker_FailsFastWhileHeld(t *testing.T) {
	mr, rdb := newClient(t)
	l := redisclient.NewRedisLocker(rdb, 5*time.Second)
	ctx := context.Background()

	err := l.WithLock(ctx, "slot:a", func(ctx context.Context) error {
		if !mr.Exists("lock:slot:a") {
			t.Error("lock key not set while held")
		}
		return l.WithLock(ctx, "slot:a", func(context.Context) error {
			t.Error("second holder entered")
			return nil
		})
	})
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("nested acquire = %v, want ErrNotAcquired", err)
	}
	if mr.Exists("lock:slot:a") {
		t.Fatal("lock key left behind after release")
	}
}

func TestRedisLocker_KeepsForeignKey(t *testing.T) {
	mr, rdb := newClient(t)
	l := redisclient.NewRedisLocker(rdb, time.Second)

	err := l.WithLock(context.Background(), "queue:q", func(context.Context) error {
		// the TTL ran out and another instance took the key
		return mr.Set("lock:queue:q", "someone-else")
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if got, _ := mr.Get("lock:queue:q"); got != "someone-else" {
		t.Fatalf("lock value = %q, want the other holder's", got)
	}
}

func retryingLocker(t *testing.T) lock.Locker {
	_, rdb := newClient(t)
	return lock.NewRetrying(redisclient.NewRedisLocker(rdb, 5*time.Second), 10*time.Second, 2*time.Millisecond)
}

func TestRetryingRedisLocker_ConcurrentBookings(t *testing.T) {
	f := enginetest.NewWithLocker(t, retryingLocker(t))
	sched := f.MorningSchedule(t, 2)
	slotID := enginetest.SlotID(sched.Availabilities[0].ID, 9, 0)

	const callers = 30
	patients := make([]uuid.UUID, callers)
	for i := range patients {
		patients[i] = f.Patient(t)
	}

	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		booked, full   int
		unexpectedErrs []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Appointments.BookSlot(context.Background(), appointment.BookingRequest{
				SlotID:    slotID,
				PatientID: patients[i],
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, appointment.ErrSlotFull):
				full++
			default:
				unexpectedErrs = append(unexpectedErrs, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unexpectedErrs) > 0 {
		t.Fatalf("unexpected errors: %v", unexpectedErrs)
	}
	if booked != 2 || full != callers-2 {
		t.Fatalf("booked=%d full=%d, want 2 and %d", booked, full, callers-2)
	}
}

func TestRetryingRedisLocker_ConcurrentTokens(t *testing.T) {
	f := enginetest.NewWithLocker(t, retryingLocker(t))
	ctx := context.Background()
	if err := f.Tokens.CreateCategory(ctx, &token.Category{
		FacilityID:   f.Facility,
		ResourceType: resource.TypePractitioner,
		Name:         "General",
		Shorthand:    "G",
		IsDefault:    true,
	}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	q, err := f.Tokens.CreateQueue(ctx, token.CreateQueueRequest{
		FacilityID:   f.Facility,
		Resource:     f.Practitioner,
		Date:         enginetest.Monday,
		Name:         "Morning",
		SetIsPrimary: true,
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := f.Tokens.IssueToken(ctx, token.IssueRequest{QueueID: q.ID})
			if err != nil {
				t.Errorf("IssueToken: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, tok.Number)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(numbers)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	if !slices.Equal(numbers, want) {
		t.Fatalf("numbers = %v, want 1..%d", numbers, n)
	}
}
