package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(context.Background(), "slot:a", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to be empty, has %d", len(l.locks))
	}
}

func TestLocal_PropagatesError(t *testing.T) {
	l := NewLocal()
	want := errors.New("boom")
	if err := l.WithLock(context.Background(), "k", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

type flakyLocker struct {
	failures int
	calls    int
}

func (f *flakyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	f.calls++
	if f.calls <= f.failures {
		return ErrNotAcquired
	}
	return fn(ctx)
}

func TestRetrying(t *testing.T) {
	inner := &flakyLocker{failures: 2}
	r := NewRetrying(inner, time.Second, time.Millisecond)

	ran := false
	if err := r.WithLock(context.Background(), "k", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran || inner.calls != 3 {
		t.Fatalf("ran=%v calls=%d", ran, inner.calls)
	}
}

func TestRetrying_GivesUpAfterWait(t *testing.T) {
	inner := &flakyLocker{failures: 1 << 30}
	r := NewRetrying(inner, 20*time.Millisecond, time.Millisecond)

	start := time.Now()
	err := r.WithLock(context.Background(), "k", func(context.Context) error { return nil })
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("waited %s, budget was 20ms", elapsed)
	}
	if inner.calls < 2 {
		t.Fatalf("expected several attempts, got %d", inner.calls)
	}
}

func TestRetrying_StopsOnContext(t *testing.T) {
	inner := &flakyLocker{failures: 1 << 30}
	r := NewRetrying(inner, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.WithLock(ctx, "k", func(context.Context) error { return nil })
	if !errors.Is(err, ErrNotAcquired) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := jitter(10 * time.Millisecond)
		if got < 5*time.Millisecond || got >= 10*time.Millisecond {
			t.Fatalf("jitter = %s, want [5ms, 10ms)", got)
		}
	}
}
