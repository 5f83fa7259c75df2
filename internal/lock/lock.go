package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker guards a critical section keyed by an arbitrary string, such as a
// slot window or a token queue.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Retrying wraps a fail-fast Locker so that a contended key is polled until
// it frees up, the wait budget is spent or ctx ends. Sleeps grow
// exponentially from delay and are jittered so that callers woken by the
// same release do not collide again.
type Retrying struct {
	inner Locker
	wait  time.Duration
	delay time.Duration
}

const maxBackoffFactor = 16

func NewRetrying(inner Locker, wait, delay time.Duration) *Retrying {
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	if wait < delay {
		wait = delay
	}
	return &Retrying{inner: inner, wait: wait, delay: delay}
}

func (r *Retrying) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(r.wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	backoff := r.delay
	for {
		err := r.inner.WithLock(ctx, key, fn)
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}

		sleep := jitter(backoff)
		if time.Now().Add(sleep).After(deadline) {
			return err
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff < r.delay*maxBackoffFactor {
			backoff *= 2
		}
	}
}

// jitter picks a duration in [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

// Local is an in-process Locker. It blocks instead of failing fast, which is
// what a single instance or a test wants.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
