package apperr

import (
	"errors"
	"fmt"
	"testing"
)

var errSample = New(KindConflict, "sample_full", "sample is full")

func TestIsMatchesOnCode(t *testing.T) {
	wrapped := fmt.Errorf("book: %w", errSample.WithMessage("slot %d is full", 3))
	if !errors.Is(wrapped, errSample) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if errors.Is(wrapped, ErrTransient) {
		t.Fatalf("did not expect match against a different code")
	}
}

func TestKindAndCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", errSample)
	if got := KindOf(err); got != KindConflict {
		t.Errorf("KindOf = %q, want %q", got, KindConflict)
	}
	if got := CodeOf(err); got != "sample_full" {
		t.Errorf("CodeOf = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := ErrTransient.Wrap(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if ErrTransient.Cause != nil {
		t.Fatalf("Wrap must not mutate the sentinel")
	}
}
