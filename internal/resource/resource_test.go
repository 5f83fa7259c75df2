package resource

import (
	"testing"

	"github.com/google/uuid"
)

func TestParse(t *testing.T) {
	id := uuid.New()

	ref, err := Parse("location", id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Type != TypeLocation || ref.ID != id {
		t.Errorf("unexpected ref %+v", ref)
	}
	if ref.String() != "location/"+id.String() {
		t.Errorf("String() = %q", ref.String())
	}

	if _, err := Parse("room", id.String()); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Parse("practitioner", "nope"); err == nil {
		t.Error("expected error for bad id")
	}
	if _, err := Parse("practitioner", uuid.Nil.String()); err == nil {
		t.Error("expected error for nil id")
	}
}
