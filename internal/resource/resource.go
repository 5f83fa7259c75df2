package resource

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
)

// Type tags which kind of schedulable entity a Ref points at.
type Type string

const (
	TypePractitioner      Type = "practitioner"
	TypeLocation          Type = "location"
	TypeHealthcareService Type = "healthcare_service"
)

func (t Type) Valid() bool {
	switch t {
	case TypePractitioner, TypeLocation, TypeHealthcareService:
		return true
	}
	return false
}

// Ref identifies a resource owned by another service.
type Ref struct {
	Type Type      `json:"resource_type"`
	ID   uuid.UUID `json:"resource_id"`
}

func (r Ref) Validate() error {
	if !r.Type.Valid() {
		return apperr.Validation("invalid resource_type %q", r.Type)
	}
	if r.ID == uuid.Nil {
		return apperr.Validation("resource_id is required")
	}
	return nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Parse builds a Ref from its wire fields.
func Parse(typ, id string) (Ref, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return Ref{}, apperr.Validation("resource_id must be a valid UUID")
	}
	ref := Ref{Type: Type(typ), ID: rid}
	return ref, ref.Validate()
}
