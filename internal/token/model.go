package token

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

type QueueStatus string

const (
	QueueActive QueueStatus = "active"
	QueueClosed QueueStatus = "closed"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusCalled    Status = "called"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusCalled, StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusCreated: {StatusCalled, StatusCancelled, StatusNoShow},
	StatusCalled:  {StatusCompleted, StatusNoShow, StatusCancelled},
}

// Numbering selects the scope a sequence number is unique and gapless in.
type Numbering string

const (
	NumberPerCategory Numbering = "category"
	NumberPerQueue    Numbering = "queue"
)

// Category is a named bucket of tokens within a facility, such as
// "General" or "Emergency".
type Category struct {
	ID           uuid.UUID     `json:"id"`
	FacilityID   uuid.UUID     `json:"facility_id"`
	ResourceType resource.Type `json:"resource_type"`
	Name         string        `json:"name"`
	Shorthand    string        `json:"shorthand"`
	IsDefault    bool          `json:"default"`
	CreatedAt    time.Time     `json:"created_date"`
	UpdatedAt    time.Time     `json:"modified_date"`
}

// Queue is the ordered line of tokens for one resource on one day.
type Queue struct {
	ID         uuid.UUID    `json:"id"`
	FacilityID uuid.UUID    `json:"facility_id"`
	Resource   resource.Ref `json:"resource"`
	Date       civil.Date   `json:"date"`
	Name       string       `json:"name"`
	IsPrimary  bool         `json:"is_primary"`
	Status     QueueStatus  `json:"status"`
	CreatedAt  time.Time    `json:"created_date"`
	UpdatedAt  time.Time    `json:"modified_date"`
}

// LockKey names the critical section guarding numbering in q.
func (q Queue) LockKey() string {
	return "queue:" + q.ID.String()
}

func dayLockKey(ref resource.Ref, day civil.Date) string {
	return "queue-day:" + ref.String() + ":" + day.String()
}

type Token struct {
	ID            uuid.UUID  `json:"id"`
	QueueID       uuid.UUID  `json:"queue_id"`
	CategoryID    uuid.UUID  `json:"category_id"`
	ScopeID       uuid.UUID  `json:"-"`
	Number        int        `json:"number"`
	Label         string     `json:"label"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Note          string     `json:"note"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_date"`
	UpdatedAt     time.Time  `json:"modified_date"`
}

type IssueRequest struct {
	QueueID       uuid.UUID
	CategoryID    *uuid.UUID
	Note          string
	AppointmentID *uuid.UUID
	PatientID     *uuid.UUID
}

type CreateQueueRequest struct {
	FacilityID   uuid.UUID
	Resource     resource.Ref
	Date         civil.Date
	Name         string
	SetIsPrimary bool
}

type QueueFilter struct {
	FacilityID *uuid.UUID
	Resource   *resource.Ref
	Date       *civil.Date
}

type TokenFilter struct {
	PatientID *uuid.UUID
	QueueID   *uuid.UUID
	Date      *civil.Date
}

// Board is the display view of a queue. Tokens keep issue order whatever
// their status.
type Board struct {
	Queue  *Queue         `json:"queue"`
	Tokens []Token        `json:"tokens"`
	Counts map[Status]int `json:"counts"`
}
