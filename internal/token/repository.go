package token

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var (
	ErrQueueNotFound    = apperr.New(apperr.KindNotFound, "queue_not_found", "token queue not found")
	ErrCategoryNotFound = apperr.New(apperr.KindNotFound, "category_not_found", "token category not found")
	ErrTokenNotFound    = apperr.New(apperr.KindNotFound, "token_not_found", "token not found")
)

// Repository contains all DB interactions needed by the queue manager.
type Repository interface {
	// Categories
	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	DefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) (*Category, error)
	DemoteDefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) error
	ListCategories(ctx context.Context, facilityID *uuid.UUID, rt *resource.Type) ([]Category, error)

	// Queues
	CreateQueue(ctx context.Context, q *Queue) error
	GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	ListQueues(ctx context.Context, f QueueFilter) ([]Queue, error)
	PrimaryQueue(ctx context.Context, ref resource.Ref, day civil.Date) (*Queue, error)
	DemotePrimary(ctx context.Context, ref resource.Ref, day civil.Date) error
	PromotePrimary(ctx context.Context, id uuid.UUID) (*Queue, error)
	UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*Queue, error)

	// LockQueue and LockQueueDay serialize writers for the rest of the
	// enclosing transaction.
	LockQueue(ctx context.Context, queueID uuid.UUID) error
	LockQueueDay(ctx context.Context, ref resource.Ref, day civil.Date) error

	// Tokens
	CountIssued(ctx context.Context, queueID, scopeID uuid.UUID) (int, error)
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)
	LiveTokenForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Token, error)
	UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Token, error)
	QueueTokens(ctx context.Context, queueID uuid.UUID) ([]Token, error)
	ListTokens(ctx context.Context, f TokenFilter) ([]Token, error)

	InsertEvent(ctx context.Context, ev audit.Event) error
}
