package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var (
	ErrQueueClosed                    = apperr.New(apperr.KindState, "queue_closed", "token queue is closed")
	ErrCategoryInvalidForResourceType = apperr.New(apperr.KindValidation, "category_invalid_for_resource_type", "category does not apply to the queue's resource type")
	ErrNoDefaultCategory              = apperr.New(apperr.KindValidation, "no_default_category", "no default token category for this resource type")
	ErrTokenAlreadyIssued             = apperr.New(apperr.KindConflict, "token_already_issued", "appointment already holds a live token")
	ErrAppointmentNotActive           = apperr.New(apperr.KindState, "appointment_not_active", "appointment is cancelled or rescheduled")
	ErrInvalidTokenTransition         = apperr.New(apperr.KindState, "invalid_token_transition", "invalid token status transition")
	ErrQueueBusy                      = apperr.New(apperr.KindTransient, "queue_busy", "token queue is busy, please retry")
)

// AppointmentSource loads the appointment a token is issued against.
// LockActive runs inside the issuing transaction and holds the
// appointment's row until it commits.
type AppointmentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
	LockActive(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Service struct {
	repo         Repository
	appointments AppointmentSource
	tx           db.Transactor
	locker       lock.Locker
	numbering    Numbering
	loc          *time.Location
	log          zerolog.Logger
}

func NewService(repo Repository, appointments AppointmentSource, tx db.Transactor, locker lock.Locker, cfg config.Config, logger zerolog.Logger) *Service {
	numbering := NumberPerCategory
	if Numbering(cfg.TokenNumbering) == NumberPerQueue {
		numbering = NumberPerQueue
	}
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:         repo,
		appointments: appointments,
		tx:           tx,
		locker:       locker,
		numbering:    numbering,
		loc:          loc,
		log:          logger.With().Str("component", "token").Logger(),
	}
}

// -- Categories --

// CreateCategory stores a category. A new default demotes the previous
// default of the same facility and resource type in the same transaction.
func (s *Service) CreateCategory(ctx context.Context, c *Category) error {
	if c.FacilityID == uuid.Nil {
		return apperr.Validation("facility_id is required")
	}
	if !c.ResourceType.Valid() {
		return apperr.Validation("invalid resource_type %q", c.ResourceType)
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	c.Shorthand = strings.ToUpper(strings.TrimSpace(c.Shorthand))

	return s.tx.InTx(ctx, func(txCtx context.Context) error {
		if c.IsDefault {
			if err := s.repo.DemoteDefaultCategory(txCtx, c.FacilityID, c.ResourceType); err != nil {
				return fmt.Errorf("demote default category: %w", err)
			}
		}
		return s.repo.CreateCategory(txCtx, c)
	})
}

func (s *Service) ListCategories(ctx context.Context, facilityID *uuid.UUID, rt *resource.Type) ([]Category, error) {
	if rt != nil && !rt.Valid() {
		return nil, apperr.Validation("invalid resource_type %q", *rt)
	}
	return s.repo.ListCategories(ctx, facilityID, rt)
}

// -- Queues --

// CreateQueue opens a queue for a resource and day. When SetIsPrimary is
// set any current primary queue of that day is demoted first, inside the
// same transaction.
func (s *Service) CreateQueue(ctx context.Context, req CreateQueueRequest) (*Queue, error) {
	if err := req.Resource.Validate(); err != nil {
		return nil, err
	}
	if req.FacilityID == uuid.Nil {
		return nil, apperr.Validation("facility_id is required")
	}
	if req.Date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}

	q := &Queue{
		FacilityID: req.FacilityID,
		Resource:   req.Resource,
		Date:       req.Date,
		Name:       name,
		IsPrimary:  req.SetIsPrimary,
		Status:     QueueActive,
	}
	err := s.withDayLock(ctx, req.Resource, req.Date, func(txCtx context.Context) error {
		if req.SetIsPrimary {
			if err := s.repo.DemotePrimary(txCtx, req.Resource, req.Date); err != nil {
				return fmt.Errorf("demote primary queue: %w", err)
			}
		}
		return s.repo.CreateQueue(txCtx, q)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("queue_id", q.ID.String()).Str("resource", q.Resource.String()).Str("date", q.Date.String()).Bool("primary", q.IsPrimary).Msg("token queue created")
	return q, nil
}

// SetPrimary promotes a queue, demoting the current primary of its day.
func (s *Service) SetPrimary(ctx context.Context, id uuid.UUID) (*Queue, error) {
	q, err := s.repo.GetQueue(ctx, id)
	if err != nil {
		return nil, err
	}
	var promoted *Queue
	err = s.withDayLock(ctx, q.Resource, q.Date, func(txCtx context.Context) error {
		if err := s.repo.DemotePrimary(txCtx, q.Resource, q.Date); err != nil {
			return fmt.Errorf("demote primary queue: %w", err)
		}
		promoted, err = s.repo.PromotePrimary(txCtx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (s *Service) withDayLock(ctx context.Context, ref resource.Ref, day civil.Date, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, dayLockKey(ref, day), func(lockCtx context.Context) error {
		return s.tx.InTx(lockCtx, func(txCtx context.Context) error {
			if err := s.repo.LockQueueDay(txCtx, ref, day); err != nil {
				return err
			}
			return fn(txCtx)
		})
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrQueueBusy.Wrap(err)
	}
	return err
}

func (s *Service) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return s.repo.GetQueue(ctx, id)
}

func (s *Service) ListQueues(ctx context.Context, f QueueFilter) ([]Queue, error) {
	return s.repo.ListQueues(ctx, f)
}

// CloseQueue stops issuance; existing tokens keep their status.
func (s *Service) CloseQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	q, err := s.repo.UpdateQueueStatus(ctx, id, QueueActive, QueueClosed)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			if _, getErr := s.repo.GetQueue(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrQueueClosed
		}
		return nil, err
	}
	s.log.Info().Str("queue_id", id.String()).Msg("token queue closed")
	return q, nil
}

// -- Tokens --

// IssueToken assigns the next number in the queue's numbering scope. The
// count and the insert run under the queue's lock in one transaction, so
// concurrent issuance yields 1..n with no gaps or duplicates.
func (s *Service) IssueToken(ctx context.Context, req IssueRequest) (*Token, error) {
	if req.QueueID == uuid.Nil {
		return nil, apperr.Validation("queue_id is required")
	}
	lockKey := Queue{ID: req.QueueID}.LockKey()

	var issued *Token
	err := s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		return s.tx.InTx(lockCtx, func(txCtx context.Context) error {
			if err := s.repo.LockQueue(txCtx, req.QueueID); err != nil {
				return err
			}
			t, err := s.issueLocked(txCtx, req)
			if err != nil {
				return err
			}
			issued = t
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrQueueBusy.Wrap(err)
		}
		return nil, err
	}

	s.log.Info().
		Str("token_id", issued.ID.String()).
		Str("queue_id", issued.QueueID.String()).
		Str("label", issued.Label).
		Msg("token issued")
	return issued, nil
}

func (s *Service) issueLocked(ctx context.Context, req IssueRequest) (*Token, error) {
	q, err := s.repo.GetQueue(ctx, req.QueueID)
	if err != nil {
		return nil, err
	}
	if q.Status == QueueClosed {
		return nil, ErrQueueClosed
	}

	cat, err := s.category(ctx, q, req.CategoryID)
	if err != nil {
		return nil, err
	}

	if req.AppointmentID != nil {
		appt, err := s.appointments.LockActive(ctx, *req.AppointmentID)
		if errors.Is(err, appointment.ErrAlreadyTerminal) {
			return nil, ErrAppointmentNotActive.WithMessage("appointment is %s", appt.Status)
		}
		if err != nil {
			return nil, err
		}
		live, err := s.repo.LiveTokenForAppointment(ctx, *req.AppointmentID)
		if err != nil && !errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("check appointment token: %w", err)
		}
		if live != nil {
			return nil, ErrTokenAlreadyIssued.WithMessage("appointment already holds token %s", live.Label)
		}
	}

	scope := uuid.Nil
	if s.numbering == NumberPerCategory {
		scope = cat.ID
	}
	n, err := s.repo.CountIssued(ctx, q.ID, scope)
	if err != nil {
		return nil, fmt.Errorf("count issued tokens: %w", err)
	}

	t := &Token{
		ID:            uuid.New(),
		QueueID:       q.ID,
		CategoryID:    cat.ID,
		ScopeID:       scope,
		Number:        n + 1,
		Label:         label(cat.Shorthand, n+1),
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		Note:          req.Note,
		Status:        StatusCreated,
	}
	if err := s.repo.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	payload := map[string]any{
		"queue_id":    q.ID.String(),
		"category_id": cat.ID.String(),
		"number":      t.Number,
		"label":       t.Label,
	}
	if req.AppointmentID != nil {
		payload["appointment_id"] = req.AppointmentID.String()
	}
	if err := s.repo.InsertEvent(ctx, audit.ForToken(audit.EventTokenIssued, t.ID, payload)); err != nil {
		return nil, err
	}
	return t, nil
}

// category resolves the requested category, or the default one, and checks
// it applies to the queue.
func (s *Service) category(ctx context.Context, q *Queue, id *uuid.UUID) (*Category, error) {
	if id == nil {
		cat, err := s.repo.DefaultCategory(ctx, q.FacilityID, q.Resource.Type)
		if errors.Is(err, ErrCategoryNotFound) {
			return nil, ErrNoDefaultCategory.WithMessage("no default token category for %s", q.Resource.Type)
		}
		return cat, err
	}

	cat, err := s.repo.GetCategory(ctx, *id)
	if err != nil {
		return nil, err
	}
	if cat.ResourceType != q.Resource.Type || cat.FacilityID != q.FacilityID {
		return nil, ErrCategoryInvalidForResourceType.WithMessage("category %q is for %s, queue is for %s", cat.Name, cat.ResourceType, q.Resource.Type)
	}
	return cat, nil
}

func label(shorthand string, n int) string {
	if shorthand == "" {
		return strconv.Itoa(n)
	}
	return shorthand + "-" + strconv.Itoa(n)
}

// IssueForAppointment issues a token into the primary queue of the
// appointment's resource and day, creating that queue on first use.
func (s *Service) IssueForAppointment(ctx context.Context, appointmentID uuid.UUID, categoryID *uuid.UUID, note string) (*Token, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrAppointmentNotActive.WithMessage("appointment is %s", appt.Status)
	}

	day := civil.DateOf(appt.SlotStart.In(s.loc))
	q, err := s.ensurePrimary(ctx, appt.FacilityID, appt.Resource, day)
	if err != nil {
		return nil, err
	}

	patientID := appt.PatientID
	return s.IssueToken(ctx, IssueRequest{
		QueueID:       q.ID,
		CategoryID:    categoryID,
		Note:          note,
		AppointmentID: &appointmentID,
		PatientID:     &patientID,
	})
}

func (s *Service) ensurePrimary(ctx context.Context, facilityID uuid.UUID, ref resource.Ref, day civil.Date) (*Queue, error) {
	var q *Queue
	err := s.withDayLock(ctx, ref, day, func(txCtx context.Context) error {
		existing, err := s.repo.PrimaryQueue(txCtx, ref, day)
		if err == nil {
			q = existing
			return nil
		}
		if !errors.Is(err, ErrQueueNotFound) {
			return err
		}

		q = &Queue{
			FacilityID: facilityID,
			Resource:   ref,
			Date:       day,
			Name:       day.String(),
			IsPrimary:  true,
			Status:     QueueActive,
		}
		return s.repo.CreateQueue(txCtx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// UpdateTokenStatus moves a token along created -> called -> done. The
// queue's order is unaffected.
func (s *Service) UpdateTokenStatus(ctx context.Context, id uuid.UUID, to Status) (*Token, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown token status %q", to)
	}

	var updated *Token
	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		t, err := s.repo.GetToken(txCtx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(transitions[t.Status], to) {
			return ErrInvalidTokenTransition.WithMessage("cannot move token from %s to %s", t.Status, to)
		}
		updated, err = s.repo.UpdateTokenStatus(txCtx, id, t.Status, to)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				return ErrInvalidTokenTransition.WithMessage("token changed concurrently")
			}
			return err
		}
		return s.repo.InsertEvent(txCtx, audit.ForToken(audit.EventTokenTransition, id, map[string]any{
			"from": string(t.Status),
			"to":   string(to),
		}))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReleaseForAppointment cancels the appointment's token if it has not been
// called yet. A called token stays as it is.
func (s *Service) ReleaseForAppointment(ctx context.Context, appointmentID uuid.UUID, reason string) error {
	t, err := s.repo.LiveTokenForAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if t.Status != StatusCreated {
		return nil
	}

	if _, err := s.repo.UpdateTokenStatus(ctx, t.ID, StatusCreated, StatusCancelled); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}
	return s.repo.InsertEvent(ctx, audit.ForToken(audit.EventTokenTransition, t.ID, map[string]any{
		"from":   string(StatusCreated),
		"to":     string(StatusCancelled),
		"reason": reason,
	}))
}

// Board returns every token of a queue in number order.
func (s *Service) Board(ctx context.Context, queueID uuid.UUID) (*Board, error) {
	q, err := s.repo.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.repo.QueueTokens(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	if tokens == nil {
		tokens = []Token{}
	}

	counts := make(map[Status]int)
	for _, t := range tokens {
		counts[t.Status]++
	}
	return &Board{Queue: q, Tokens: tokens, Counts: counts}, nil
}

func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.repo.GetToken(ctx, id)
}

func (s *Service) ListTokens(ctx context.Context, f TokenFilter) ([]Token, error) {
	if f.PatientID == nil && f.QueueID == nil && f.Date == nil {
		return nil, apperr.Validation("one of patient, queue or date is required")
	}
	return s.repo.ListTokens(ctx, f)
}
