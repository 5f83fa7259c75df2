package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/scheduling-engine/internal/audit"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

var _ Repository = (*PgRepository)(nil)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const categoryColumns = `id, facility_id, resource_type, name, shorthand, is_default, created_at, updated_at`

const queueColumns = `id, facility_id, resource_type, resource_id, date, name, is_primary, status, created_at, updated_at`

const tokenColumns = `id, queue_id, category_id, scope_id, number, label, patient_id, appointment_id, note, status, created_at, updated_at`

// Helpers

func scanCategory(row pgx.Row) (*Category, error) {
	var c Category
	var rt string

	err := row.Scan(
		&c.ID,
		&c.FacilityID,
		&rt,
		&c.Name,
		&c.Shorthand,
		&c.IsDefault,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	c.ResourceType = resource.Type(rt)
	return &c, nil
}

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	var rt, status string
	var day time.Time

	err := row.Scan(
		&q.ID,
		&q.FacilityID,
		&rt,
		&q.Resource.ID,
		&day,
		&q.Name,
		&q.IsPrimary,
		&status,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}

	q.Resource.Type = resource.Type(rt)
	q.Date = civil.DateOf(day)
	q.Status = QueueStatus(status)
	return &q, nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var status string

	err := row.Scan(
		&t.ID,
		&t.QueueID,
		&t.CategoryID,
		&t.ScopeID,
		&t.Number,
		&t.Label,
		&t.PatientID,
		&t.AppointmentID,
		&t.Note,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	t.Status = Status(status)
	return &t, nil
}

func collectTokens(rows pgx.Rows) ([]Token, error) {
	defer rows.Close()

	var result []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// Categories

func (r *PgRepository) CreateCategory(ctx context.Context, c *Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO token_categories (id, facility_id, resource_type, name, shorthand, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+categoryColumns,
		c.ID, c.FacilityID, c.ResourceType, c.Name, c.Shorthand, c.IsDefault)

	created, err := scanCategory(row)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	*c = *created
	return nil
}

func (r *PgRepository) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+categoryColumns+`
		FROM token_categories
		WHERE id = $1
	`, id)
	return scanCategory(row)
}

func (r *PgRepository) DefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) (*Category, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+categoryColumns+`
		FROM token_categories
		WHERE facility_id = $1
		  AND resource_type = $2
		  AND is_default
	`, facilityID, rt)
	return scanCategory(row)
}

func (r *PgRepository) DemoteDefaultCategory(ctx context.Context, facilityID uuid.UUID, rt resource.Type) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE token_categories
		SET is_default = false,
		    updated_at = now()
		WHERE facility_id = $1
		  AND resource_type = $2
		  AND is_default
	`, facilityID, rt)
	return err
}

func (r *PgRepository) ListCategories(ctx context.Context, facilityID *uuid.UUID, rt *resource.Type) ([]Category, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+categoryColumns+`
		FROM token_categories
		WHERE ($1::uuid IS NULL OR facility_id = $1)
		  AND ($2::text IS NULL OR resource_type = $2)
		ORDER BY is_default DESC, name
	`, facilityID, rt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// Queues

func (r *PgRepository) CreateQueue(ctx context.Context, q *Queue) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO token_queues (id, facility_id, resource_type, resource_id, date, name, is_primary, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+queueColumns,
		q.ID, q.FacilityID, q.Resource.Type, q.Resource.ID, pgDate(q.Date), q.Name, q.IsPrimary, q.Status)

	created, err := scanQueue(row)
	if err != nil {
		return fmt.Errorf("insert queue: %w", err)
	}
	*q = *created
	return nil
}

func (r *PgRepository) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM token_queues
		WHERE id = $1
	`, id)
	return scanQueue(row)
}

func (r *PgRepository) ListQueues(ctx context.Context, f QueueFilter) ([]Queue, error) {
	var where []string
	var args []any
	if f.FacilityID != nil {
		args = append(args, *f.FacilityID)
		where = append(where, fmt.Sprintf("facility_id = $%d", len(args)))
	}
	if f.Resource != nil {
		args = append(args, f.Resource.Type, f.Resource.ID)
		where = append(where, fmt.Sprintf("resource_type = $%d AND resource_id = $%d", len(args)-1, len(args)))
	}
	if f.Date != nil {
		args = append(args, pgDate(*f.Date))
		where = append(where, fmt.Sprintf("date = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+queueColumns+`
		FROM token_queues
		`+clause+`
		ORDER BY date DESC, is_primary DESC, created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}
	return result, rows.Err()
}

func (r *PgRepository) PrimaryQueue(ctx context.Context, ref resource.Ref, day civil.Date) (*Queue, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM token_queues
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND date = $3
		  AND is_primary
	`, ref.Type, ref.ID, pgDate(day))
	return scanQueue(row)
}

func (r *PgRepository) DemotePrimary(ctx context.Context, ref resource.Ref, day civil.Date) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE token_queues
		SET is_primary = false,
		    updated_at = now()
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND date = $3
		  AND is_primary
	`, ref.Type, ref.ID, pgDate(day))
	return err
}

func (r *PgRepository) PromotePrimary(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE token_queues
		SET is_primary = true,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+queueColumns,
		id)
	return scanQueue(row)
}

func (r *PgRepository) UpdateQueueStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*Queue, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE token_queues
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+queueColumns,
		id, to, from)
	return scanQueue(row)
}

func (r *PgRepository) LockQueue(ctx context.Context, queueID uuid.UUID) error {
	return db.AdvisoryLock(ctx, r.pool, Queue{ID: queueID}.LockKey())
}

func (r *PgRepository) LockQueueDay(ctx context.Context, ref resource.Ref, day civil.Date) error {
	return db.AdvisoryLock(ctx, r.pool, dayLockKey(ref, day))
}

// Tokens

func (r *PgRepository) CountIssued(ctx context.Context, queueID, scopeID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*)
		FROM tokens
		WHERE queue_id = $1
		  AND scope_id = $2
	`, queueID, scopeID).Scan(&n)
	return n, err
}

func (r *PgRepository) CreateToken(ctx context.Context, t *Token) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tokens (id, queue_id, category_id, scope_id, number, label, patient_id, appointment_id, note, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+tokenColumns,
		t.ID, t.QueueID, t.CategoryID, t.ScopeID, t.Number, t.Label, t.PatientID, t.AppointmentID, t.Note, t.Status)

	created, err := scanToken(row)
	if err != nil {
		if db.IsUniqueViolation(err, "tokens_live_appointment_uniq") {
			return ErrTokenAlreadyIssued.Wrap(err)
		}
		return err
	}
	*t = *created
	return nil
}

func (r *PgRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *PgRepository) LiveTokenForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Token, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE appointment_id = $1
		  AND status IN ('created', 'called')
	`, appointmentID)
	return scanToken(row)
}

func (r *PgRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Token, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE tokens
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+tokenColumns,
		id, to, from)
	return scanToken(row)
}

func (r *PgRepository) QueueTokens(ctx context.Context, queueID uuid.UUID) ([]Token, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE queue_id = $1
		ORDER BY number, created_at
	`, queueID)
	if err != nil {
		return nil, err
	}
	return collectTokens(rows)
}

func (r *PgRepository) ListTokens(ctx context.Context, f TokenFilter) ([]Token, error) {
	var where []string
	var args []any
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("t.patient_id = $%d", len(args)))
	}
	if f.QueueID != nil {
		args = append(args, *f.QueueID)
		where = append(where, fmt.Sprintf("t.queue_id = $%d", len(args)))
	}
	if f.Date != nil {
		args = append(args, pgDate(*f.Date))
		where = append(where, fmt.Sprintf("q.date = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT t.id, t.queue_id, t.category_id, t.scope_id, t.number, t.label, t.patient_id, t.appointment_id,
		       t.note, t.status, t.created_at, t.updated_at
		FROM tokens t
		JOIN token_queues q ON q.id = t.queue_id
		`+clause+`
		ORDER BY q.date DESC, t.number, t.created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectTokens(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev audit.Event) error {
	return audit.Write(ctx, db.Conn(ctx, r.pool), ev)
}
