package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

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

const scheduleColumns = `id, facility_id, resource_type, resource_id, name, valid_from, valid_to, created_at, updated_at`

const availabilityColumns = `id, schedule_id, name, slot_type, slot_size_in_minutes, tokens_per_slot, reason, rules, created_at, updated_at`

const exceptionColumns = `id, facility_id, resource_type, resource_id, reason, valid_from, valid_to, start_time, end_time, created_at`

// Helpers

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var typ string

	err := row.Scan(
		&s.ID,
		&s.FacilityID,
		&typ,
		&s.Resource.ID,
		&s.Name,
		&s.ValidFrom,
		&s.ValidTo,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	s.Resource.Type = resource.Type(typ)
	s.Availabilities = []Availability{}
	return &s, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var rules []byte

	err := row.Scan(
		&a.ID,
		&a.ScheduleID,
		&a.Name,
		&a.SlotType,
		&a.SlotSizeInMinutes,
		&a.TokensPerSlot,
		&a.Reason,
		&rules,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(rules, &a.Rules); err != nil {
		return nil, fmt.Errorf("decode rules of availability %s: %w", a.ID, err)
	}
	return &a, nil
}

func scanException(row pgx.Row) (*Exception, error) {
	var e Exception
	var typ string
	var from, to time.Time
	var start, end pgtype.Time

	err := row.Scan(
		&e.ID,
		&e.FacilityID,
		&typ,
		&e.Resource.ID,
		&e.Reason,
		&from,
		&to,
		&start,
		&end,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, err
	}

	e.Resource.Type = resource.Type(typ)
	e.ValidFrom = civil.DateOf(from)
	e.ValidTo = civil.DateOf(to)
	e.StartTime = fromPgTime(start)
	e.EndTime = fromPgTime(end)
	return &e, nil
}

func toPgTime(t civil.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) civil.TimeOfDay {
	return civil.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// pgDate is how a civil date travels to a DATE column.
func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// Schedules

func (r *PgRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedules (id, facility_id, resource_type, resource_id, name, valid_from, valid_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+scheduleColumns,
		s.ID, s.FacilityID, s.Resource.Type, s.Resource.ID, s.Name, s.ValidFrom, s.ValidTo)

	created, err := scanSchedule(row)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	created.Availabilities = s.Availabilities
	*s = *created
	return nil
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	s, err := scanSchedule(row)
	if err != nil {
		return nil, err
	}
	if err := r.attachAvailabilities(ctx, []*Schedule{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, s *Schedule) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE schedules
		SET name = $2,
		    valid_from = $3,
		    valid_to = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+scheduleColumns,
		s.ID, s.Name, s.ValidFrom, s.ValidTo)

	updated, err := scanSchedule(row)
	if err != nil {
		return err
	}
	updated.Availabilities = s.Availabilities
	*s = *updated
	return nil
}

func (r *PgRepository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgRepository) ListSchedules(ctx context.Context, f ScheduleFilter) ([]Schedule, int, error) {
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
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM schedules `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := q.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		`+clause+`
		ORDER BY valid_from, id
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	scheds, err := collectSchedules(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachAvailabilitiesTo(ctx, scheds); err != nil {
		return nil, 0, err
	}
	return scheds, total, nil
}

func (r *PgRepository) SchedulesForResource(ctx context.Context, ref resource.Ref, from, to time.Time) ([]Schedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND valid_from < $4
		  AND valid_to >= $3
		ORDER BY valid_from, id
	`, ref.Type, ref.ID, from, to)
	if err != nil {
		return nil, err
	}
	scheds, err := collectSchedules(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachAvailabilitiesTo(ctx, scheds); err != nil {
		return nil, err
	}
	return scheds, nil
}

func (r *PgRepository) ScheduleForAvailability(ctx context.Context, availabilityID uuid.UUID) (*Schedule, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT s.id, s.facility_id, s.resource_type, s.resource_id, s.name, s.valid_from, s.valid_to, s.created_at, s.updated_at
		FROM schedules s
		JOIN availabilities a ON a.schedule_id = s.id
		WHERE a.id = $1
	`, availabilityID)
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	if err := r.attachAvailabilities(ctx, []*Schedule{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) attachAvailabilitiesTo(ctx context.Context, scheds []Schedule) error {
	ptrs := make([]*Schedule, len(scheds))
	for i := range scheds {
		ptrs[i] = &scheds[i]
	}
	return r.attachAvailabilities(ctx, ptrs)
}

func (r *PgRepository) attachAvailabilities(ctx context.Context, scheds []*Schedule) error {
	if len(scheds) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Schedule, len(scheds))
	ids := make([]uuid.UUID, 0, len(scheds))
	for _, s := range scheds {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM availabilities
		WHERE schedule_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load availabilities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return err
		}
		s := byID[a.ScheduleID]
		s.Availabilities = append(s.Availabilities, *a)
	}
	return rows.Err()
}

// Availabilities

func (r *PgRepository) CreateAvailability(ctx context.Context, a *Availability) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	rules, err := json.Marshal(a.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availabilities (id, schedule_id, name, slot_type, slot_size_in_minutes, tokens_per_slot, reason, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+availabilityColumns,
		a.ID, a.ScheduleID, a.Name, a.SlotType, a.SlotSizeInMinutes, a.TokensPerSlot, a.Reason, rules)

	created, err := scanAvailability(row)
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availabilities
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availabilities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

// Exceptions

func (r *PgRepository) CreateException(ctx context.Context, e *Exception) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule_exceptions (id, facility_id, resource_type, resource_id, reason, valid_from, valid_to, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING `+exceptionColumns,
		e.ID, e.FacilityID, e.Resource.Type, e.Resource.ID, e.Reason,
		pgDate(e.ValidFrom), pgDate(e.ValidTo), toPgTime(e.StartTime), toPgTime(e.EndTime))

	created, err := scanException(row)
	if err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}
	*e = *created
	return nil
}

func (r *PgRepository) GetException(ctx context.Context, id uuid.UUID) (*Exception, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+exceptionColumns+`
		FROM schedule_exceptions
		WHERE id = $1
	`, id)
	return scanException(row)
}

func (r *PgRepository) DeleteException(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedule_exceptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

func (r *PgRepository) ListExceptions(ctx context.Context, f ExceptionFilter) ([]Exception, error) {
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
	if f.From != nil {
		args = append(args, pgDate(*f.From))
		where = append(where, fmt.Sprintf("valid_to >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, pgDate(*f.To))
		where = append(where, fmt.Sprintf("valid_from <= $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM schedule_exceptions
		`+clause+`
		ORDER BY valid_from, start_time, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
