package appointment

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
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/slots"
)

var _ Repository = (*PgRepository)(nil)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, facility_id, resource_type, resource_id, availability_id, slot_start, slot_end,
	patient_id, status, note, tags, booked_by, cancel_reason, needs_review, review_reason,
	rescheduled_from, rescheduled_to, created_at, updated_at`

// activeClause selects appointments that still hold their slot.
const activeClause = `status NOT IN ('cancelled', 'entered_in_error', 'rescheduled')`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var typ string

	err := row.Scan(
		&a.ID,
		&a.FacilityID,
		&typ,
		&a.Resource.ID,
		&a.AvailabilityID,
		&a.SlotStart,
		&a.SlotEnd,
		&a.PatientID,
		&a.Status,
		&a.Note,
		&a.Tags,
		&a.BookedBy,
		&a.CancelReason,
		&a.NeedsReview,
		&a.ReviewReason,
		&a.RescheduledFrom,
		&a.RescheduledTo,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Resource.Type = resource.Type(typ)
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f Filter) ([]Appointment, int, error) {
	var where []string
	var args []any
	add := func(cond string, vals ...any) {
		args = append(args, vals...)
		where = append(where, fmt.Sprintf(cond, placeholders(len(args)-len(vals)+1, len(vals))...))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Resource != nil {
		add("resource_type = $%d AND resource_id = $%d", f.Resource.Type, f.Resource.ID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.From != nil {
		add("slot_start >= $%d", *f.From)
	}
	if f.To != nil {
		add("slot_start < $%d", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM appointments `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY slot_start DESC, created_at DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func placeholders(first, n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

func (r *PgRepository) LockSlot(ctx context.Context, key slots.Key) error {
	return db.AdvisoryLock(ctx, r.pool, key.LockKey())
}

func (r *PgRepository) PatientHasActiveInWindow(ctx context.Context, patientID uuid.UUID, key slots.Key) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			  AND availability_id = $2
			  AND slot_start = $3
			  AND `+activeClause+`
		)
	`, patientID, key.AvailabilityID, key.Start).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}

	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, facility_id, resource_type, resource_id, availability_id, slot_start, slot_end,
			patient_id, status, note, tags, booked_by, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.FacilityID, a.Resource.Type, a.Resource.ID, a.AvailabilityID, a.SlotStart, a.SlotEnd,
		a.PatientID, a.Status, a.Note, a.Tags, a.BookedBy, a.RescheduledFrom)

	created, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, reason)

	return scanAppointment(row)
}

func (r *PgRepository) LinkRescheduled(ctx context.Context, id, to uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET rescheduled_to = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) UpdateDetails(ctx context.Context, id uuid.UUID, note *string, tags []string) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET note = COALESCE($2, note),
		    tags = COALESCE($3, tags),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, note, tags)

	return scanAppointment(row)
}

func (r *PgRepository) FindNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('proposed', 'pending', 'booked', 'arrived', 'waitlist')
		  AND slot_start < $1
		ORDER BY slot_start
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev audit.Event) error {
	return audit.Write(ctx, db.Conn(ctx, r.pool), ev)
}

// slots.AllocationCounter

func (r *PgRepository) AllocatedBetween(ctx context.Context, ref resource.Ref, from, to time.Time) (map[slots.Key]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT availability_id, slot_start, count(*)
		FROM appointments
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND slot_start >= $3
		  AND slot_start < $4
		  AND `+activeClause+`
		GROUP BY availability_id, slot_start
	`, ref.Type, ref.ID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[slots.Key]int)
	for rows.Next() {
		var k slots.Key
		var n int
		if err := rows.Scan(&k.AvailabilityID, &k.Start, &n); err != nil {
			return nil, err
		}
		k.Start = k.Start.UTC()
		counts[k] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) AllocatedFor(ctx context.Context, key slots.Key) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE availability_id = $1
		  AND slot_start = $2
		  AND `+activeClause,
		key.AvailabilityID, key.Start).Scan(&n)
	return n, err
}

// availability.BookingLookup

func (r *PgRepository) ActiveInRange(ctx context.Context, ref resource.Ref, from, to time.Time) ([]availability.BookedWindow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, slot_start, slot_end
		FROM appointments
		WHERE resource_type = $1
		  AND resource_id = $2
		  AND slot_start < $4
		  AND slot_end > $3
		  AND `+activeClause+`
		ORDER BY slot_start, id
	`, ref.Type, ref.ID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.BookedWindow
	for rows.Next() {
		var w availability.BookedWindow
		if err := rows.Scan(&w.AppointmentID, &w.Start, &w.End); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountActiveFrom(ctx context.Context, availabilityIDs []uuid.UUID, from time.Time) (int, error) {
	if len(availabilityIDs) == 0 {
		return 0, nil
	}
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE availability_id = ANY($1)
		  AND slot_start >= $2
		  AND `+activeClause,
		availabilityIDs, from).Scan(&n)
	return n, err
}

func (r *PgRepository) FlagForReview(ctx context.Context, ids []uuid.UUID, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	q := db.Conn(ctx, r.pool)

	if _, err := q.Exec(ctx, `
		UPDATE appointments
		SET needs_review = true,
		    review_reason = $2,
		    updated_at = now()
		WHERE id = ANY($1)
	`, ids, reason); err != nil {
		return fmt.Errorf("flag appointments: %w", err)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload)
		SELECT $1, id, jsonb_build_object('reason', $3::text)
		FROM unnest($2::uuid[]) AS id
	`, audit.EventAppointmentFlagged, ids, reason)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
