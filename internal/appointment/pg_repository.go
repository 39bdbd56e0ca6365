package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, room_number, start_time, end_time, status, reason, version, created_at, updated_at`

const maxDispatchAttempts = 10

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(&p.ID, &p.Name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(&d.ID, &d.Name, &specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var room *int32
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&room,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.Reason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if room != nil {
		n := int(*room)
		a.RoomNumber = &n
	}
	a.Status, err = ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
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

func statusTexts(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.String())
	}
	return out
}

func roomArg(room *int) *int32 {
	if room == nil {
		return nil
	}
	n := int32(*room)
	return &n
}

// txError maps Postgres serialization and deadlock failures to
// ErrConcurrentModification so callers can retry.
func txError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Message)
		}
	}
	return err
}

// Transactions

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return txError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return txError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, specialty
		FROM doctors
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointments

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Appointment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sql := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = ANY($1)
		ORDER BY id`
	if r.inTx {
		sql += ` FOR UPDATE`
	}

	rows, err := r.q.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("find appointments by ids: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) QueryOverlapping(ctx context.Context, q OverlapQuery) ([]uuid.UUID, error) {
	var column string
	var key any
	switch q.Scope.Kind {
	case ConflictPatient:
		column, key = "patient_id", q.Scope.ID
	case ConflictDoctor:
		column, key = "doctor_id", q.Scope.ID
	case ConflictRoom:
		column, key = "room_number", int32(q.Scope.Room)
	default:
		return nil, fmt.Errorf("unknown scope kind %d", q.Scope.Kind)
	}

	rows, err := r.q.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE `+column+` = $1
		  AND id <> $2
		  AND NOT (status = ANY($3))
		  AND start_time < $4
		  AND end_time > $5
		ORDER BY start_time
	`, key, q.ExcludeID, statusTexts(q.ExcludedStatuses), q.End, q.Start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1

	err := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, room_number, start_time, end_time, status, reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.DoctorID, roomArg(a.RoomNumber), a.StartTime, a.EndTime, a.Status.String(), a.Reason).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment) error {
	err := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET patient_id = $3,
		    doctor_id = $4,
		    room_number = $5,
		    start_time = $6,
		    end_time = $7,
		    status = $8,
		    reason = $9,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING version, updated_at
	`, a.ID, a.Version, a.PatientID, a.DoctorID, roomArg(a.RoomNumber), a.StartTime, a.EndTime, a.Status.String(), a.Reason).
		Scan(&a.Version, &a.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update appointment: %w", err)
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check appointment exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func (r *PgRepository) AppointmentsForDate(ctx context.Context, day time.Time) ([]Appointment, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE start_time < $2
		  AND end_time > $1
		ORDER BY start_time, id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query appointments for date: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) AppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time, id
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query appointments for doctor: %w", err)
	}
	return collectAppointments(rows)
}

// Outbox

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at, claimed_until)
		VALUES ($1, $2, $3, COALESCE($4, now()), now() + make_interval(secs => $5))
		RETURNING id
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt), InlineDispatchLease.Seconds()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event log: %w", err)
	}
	return id, nil
}

// ClaimPendingEvents leases rows in a single statement. SKIP LOCKED keeps
// concurrent workers from claiming the same row.
func (r *PgRepository) ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]EventLog, error) {
	rows, err := r.q.Query(ctx, `
		UPDATE event_logs e
		SET claimed_until = now() + make_interval(secs => $3)
		WHERE e.id IN (
			SELECT id
			FROM event_logs
			WHERE dispatched_at IS NULL
			  AND attempts < $1
			  AND (claimed_until IS NULL OR claimed_until <= now())
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING e.id, e.event_type, e.appointment_id, e.payload, e.created_at, e.dispatched_at, e.claimed_until, e.attempts, e.last_error
	`, maxDispatchAttempts, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.DispatchedAt, &ev.ClaimedUntil, &ev.Attempts, &ev.LastError); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING has no defined order
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *PgRepository) MarkEventDispatched(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `
		UPDATE event_logs
		SET dispatched_at = now(),
		    attempts = attempts + 1,
		    last_error = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkEventFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE event_logs
		SET attempts = attempts + 1,
		    last_error = $2,
		    claimed_until = NULL
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
