package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/hospital-scheduling/internal/db"
)

const activeSlotIndex = "appointments_provider_start_active_uq"

const appointmentColumns = `id, provider_id, patient_id, service_id, scheduled_at, duration_minutes,
	status, priority, COALESCE(notes, ''), created_at, updated_at`

const providerColumns = `id, name, COALESCE(specialty, ''), timezone, open_minutes, close_minutes,
	slot_duration_minutes, slot_gap_minutes, created_at, updated_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool       db.Pool
	defaultLoc *time.Location
}

// NewPgRepository builds the Postgres repository. defaultLoc is used for
// providers whose stored timezone cannot be loaded.
func NewPgRepository(pool db.Pool, defaultLoc *time.Location) *PgRepository {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &PgRepository{pool: pool, defaultLoc: defaultLoc}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email string

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

	if email != "" {
		p.Email = &email
	}
	return &p, nil
}

func scanProvider(row pgx.Row, fallback *time.Location) (*Provider, error) {
	var p Provider
	var specialty, tz string
	var opens, closes []int32
	var slotMinutes, gapMinutes int32

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&tz,
		&opens,
		&closes,
		&slotMinutes,
		&gapMinutes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	if len(opens) != 7 || len(closes) != 7 {
		return nil, fmt.Errorf("provider %s: weekly template must have 7 days, got %d/%d", p.ID, len(opens), len(closes))
	}

	if specialty != "" {
		p.Specialty = &specialty
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = fallback
	}

	p.Availability = AvailabilityTemplate{
		SlotDuration: time.Duration(slotMinutes) * time.Minute,
		SlotGap:      time.Duration(gapMinutes) * time.Minute,
		Location:     loc,
	}
	for day := range p.Availability.Days {
		p.Availability.Days[day] = DayWindow{Open: TimeOfDay(opens[day]), Close: TimeOfDay(closes[day])}
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, notes string
	var durationMinutes, priority int32

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.ServiceID,
		&a.ScheduledAt,
		&durationMinutes,
		&status,
		&priority,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.Duration = time.Duration(durationMinutes) * time.Minute
	a.Priority = int(priority)
	if notes != "" {
		a.Notes = &notes
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

// classify marks transient Postgres failures as retryable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %v", ErrRetryable, err)
		}
	}
	return err
}

func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotIndex
}

func minutes(d time.Duration) int32 {
	return int32(d / time.Minute)
}

// Reads outside a transaction

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row, r.defaultLoc)
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	var s MedicalService
	var durationMinutes int32

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &durationMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	s.Duration = time.Duration(durationMinutes) * time.Minute
	return &s, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listActiveForProvider(ctx, r.pool, providerID, from, to)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, order ListOrder, limit, offset int) ([]Appointment, error) {
	orderBy := "priority, scheduled_at, id"
	if order == OrderChronological {
		orderBy = "scheduled_at, id"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status <> 'cancelled'
		ORDER BY `+orderBy+`
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func listActiveForProvider(ctx context.Context, q querier, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND status <> 'cancelled'
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list provider agenda: %w", err)
	}
	return collectAppointments(rows)
}

// WithinTx runs fn in a read-committed transaction. Writers serialise on the
// row locks taken through the Tx; the partial unique index on
// (provider_id, scheduled_at) is the backstop.
func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}

	if err := fn(ctx, &pgTx{q: tx, defaultLoc: r.defaultLoc}); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type pgTx struct {
	q          querier
	defaultLoc *time.Location
}

func (t *pgTx) LockProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := t.q.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1 FOR UPDATE`, id)
	return scanProvider(row, t.defaultLoc)
}

func (t *pgTx) LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := t.q.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), created_at, updated_at
		FROM patients
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPatient(row)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) ListActiveForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listActiveForProvider(ctx, t.q, providerID, from, to)
}

func (t *pgTx) ListActiveForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status <> 'cancelled'
		ORDER BY priority, scheduled_at, id
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, service_id, scheduled_at,
			duration_minutes, status, priority, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.PatientID, a.ServiceID, a.ScheduledAt,
		minutes(a.Duration), string(a.Status), int32(a.Priority), a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		if isSlotConflict(err) {
			return nil, fmt.Errorf("%w: provider already has an appointment at %s", ErrSlotTaken, a.ScheduledAt.Format(time.RFC3339))
		}
		return nil, err
	}
	return created, nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET service_id = $2,
		    scheduled_at = $3,
		    duration_minutes = $4,
		    status = $5,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.ServiceID, a.ScheduledAt, minutes(a.Duration), string(a.Status), a.Notes)

	updated, err := scanAppointment(row)
	if err != nil {
		if isSlotConflict(err) {
			return nil, fmt.Errorf("%w: provider already has an appointment at %s", ErrSlotTaken, a.ScheduledAt.Format(time.RFC3339))
		}
		return nil, err
	}
	return updated, nil
}

// UpdatePriorities writes every change in one statement.
func (t *pgTx) UpdatePriorities(ctx context.Context, changes []PriorityAssignment) error {
	if len(changes) == 0 {
		return nil
	}
	ids := make([]string, len(changes))
	priorities := make([]int32, len(changes))
	for i, c := range changes {
		ids[i] = c.AppointmentID.String()
		priorities[i] = int32(c.Priority)
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE appointments AS a
		SET priority = v.priority,
		    updated_at = now()
		FROM unnest($1::uuid[], $2::int[]) AS v(id, priority)
		WHERE a.id = v.id
	`, ids, priorities)
	if err != nil {
		return fmt.Errorf("update priorities: %w", err)
	}
	if tag.RowsAffected() != int64(len(changes)) {
		return fmt.Errorf("update priorities: %w", ErrAppointmentNotFound)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
