package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so scan helpers and
// queries can be shared between pooled reads and transactional work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	appt, err := s.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, appt)
}

func (s *PgStore) ListDetails(ctx context.Context, filter ListFilter) ([]Detail, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []any{}

	if filter.PatientID != uuid.Nil {
		args = append(args, filter.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if filter.ProviderID != uuid.Nil {
		args = append(args, filter.ProviderID)
		query += fmt.Sprintf(" AND provider_id = $%d", len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		detail, err := s.hydrate(ctx, appt)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, rows.Err()
}

func (s *PgStore) hydrate(ctx context.Context, appt *Appointment) (*Detail, error) {
	detail := &Detail{Appointment: *appt}

	slot, err := getSlotByID(ctx, s.pool, appt.SlotID)
	if err != nil && !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}
	detail.Slot = slot

	if appt.Type == TypeTelemedicine {
		session, err := getSession(ctx, s.pool, appt.ID, false)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		detail.Session = session
	}
	return detail, nil
}

func (s *PgStore) GetSessionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	return getSession(ctx, s.pool, appointmentID, false)
}

func (s *PgStore) ListSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

func (s *PgStore) ListStartingBetween(ctx context.Context, from, to time.Time) ([]Detail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.patient_id, a.provider_id, a.clinic_id, a.slot_id, a.status, a.appointment_type,
		       a.reason, a.specialty, a.notes, a.checked_in_at, a.checked_out_at, a.created_at, a.updated_at
		FROM appointments a
		JOIN availability_slots s ON s.id = a.slot_id
		WHERE s.start_time >= $1
		  AND s.start_time < $2
		  AND a.status IN ('booked', 'late')
		ORDER BY s.start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		detail, err := s.hydrate(ctx, appt)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, rows.Err()
}

// pgTx implements Tx on top of a live pgx transaction.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) FindFreeSlotCovering(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*AvailabilitySlot, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE provider_id = $1
		  AND start_time <= $2
		  AND end_time >= $3
		  AND is_available
		ORDER BY start_time
		LIMIT 1
	`, providerID, start, end)
	return scanSlot(row)
}

func (t *pgTx) HasClaimedOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM availability_slots
			WHERE provider_id = $1
			  AND start_time < $3
			  AND end_time > $2
			  AND NOT is_available
		)
	`, providerID, start, end).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertSlot(ctx context.Context, slot *AvailabilitySlot) error {
	row := t.q.QueryRow(ctx, `
		INSERT INTO availability_slots
			(id, provider_id, provider_kind, clinic_id, start_time, end_time, is_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, slot.ID, slot.ProviderID, slot.ProviderKind, slot.ClinicID, slot.StartTime, slot.EndTime, slot.IsAvailable)
	return row.Scan(&slot.CreatedAt, &slot.UpdatedAt)
}

func (t *pgTx) GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	return getSlotByID(ctx, t.q, id)
}

func (t *pgTx) ClaimSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE availability_slots
		SET is_available = FALSE,
		    updated_at = now()
		WHERE id = $1
		  AND is_available
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotConflict
	}
	return nil
}

func (t *pgTx) HoldSlot(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `
		UPDATE availability_slots
		SET is_available = FALSE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (t *pgTx) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `
		UPDATE availability_slots
		SET is_available = TRUE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *Appointment) error {
	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, provider_id, clinic_id, slot_id, status, appointment_type,
			 reason, specialty, notes, checked_in_at, checked_out_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`, appt.ID, appt.PatientID, appt.ProviderID, appt.ClinicID, appt.SlotID, appt.Status, appt.Type,
		appt.Reason, appt.Specialty, appt.Notes, appt.CheckedInAt, appt.CheckedOutAt)
	return row.Scan(&appt.CreatedAt, &appt.UpdatedAt)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	// Existence is checked without FOR UPDATE first so a missing id takes
	// no row lock.
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAppointmentNotFound
	}

	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    clinic_id = $3,
		    status = $4,
		    reason = $5,
		    specialty = $6,
		    notes = $7,
		    checked_in_at = $8,
		    checked_out_at = $9,
		    updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.SlotID, appt.ClinicID, appt.Status, appt.Reason, appt.Specialty,
		appt.Notes, appt.CheckedInAt, appt.CheckedOutAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) UpsertSession(ctx context.Context, s *TelemedicineSession) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO telemedicine_sessions
			(id, appointment_id, patient_id, doctor_id, status, session_url, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (appointment_id) DO NOTHING
	`, s.ID, s.AppointmentID, s.PatientID, s.DoctorID, s.Status, s.SessionURL, s.Summary)
	return err
}

func (t *pgTx) GetSessionForUpdate(ctx context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	return getSession(ctx, t.q, appointmentID, true)
}

func (t *pgTx) UpdateSession(ctx context.Context, s *TelemedicineSession) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE telemedicine_sessions
		SET status = $2,
		    session_url = $3,
		    started_at = $4,
		    ended_at = $5,
		    summary = $6,
		    updated_at = now()
		WHERE appointment_id = $1
	`, s.AppointmentID, s.Status, s.SessionURL, s.StartedAt, s.EndedAt, s.Summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Shared column lists and scan helpers

const slotColumns = `id, provider_id, provider_kind, clinic_id, start_time, end_time, is_available, created_at, updated_at`

const appointmentColumns = `id, patient_id, provider_id, clinic_id, slot_id, status, appointment_type,
	reason, specialty, notes, checked_in_at, checked_out_at, created_at, updated_at`

const sessionColumns = `id, appointment_id, patient_id, doctor_id, status, session_url, started_at, ended_at, summary, created_at, updated_at`

func getSlotByID(ctx context.Context, q querier, id uuid.UUID) (*AvailabilitySlot, error) {
	row := q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func getSession(ctx context.Context, q querier, appointmentID uuid.UUID, forUpdate bool) (*TelemedicineSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM telemedicine_sessions WHERE appointment_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanSession(q.QueryRow(ctx, query, appointmentID))
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.ProviderKind,
		&s.ClinicID,
		&s.StartTime,
		&s.EndTime,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ClinicID,
		&a.SlotID,
		&a.Status,
		&a.Type,
		&a.Reason,
		&a.Specialty,
		&a.Notes,
		&a.CheckedInAt,
		&a.CheckedOutAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanSession(row pgx.Row) (*TelemedicineSession, error) {
	var s TelemedicineSession
	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.PatientID,
		&s.DoctorID,
		&s.Status,
		&s.SessionURL,
		&s.StartedAt,
		&s.EndedAt,
		&s.Summary,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}
