package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store uses. pgx.Tx satisfies it
// too, which is how InTx reuses every query method inside a transaction.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	db DB
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool}
}

// NewPgStoreWithDB allows injecting a mock connection for tests.
func NewPgStoreWithDB(db DB) *PgStore {
	return &PgStore{db: db}
}

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

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var city *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&city,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	c.City = city
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.ClinicID,
		&s.StartTime,
		&s.DurationMinutes,
		&s.Capacity,
		&s.BookedCount,
		&s.IsBooked,
		&s.Active,
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

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.DoctorID,
		&b.ClinicID,
		&b.SlotID,
		&b.Status,
		&b.Reason,
		&b.Notes,
		&b.CancelledAt,
		&b.CancelledReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

const slotColumns = `id, doctor_id, clinic_id, start_time, duration_minutes, capacity, booked_count, is_booked, is_active, created_at, updated_at`

const bookingColumns = `id, patient_id, doctor_id, clinic_id, slot_id, status, reason, notes, cancelled_at, cancelled_reason, created_at, updated_at`

// Interface methods

func (r *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgStore) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, city, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgStore) CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointment_slots (id, doctor_id, clinic_id, start_time, duration_minutes, capacity, booked_count, is_booked, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, false, true, now(), now())
		RETURNING `+slotColumns+`
	`, id, ns.DoctorID, ns.ClinicID, ns.StartTime, ns.DurationMinutes, ns.Capacity)

	return scanSlot(row)
}

func (r *PgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

// ReserveSlotUnit performs the capacity check and increment in one
// statement. The row predicate rejects retired and full slots, so two
// transactions cannot both take the last unit.
func (r *PgStore) ReserveSlotUnit(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointment_slots
		SET booked_count = booked_count + 1,
		    is_booked    = booked_count + 1 >= capacity,
		    updated_at   = now()
		WHERE id = $1
		  AND is_active
		  AND booked_count < capacity
		RETURNING `+slotColumns+`
	`, id)
	return scanSlot(row)
}

// ReleaseSlotUnit decrements booked_count with a floor at zero and
// recomputes is_booked from the new count.
func (r *PgStore) ReleaseSlotUnit(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointment_slots
		SET booked_count = GREATEST(booked_count - 1, 0),
		    is_booked    = GREATEST(booked_count - 1, 0) >= capacity,
		    updated_at   = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id)
	return scanSlot(row)
}

func (r *PgStore) RetireSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET is_active = false,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgStore) ListOpenSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var (
		conds = []string{"is_active", "booked_count < capacity"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DoctorID != nil {
		conds = append(conds, "doctor_id = "+arg(*f.DoctorID))
	}
	if f.ClinicID != nil {
		conds = append(conds, "clinic_id = "+arg(*f.ClinicID))
	}
	if f.From != nil {
		conds = append(conds, "start_time >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "start_time <= "+arg(*f.To))
	}

	query := `
		SELECT ` + slotColumns + `
		FROM appointment_slots
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY start_time
		LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
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

func (r *PgStore) InsertBooking(ctx context.Context, nb NewBooking) (*Booking, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, doctor_id, clinic_id, slot_id, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, now(), now())
		RETURNING `+bookingColumns+`
	`, id, nb.PatientID, nb.DoctorID, nb.ClinicID, nb.SlotID, nb.Reason)

	return scanBooking(row)
}

func (r *PgStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgStore) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := r.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &BookingDetail{Booking: *b}

	// Referenced rows are loaded best effort; a missing reference leaves
	// the field nil rather than failing the whole lookup.
	if slot, err := r.GetSlotByID(ctx, b.SlotID); err == nil {
		detail.Slot = slot
	}
	if patient, err := r.GetPatientByID(ctx, b.PatientID); err == nil {
		detail.Patient = patient
	}
	if doctor, err := r.GetDoctorByID(ctx, b.DoctorID); err == nil {
		detail.Doctor = doctor
	}
	if clinic, err := r.GetClinicByID(ctx, b.ClinicID); err == nil {
		detail.Clinic = clinic
	}

	return detail, nil
}

func (r *PgStore) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

// CancelBooking only matches bookings still in a cancellable status, so a
// booking that was already cancelled or closed comes back as
// ErrBookingNotFound and the caller decides idempotence.
func (r *PgStore) CancelBooking(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancelled_at = $2,
		    cancelled_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+bookingColumns+`
	`, id, at, reason)

	return scanBooking(row)
}

func (r *PgStore) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgStore) ListBookingsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE doctor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
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

func (r *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
