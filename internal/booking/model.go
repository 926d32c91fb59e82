package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	City      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a finite-capacity time window offered by a doctor at a clinic.
// BookedCount is mutated only through the ledger's reserve/release
// primitives so that it never leaves the 0..Capacity range.
type Slot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Capacity        int
	BookedCount     int
	IsBooked        bool
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Available reports how many units of capacity remain.
func (s *Slot) Available() int {
	return s.Capacity - s.BookedCount
}

// Bookable reports whether a new reservation could succeed right now.
// A slot that looks bookable here may still be rejected at booking time
// if another caller takes the last unit first.
func (s *Slot) Bookable() bool {
	return s.Active && s.BookedCount < s.Capacity
}

type Booking struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	SlotID          uuid.UUID
	Status          Status
	Reason          *string
	Notes           *string
	CancelledAt     *time.Time
	CancelledReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type BookingDetail struct {
	Booking
	Slot    *Slot
	Patient *Patient
	Doctor  *Doctor
	Clinic  *Clinic
}
