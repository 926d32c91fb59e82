package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrClinicNotFound  = errors.New("clinic not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")
)

// SlotFilter narrows availability listings. Nil fields are ignored.
type SlotFilter struct {
	DoctorID *uuid.UUID
	ClinicID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type NewSlot struct {
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Capacity        int
}

type NewBooking struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	SlotID    uuid.UUID
	Reason    *string
}

// Store contains all persistence operations needed by the booking engine.
//
// ReserveSlotUnit and ReleaseSlotUnit are conditional single-row updates:
// the capacity check and the counter change are one atomic statement, so
// two stores racing on the same row cannot both win the last unit.
// ReserveSlotUnit returns ErrSlotNotFound when no row qualified, which
// covers missing, retired and full slots alike; the ledger disambiguates.
type Store interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)

	CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ReserveSlotUnit(ctx context.Context, id uuid.UUID) (*Slot, error)
	ReleaseSlotUnit(ctx context.Context, id uuid.UUID) (*Slot, error)
	RetireSlot(ctx context.Context, id uuid.UUID) error
	ListOpenSlots(ctx context.Context, f SlotFilter) ([]Slot, error)

	InsertBooking(ctx context.Context, nb NewBooking) (*Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error)
	ListBookingsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// InTx runs fn against a store whose writes commit together or not at
	// all. The coordinator relies on this for its reserve+insert and
	// cancel+release pairs.
	InTx(ctx context.Context, fn func(Store) error) error
}
