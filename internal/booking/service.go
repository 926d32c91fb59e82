package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/oakmed/clinic-booking/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventBookingNoShow    = "BOOKING_NO_SHOW"
	EventSlotRetired      = "SLOT_RETIRED"
)

var (
	ErrSlotBusy             = errors.New("slot is currently being booked, please retry")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCancelReasonRequired = errors.New("cancellation reason is required")
	ErrInvalidSlot          = errors.New("slot capacity and duration must be positive")
)

// Coordinator is the only entry point that mutates slots and bookings.
// Book and Cancel pair a ledger change with a booking write inside one
// per-slot lock and one store transaction, so no observer ever sees
// capacity consumed without a booking or a cancelled booking that still
// holds its unit.
type Coordinator struct {
	store  Store
	locker redisclient.Locker
	now    func() time.Time
}

func NewCoordinator(store Store, locker redisclient.Locker) *Coordinator {
	return &Coordinator{
		store:  store,
		locker: locker,
		now:    time.Now,
	}
}

type BookRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	SlotID    uuid.UUID
	Reason    *string
}

// Book reserves one unit of the slot's capacity and creates a pending
// booking for it. If either half fails, the transaction rolls both back.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	if _, err := c.store.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	// Fast pre-check so obviously dead requests skip the lock. The
	// authoritative check happens inside the critical section.
	slot, err := c.store.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if !slot.Bookable() {
		return nil, ErrSlotUnavailable
	}

	var (
		created  *Booking
		reserved *Slot
	)

	err = c.locker.WithSlotLock(ctx, req.SlotID, func(lockCtx context.Context) error {
		return c.store.InTx(lockCtx, func(tx Store) error {
			s, err := NewLedger(tx).Reserve(lockCtx, req.SlotID)
			if err != nil {
				return err
			}
			reserved = s

			b, err := tx.InsertBooking(lockCtx, NewBooking{
				PatientID: req.PatientID,
				DoctorID:  req.DoctorID,
				ClinicID:  req.ClinicID,
				SlotID:    req.SlotID,
				Reason:    req.Reason,
			})
			if err != nil {
				return fmt.Errorf("insert booking: %w", err)
			}
			created = b
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	c.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"slot_id":      req.SlotID.String(),
		"patient_id":   req.PatientID.String(),
		"booked_count": reserved.BookedCount,
	})

	return created, nil
}

// Cancel transitions a booking to cancelled and releases its unit of
// capacity as one atomic pair. Cancelling an already cancelled booking
// returns the existing record without touching the slot, so retries are
// safe and capacity is released exactly once per booking.
func (c *Coordinator) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*Booking, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrCancelReasonRequired
	}

	b, err := c.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if b.Status == StatusCancelled {
		return b, nil
	}
	if !Cancellable(b.Status) {
		return nil, ErrInvalidTransition
	}

	var (
		cancelled *Booking
		released  *Slot
	)

	err = c.locker.WithSlotLock(ctx, b.SlotID, func(lockCtx context.Context) error {
		return c.store.InTx(lockCtx, func(tx Store) error {
			cb, err := tx.CancelBooking(lockCtx, b.ID, reason, c.now())
			if err != nil {
				return err
			}
			cancelled = cb

			s, err := NewLedger(tx).Release(lockCtx, cb.SlotID)
			if err != nil {
				return err
			}
			released = s
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// The conditional cancel matched no row, so the status moved
			// under us. A concurrent cancel already released the unit.
			cur, lookupErr := c.store.GetBookingByID(ctx, b.ID)
			if lookupErr == nil && cur.Status == StatusCancelled {
				return cur, nil
			}
			return nil, ErrInvalidTransition
		}
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	c.logEvent(ctx, cancelled.ID, EventBookingCancelled, map[string]any{
		"slot_id":      cancelled.SlotID.String(),
		"reason":       reason,
		"booked_count": released.BookedCount,
	})

	return cancelled, nil
}

// Confirm moves a pending booking to confirmed. Capacity was already
// consumed at creation, so no slot state changes here.
func (c *Coordinator) Confirm(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return c.transition(ctx, id, StatusConfirmed, EventBookingConfirmed)
}

// Complete marks a confirmed booking as completed.
func (c *Coordinator) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return c.transition(ctx, id, StatusCompleted, EventBookingCompleted)
}

// MarkNoShow marks a confirmed booking as no_show.
func (c *Coordinator) MarkNoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return c.transition(ctx, id, StatusNoShow, EventBookingNoShow)
}

func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, to Status, eventType string) (*Booking, error) {
	b, err := c.store.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if !CanTransition(b.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := c.store.UpdateBookingStatus(ctx, b.ID, b.Status, to)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Lost the conditional update race against another transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	c.logEvent(ctx, updated.ID, eventType, map[string]any{
		"from": string(b.Status),
		"to":   string(to),
	})

	return updated, nil
}

// CreateSlot registers a new bookable slot with zero occupancy. Scheduling
// staff call this through the API; patients never do.
func (c *Coordinator) CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error) {
	if ns.Capacity < 1 || ns.DurationMinutes < 1 {
		return nil, ErrInvalidSlot
	}
	if _, err := c.store.GetDoctorByID(ctx, ns.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := c.store.GetClinicByID(ctx, ns.ClinicID); err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	slot, err := c.store.CreateSlot(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// RetireSlot soft-retires a slot so no new reservations succeed. Existing
// bookings are untouched.
func (c *Coordinator) RetireSlot(ctx context.Context, id uuid.UUID) error {
	if err := NewLedger(c.store).Retire(ctx, id); err != nil {
		return err
	}
	c.logEvent(ctx, uuid.Nil, EventSlotRetired, map[string]any{
		"slot_id": id.String(),
	})
	return nil
}

// GetBooking retrieves a fully hydrated booking by ID.
func (c *Coordinator) GetBooking(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	detail, err := c.store.GetBookingDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return detail, nil
}

// ListBookingsByPatient retrieves a patient's bookings, newest first.
func (c *Coordinator) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := c.store.ListBookingsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return rows, nil
}

// ListBookingsByDoctor retrieves a doctor's bookings, newest first.
func (c *Coordinator) ListBookingsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Booking, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := c.store.ListBookingsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by doctor: %w", err)
	}
	return rows, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (c *Coordinator) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: c.now(),
	}
	if bookingID != uuid.Nil {
		id := bookingID
		ev.BookingID = &id
	}

	if err := c.store.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for booking %s: %v", eventType, bookingID, err)
	}
}
