package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Availability answers read-only questions about bookable slots. Results
// may lag concurrent bookings; Book re-checks capacity atomically, so a
// stale listing costs a caller one rejected attempt at worst.
type Availability struct {
	store Store
}

func NewAvailability(store Store) *Availability {
	return &Availability{store: store}
}

// AvailabilityFilter narrows a slot search. Zero-value fields are ignored.
type AvailabilityFilter struct {
	DoctorID *uuid.UUID
	ClinicID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// OpenSlots lists active slots with remaining capacity matching the filter.
func (a *Availability) OpenSlots(ctx context.Context, f AvailabilityFilter) ([]Slot, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	slots, err := a.store.ListOpenSlots(ctx, SlotFilter{
		DoctorID: f.DoctorID,
		ClinicID: f.ClinicID,
		From:     f.From,
		To:       f.To,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// SlotsForDoctor lists a doctor's bookable slots in an optional window.
func (a *Availability) SlotsForDoctor(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	return a.OpenSlots(ctx, AvailabilityFilter{DoctorID: &doctorID, From: from, To: to})
}

// SlotsForClinic lists a clinic's bookable slots in an optional window.
func (a *Availability) SlotsForClinic(ctx context.Context, clinicID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	return a.OpenSlots(ctx, AvailabilityFilter{ClinicID: &clinicID, From: from, To: to})
}

// GetSlot returns one slot regardless of occupancy, for admin views.
func (a *Availability) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	slot, err := a.store.GetSlotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return slot, nil
}
