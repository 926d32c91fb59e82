package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSlotUnavailable is returned when a slot exists but has no free
// capacity, is retired, or loses the reservation race.
var ErrSlotUnavailable = errors.New("slot unavailable")

// Ledger is the sole authority over a slot's occupancy. All changes to
// booked_count/is_booked go through Reserve and Release; nothing else in
// the codebase writes those fields.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve consumes one unit of capacity. The store applies the capacity
// check and the increment as one atomic update, so concurrent reserves
// against k remaining units yield exactly k successes.
func (l *Ledger) Reserve(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := l.store.ReserveSlotUnit(ctx, slotID)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("reserve slot unit: %w", err)
	}

	// The conditional update matched no row. Tell a missing slot apart
	// from one that is full or retired.
	if _, lookupErr := l.store.GetSlotByID(ctx, slotID); lookupErr != nil {
		if errors.Is(lookupErr, ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("load slot after reserve miss: %w", lookupErr)
	}
	return nil, ErrSlotUnavailable
}

// Release returns one unit of capacity. The decrement is floored at zero
// in the store; releasing an empty slot is a no-op, not an error. Callers
// must invoke Release at most once per booking, the coordinator enforces
// that through the cancellation status check.
func (l *Ledger) Release(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := l.store.ReleaseSlotUnit(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("release slot unit: %w", err)
	}
	return slot, nil
}

// Retire blocks future reservations on the slot. Existing bookings keep
// their status; their capacity is still released on cancellation.
func (l *Ledger) Retire(ctx context.Context, slotID uuid.UUID) error {
	if err := l.store.RetireSlot(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("retire slot: %w", err)
	}
	return nil
}
