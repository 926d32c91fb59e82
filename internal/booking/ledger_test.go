package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerSlot(t *testing.T, store *MemStore, capacity int) *Slot {
	t.Helper()
	slot, err := store.CreateSlot(context.Background(), NewSlot{
		DoctorID:        uuid.New(),
		ClinicID:        uuid.New(),
		StartTime:       time.Now().Add(24 * time.Hour),
		DurationMinutes: 30,
		Capacity:        capacity,
	})
	require.NoError(t, err)
	return slot
}

func TestLedgerReserveConsumesCapacity(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)
	slot := newLedgerSlot(t, store, 2)

	got, err := ledger.Reserve(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BookedCount)
	assert.False(t, got.IsBooked)

	got, err = ledger.Reserve(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BookedCount)
	assert.True(t, got.IsBooked)
}

func TestLedgerReserveFailsWhenFull(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)
	slot := newLedgerSlot(t, store, 1)

	_, err := ledger.Reserve(context.Background(), slot.ID)
	require.NoError(t, err)

	_, err = ledger.Reserve(context.Background(), slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	got, err := store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BookedCount)
}

func TestLedgerReserveFailsWhenRetired(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)
	slot := newLedgerSlot(t, store, 3)

	require.NoError(t, ledger.Retire(context.Background(), slot.ID))

	_, err := ledger.Reserve(context.Background(), slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestLedgerReserveUnknownSlot(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)

	_, err := ledger.Reserve(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestLedgerReleaseClearsIsBooked(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)
	slot := newLedgerSlot(t, store, 1)

	_, err := ledger.Reserve(context.Background(), slot.ID)
	require.NoError(t, err)

	got, err := ledger.Release(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BookedCount)
	assert.False(t, got.IsBooked)
}

func TestLedgerReleaseFloorsAtZero(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)
	slot := newLedgerSlot(t, store, 2)

	// More releases than reserves must never drive the count negative.
	for i := 0; i < 3; i++ {
		got, err := ledger.Release(context.Background(), slot.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.BookedCount)
	}
}

func TestLedgerRetireUnknownSlot(t *testing.T) {
	store := NewMemStore()
	ledger := NewLedger(store)

	err := ledger.Retire(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}
