package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSlot(store *MemStore, doctorID, clinicID uuid.UUID, start time.Time, capacity, booked int, active bool) Slot {
	s := Slot{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		ClinicID:        clinicID,
		StartTime:       start,
		DurationMinutes: 30,
		Capacity:        capacity,
		BookedCount:     booked,
		IsBooked:        booked >= capacity,
		Active:          active,
	}
	store.AddSlot(s)
	return s
}

func TestOpenSlotsExcludesFullAndRetired(t *testing.T) {
	store := NewMemStore()
	doctor := uuid.New()
	clinic := uuid.New()
	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	open := seedSlot(store, doctor, clinic, base, 2, 1, true)
	seedSlot(store, doctor, clinic, base.Add(time.Hour), 1, 1, true)   // full
	seedSlot(store, doctor, clinic, base.Add(2*time.Hour), 3, 0, false) // retired

	avail := NewAvailability(store)
	slots, err := avail.OpenSlots(context.Background(), AvailabilityFilter{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, open.ID, slots[0].ID)
	assert.Equal(t, 1, slots[0].Available())
}

func TestOpenSlotsFilterByDoctor(t *testing.T) {
	store := NewMemStore()
	clinic := uuid.New()
	wanted := uuid.New()
	other := uuid.New()
	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	mine := seedSlot(store, wanted, clinic, base, 1, 0, true)
	seedSlot(store, other, clinic, base, 1, 0, true)

	avail := NewAvailability(store)
	slots, err := avail.SlotsForDoctor(context.Background(), wanted, nil, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, mine.ID, slots[0].ID)
}

func TestOpenSlotsFilterByClinic(t *testing.T) {
	store := NewMemStore()
	doctor := uuid.New()
	wanted := uuid.New()
	other := uuid.New()
	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	mine := seedSlot(store, doctor, wanted, base, 1, 0, true)
	seedSlot(store, doctor, other, base, 1, 0, true)

	avail := NewAvailability(store)
	slots, err := avail.SlotsForClinic(context.Background(), wanted, nil, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, mine.ID, slots[0].ID)
}

func TestOpenSlotsTimeWindow(t *testing.T) {
	store := NewMemStore()
	doctor := uuid.New()
	clinic := uuid.New()
	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	seedSlot(store, doctor, clinic, base.Add(-time.Hour), 1, 0, true)
	inside := seedSlot(store, doctor, clinic, base.Add(time.Hour), 1, 0, true)
	seedSlot(store, doctor, clinic, base.Add(5*time.Hour), 1, 0, true)

	from := base
	to := base.Add(2 * time.Hour)
	avail := NewAvailability(store)
	slots, err := avail.OpenSlots(context.Background(), AvailabilityFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, inside.ID, slots[0].ID)
}

func TestOpenSlotsOrderedAndPaged(t *testing.T) {
	store := NewMemStore()
	doctor := uuid.New()
	clinic := uuid.New()
	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	// Seed out of order; listings come back sorted by start time.
	third := seedSlot(store, doctor, clinic, base.Add(2*time.Hour), 1, 0, true)
	first := seedSlot(store, doctor, clinic, base, 1, 0, true)
	second := seedSlot(store, doctor, clinic, base.Add(time.Hour), 1, 0, true)

	avail := NewAvailability(store)

	slots, err := avail.OpenSlots(context.Background(), AvailabilityFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, first.ID, slots[0].ID)
	assert.Equal(t, second.ID, slots[1].ID)

	slots, err = avail.OpenSlots(context.Background(), AvailabilityFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, third.ID, slots[0].ID)
}

func TestGetSlotReturnsRetired(t *testing.T) {
	store := NewMemStore()
	retired := seedSlot(store, uuid.New(), uuid.New(), time.Now(), 1, 0, false)

	avail := NewAvailability(store)
	got, err := avail.GetSlot(context.Background(), retired.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = avail.GetSlot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}
