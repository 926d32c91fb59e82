package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine struct {
	store   *MemStore
	coord   *Coordinator
	patient Patient
	doctor  Doctor
	clinic  Clinic
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	store := NewMemStore()
	clinic := Clinic{ID: uuid.New(), Name: "Oakmed Central"}
	doctor := Doctor{ID: uuid.New(), ClinicID: clinic.ID, Name: "Dr. Reyes"}
	patient := Patient{ID: uuid.New(), Name: "Sam Okafor"}
	store.AddClinic(clinic)
	store.AddDoctor(doctor)
	store.AddPatient(patient)

	return &engine{
		store:   store,
		coord:   NewCoordinator(store, NewKeyedLocker(2*time.Second)),
		patient: patient,
		doctor:  doctor,
		clinic:  clinic,
	}
}

func (e *engine) newSlot(t *testing.T, capacity int) *Slot {
	t.Helper()
	slot, err := e.coord.CreateSlot(context.Background(), NewSlot{
		DoctorID:        e.doctor.ID,
		ClinicID:        e.clinic.ID,
		StartTime:       time.Now().Add(24 * time.Hour),
		DurationMinutes: 30,
		Capacity:        capacity,
	})
	require.NoError(t, err)
	return slot
}

func (e *engine) book(t *testing.T, slotID uuid.UUID) *Booking {
	t.Helper()
	b, err := e.coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slotID,
	})
	require.NoError(t, err)
	return b
}

func (e *engine) slot(t *testing.T, id uuid.UUID) *Slot {
	t.Helper()
	s, err := e.store.GetSlotByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestBookCreatesPendingAndConsumesCapacity(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	b := e.book(t, slot.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, slot.ID, b.SlotID)
	assert.Equal(t, e.patient.ID, b.PatientID)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
	assert.True(t, got.IsBooked)
}

func TestBookUnknownSlot(t *testing.T) {
	e := newEngine(t)

	_, err := e.coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    uuid.New(),
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestBookUnknownPatient(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	_, err := e.coord.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slot.ID,
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestBookFullSlot(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	e.book(t, slot.ID)

	_, err := e.coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slot.ID,
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
}

func TestBookRetiredSlot(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 2)
	require.NoError(t, e.coord.RetireSlot(context.Background(), slot.ID))

	_, err := e.coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slot.ID,
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

// failingStore wraps a Store and makes booking inserts fail inside the
// transaction, after the slot reservation has already been applied.
type failingStore struct {
	Store
}

func (f *failingStore) InTx(ctx context.Context, fn func(Store) error) error {
	return f.Store.InTx(ctx, func(tx Store) error {
		return fn(&failingTx{tx})
	})
}

type failingTx struct {
	Store
}

func (f *failingTx) InsertBooking(context.Context, NewBooking) (*Booking, error) {
	return nil, errors.New("simulated insert failure")
}

func TestBookRollsBackReservationOnInsertFailure(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	coord := NewCoordinator(&failingStore{e.store}, NewKeyedLocker(2*time.Second))
	_, err := coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slot.ID,
	})
	require.Error(t, err)

	// The reservation must not survive the failed insert.
	got := e.slot(t, slot.ID)
	assert.Equal(t, 0, got.BookedCount)
	assert.False(t, got.IsBooked)
}

func TestConcurrentBookingSingleCapacity(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	const workers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.coord.Book(context.Background(), BookRequest{
				PatientID: e.patient.ID,
				DoctorID:  e.doctor.ID,
				ClinicID:  e.clinic.ID,
				SlotID:    slot.ID,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, unavailable)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
	assert.True(t, got.IsBooked)
}

func TestConcurrentBookingCapacityTwo(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 2)

	const workers = 3
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.coord.Book(context.Background(), BookRequest{
				PatientID: e.patient.ID,
				DoctorID:  e.doctor.ID,
				ClinicID:  e.clinic.ID,
				SlotID:    slot.ID,
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, ErrSlotUnavailable) {
				unavailable++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	assert.Equal(t, 1, unavailable)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 2, got.BookedCount)
	assert.True(t, got.IsBooked)
}

func TestCancelReleasesCapacity(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	cancelled, err := e.coord.Cancel(context.Background(), b.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelledReason)
	assert.Equal(t, "patient request", *cancelled.CancelledReason)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 0, got.BookedCount)
	assert.False(t, got.IsBooked)
}

// Re-cancelling is an idempotent success: the caller gets the same
// terminal record back and capacity is released exactly once. This is a
// deliberate strengthening over decrementing on every cancel call.
func TestCancelTwiceReleasesOnce(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	first, err := e.coord.Cancel(context.Background(), b.ID, "patient request")
	require.NoError(t, err)

	second, err := e.coord.Cancel(context.Background(), b.ID, "retry of cancel")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StatusCancelled, second.Status)
	assert.Equal(t, *first.CancelledReason, *second.CancelledReason)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 0, got.BookedCount)
}

func TestCancelCompletedBooking(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	_, err := e.coord.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	_, err = e.coord.Complete(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = e.coord.Cancel(context.Background(), b.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Capacity stays consumed by the completed visit.
	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
}

func TestCancelRequiresReason(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	_, err := e.coord.Cancel(context.Background(), b.ID, "   ")
	assert.ErrorIs(t, err, ErrCancelReasonRequired)
}

func TestCancelUnknownBooking(t *testing.T) {
	e := newEngine(t)

	_, err := e.coord.Cancel(context.Background(), uuid.New(), "reason")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestConfirmAndNoShow(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	confirmed, err := e.coord.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	noShow, err := e.coord.MarkNoShow(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, noShow.Status)

	// Administrative transitions never touch the slot.
	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
}

func TestConfirmTwice(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	_, err := e.coord.Confirm(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = e.coord.Confirm(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompletePendingBooking(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	_, err := e.coord.Complete(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBookReturnsBusyWhenLockHeld(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	locker := NewKeyedLocker(50 * time.Millisecond)
	coord := NewCoordinator(e.store, locker)

	holding := make(chan struct{})
	releaseLock := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), slot.ID, func(context.Context) error {
			close(holding)
			<-releaseLock
			return nil
		})
	}()
	<-holding
	defer close(releaseLock)

	_, err := coord.Book(context.Background(), BookRequest{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		ClinicID:  e.clinic.ID,
		SlotID:    slot.ID,
	})
	assert.ErrorIs(t, err, ErrSlotBusy)
}

func TestBookAfterCancelReusesCapacity(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)

	b1 := e.book(t, slot.ID)
	_, err := e.coord.Cancel(context.Background(), b1.ID, "patient request")
	require.NoError(t, err)

	b2 := e.book(t, slot.ID)
	assert.NotEqual(t, b1.ID, b2.ID)

	got := e.slot(t, slot.ID)
	assert.Equal(t, 1, got.BookedCount)
}

func TestBookEmitsEvent(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	events := e.store.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventBookingCreated, last.EventType)
	require.NotNil(t, last.BookingID)
	assert.Equal(t, b.ID, *last.BookingID)
}

func TestListBookingsByPatient(t *testing.T) {
	e := newEngine(t)
	s1 := e.newSlot(t, 1)
	s2 := e.newSlot(t, 1)

	b1 := e.book(t, s1.ID)
	b2 := e.book(t, s2.ID)

	rows, err := e.coord.ListBookingsByPatient(context.Background(), e.patient.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Newest first.
	assert.Equal(t, b2.ID, rows[0].ID)
	assert.Equal(t, b1.ID, rows[1].ID)
}

func TestGetBookingDetail(t *testing.T) {
	e := newEngine(t)
	slot := e.newSlot(t, 1)
	b := e.book(t, slot.ID)

	detail, err := e.coord.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, detail.ID)
	require.NotNil(t, detail.Slot)
	assert.Equal(t, slot.ID, detail.Slot.ID)
	require.NotNil(t, detail.Patient)
	assert.Equal(t, e.patient.ID, detail.Patient.ID)
}

func TestCreateSlotValidation(t *testing.T) {
	e := newEngine(t)

	_, err := e.coord.CreateSlot(context.Background(), NewSlot{
		DoctorID:        e.doctor.ID,
		ClinicID:        e.clinic.ID,
		StartTime:       time.Now(),
		DurationMinutes: 30,
		Capacity:        0,
	})
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = e.coord.CreateSlot(context.Background(), NewSlot{
		DoctorID:        uuid.New(),
		ClinicID:        e.clinic.ID,
		StartTime:       time.Now(),
		DurationMinutes: 30,
		Capacity:        1,
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}
