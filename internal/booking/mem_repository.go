package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a process-local Store used by tests and the load
// simulator. A single mutex makes every operation atomic; InTx snapshots
// the maps so a failed transaction restores the pre-transaction state,
// matching the rollback behavior of the Postgres store.
type MemStore struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	clinics      map[uuid.UUID]Clinic
	slots        map[uuid.UUID]Slot
	bookings     map[uuid.UUID]Booking
	bookingOrder []uuid.UUID
	events       []EventLog
	nextEventID  int64
	now          func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		patients: make(map[uuid.UUID]Patient),
		doctors:  make(map[uuid.UUID]Doctor),
		clinics:  make(map[uuid.UUID]Clinic),
		slots:    make(map[uuid.UUID]Slot),
		bookings: make(map[uuid.UUID]Booking),
		now:      time.Now,
	}
}

// Seed helpers. These bypass the coordinator on purpose: patients,
// doctors and clinics are created by collaborators outside the booking
// engine.

func (m *MemStore) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemStore) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemStore) AddClinic(c Clinic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clinics[c.ID] = c
}

func (m *MemStore) AddSlot(s Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[s.ID] = s
}

// Events returns a copy of the event log for assertions.
func (m *MemStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

// Store implementation. Public methods take the lock and delegate to the
// unlocked versions shared with the transaction view.

func (m *MemStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPatientLocked(id)
}

func (m *MemStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getDoctorLocked(id)
}

func (m *MemStore) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getClinicLocked(id)
}

func (m *MemStore) CreateSlot(_ context.Context, ns NewSlot) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSlotLocked(ns)
}

func (m *MemStore) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSlotLocked(id)
}

func (m *MemStore) ReserveSlotUnit(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveSlotLocked(id)
}

func (m *MemStore) ReleaseSlotUnit(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseSlotLocked(id)
}

func (m *MemStore) RetireSlot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retireSlotLocked(id)
}

func (m *MemStore) ListOpenSlots(_ context.Context, f SlotFilter) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listOpenSlotsLocked(f)
}

func (m *MemStore) InsertBooking(_ context.Context, nb NewBooking) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBookingLocked(nb)
}

func (m *MemStore) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBookingLocked(id)
}

func (m *MemStore) GetBookingDetail(_ context.Context, id uuid.UUID) (*BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.getBookingLocked(id)
	if err != nil {
		return nil, err
	}
	detail := &BookingDetail{Booking: *b}
	if slot, err := m.getSlotLocked(b.SlotID); err == nil {
		detail.Slot = slot
	}
	if patient, err := m.getPatientLocked(b.PatientID); err == nil {
		detail.Patient = patient
	}
	if doctor, err := m.getDoctorLocked(b.DoctorID); err == nil {
		detail.Doctor = doctor
	}
	if clinic, err := m.getClinicLocked(b.ClinicID); err == nil {
		detail.Clinic = clinic
	}
	return detail, nil
}

func (m *MemStore) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBookingStatusLocked(id, from, to)
}

func (m *MemStore) CancelBooking(_ context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelBookingLocked(id, reason, at)
}

func (m *MemStore) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBookingsLocked(func(b Booking) bool { return b.PatientID == patientID }, limit, offset)
}

func (m *MemStore) ListBookingsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBookingsLocked(func(b Booking) bool { return b.DoctorID == doctorID }, limit, offset)
}

func (m *MemStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertEventLocked(ev)
	return nil
}

// InTx holds the store lock across fn so the whole transaction is one
// critical section, and restores a snapshot of the mutable state if fn
// fails.
func (m *MemStore) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapSlots := copyMap(m.slots)
	snapBookings := copyMap(m.bookings)
	snapOrder := make([]uuid.UUID, len(m.bookingOrder))
	copy(snapOrder, m.bookingOrder)

	if err := fn(&memTx{store: m}); err != nil {
		m.slots = snapSlots
		m.bookings = snapBookings
		m.bookingOrder = snapOrder
		return err
	}
	return nil
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// memTx is the view handed to InTx callbacks. The parent already holds
// the lock, so it calls the unlocked methods directly.
type memTx struct {
	store *MemStore
}

func (t *memTx) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	return t.store.getPatientLocked(id)
}

func (t *memTx) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	return t.store.getDoctorLocked(id)
}

func (t *memTx) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	return t.store.getClinicLocked(id)
}

func (t *memTx) CreateSlot(_ context.Context, ns NewSlot) (*Slot, error) {
	return t.store.createSlotLocked(ns)
}

func (t *memTx) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	return t.store.getSlotLocked(id)
}

func (t *memTx) ReserveSlotUnit(_ context.Context, id uuid.UUID) (*Slot, error) {
	return t.store.reserveSlotLocked(id)
}

func (t *memTx) ReleaseSlotUnit(_ context.Context, id uuid.UUID) (*Slot, error) {
	return t.store.releaseSlotLocked(id)
}

func (t *memTx) RetireSlot(_ context.Context, id uuid.UUID) error {
	return t.store.retireSlotLocked(id)
}

func (t *memTx) ListOpenSlots(_ context.Context, f SlotFilter) ([]Slot, error) {
	return t.store.listOpenSlotsLocked(f)
}

func (t *memTx) InsertBooking(_ context.Context, nb NewBooking) (*Booking, error) {
	return t.store.insertBookingLocked(nb)
}

func (t *memTx) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	return t.store.getBookingLocked(id)
}

func (t *memTx) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := t.store.getBookingLocked(id)
	if err != nil {
		return nil, err
	}
	return &BookingDetail{Booking: *b}, nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	return t.store.updateBookingStatusLocked(id, from, to)
}

func (t *memTx) CancelBooking(_ context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	return t.store.cancelBookingLocked(id, reason, at)
}

func (t *memTx) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	return t.store.listBookingsLocked(func(b Booking) bool { return b.PatientID == patientID }, limit, offset)
}

func (t *memTx) ListBookingsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Booking, error) {
	return t.store.listBookingsLocked(func(b Booking) bool { return b.DoctorID == doctorID }, limit, offset)
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.store.insertEventLocked(ev)
	return nil
}

func (t *memTx) InTx(_ context.Context, fn func(Store) error) error {
	// Already inside the transaction; just run against the same view.
	return fn(t)
}

// Unlocked implementations. Callers must hold m.mu.

func (m *MemStore) getPatientLocked(id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemStore) getDoctorLocked(id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemStore) getClinicLocked(id uuid.UUID) (*Clinic, error) {
	c, ok := m.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (m *MemStore) createSlotLocked(ns NewSlot) (*Slot, error) {
	now := m.now()
	s := Slot{
		ID:              uuid.New(),
		DoctorID:        ns.DoctorID,
		ClinicID:        ns.ClinicID,
		StartTime:       ns.StartTime,
		DurationMinutes: ns.DurationMinutes,
		Capacity:        ns.Capacity,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.slots[s.ID] = s
	return &s, nil
}

func (m *MemStore) getSlotLocked(id uuid.UUID) (*Slot, error) {
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemStore) reserveSlotLocked(id uuid.UUID) (*Slot, error) {
	s, ok := m.slots[id]
	if !ok || !s.Active || s.BookedCount >= s.Capacity {
		return nil, ErrSlotNotFound
	}
	s.BookedCount++
	s.IsBooked = s.BookedCount >= s.Capacity
	s.UpdatedAt = m.now()
	m.slots[id] = s
	return &s, nil
}

func (m *MemStore) releaseSlotLocked(id uuid.UUID) (*Slot, error) {
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.BookedCount > 0 {
		s.BookedCount--
	}
	s.IsBooked = s.BookedCount >= s.Capacity
	s.UpdatedAt = m.now()
	m.slots[id] = s
	return &s, nil
}

func (m *MemStore) retireSlotLocked(id uuid.UUID) error {
	s, ok := m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.Active = false
	s.UpdatedAt = m.now()
	m.slots[id] = s
	return nil
}

func (m *MemStore) listOpenSlotsLocked(f SlotFilter) ([]Slot, error) {
	var result []Slot
	for _, s := range m.slots {
		if !s.Active || s.BookedCount >= s.Capacity {
			continue
		}
		if f.DoctorID != nil && s.DoctorID != *f.DoctorID {
			continue
		}
		if f.ClinicID != nil && s.ClinicID != *f.ClinicID {
			continue
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && s.StartTime.After(*f.To) {
			continue
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})

	return page(result, f.Limit, f.Offset), nil
}

func (m *MemStore) insertBookingLocked(nb NewBooking) (*Booking, error) {
	now := m.now()
	b := Booking{
		ID:        uuid.New(),
		PatientID: nb.PatientID,
		DoctorID:  nb.DoctorID,
		ClinicID:  nb.ClinicID,
		SlotID:    nb.SlotID,
		Status:    StatusPending,
		Reason:    nb.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.bookings[b.ID] = b
	m.bookingOrder = append(m.bookingOrder, b.ID)
	return &b, nil
}

func (m *MemStore) getBookingLocked(id uuid.UUID) (*Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (m *MemStore) updateBookingStatusLocked(id uuid.UUID, from, to Status) (*Booking, error) {
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = m.now()
	m.bookings[id] = b
	return &b, nil
}

func (m *MemStore) cancelBookingLocked(id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	b, ok := m.bookings[id]
	if !ok || (b.Status != StatusPending && b.Status != StatusConfirmed) {
		return nil, ErrBookingNotFound
	}
	b.Status = StatusCancelled
	b.CancelledAt = &at
	b.CancelledReason = &reason
	b.UpdatedAt = m.now()
	m.bookings[id] = b
	return &b, nil
}

func (m *MemStore) listBookingsLocked(match func(Booking) bool, limit, offset int) ([]Booking, error) {
	// Newest first: walk insertion order backwards.
	var result []Booking
	for i := len(m.bookingOrder) - 1; i >= 0; i-- {
		b := m.bookings[m.bookingOrder[i]]
		if match(b) {
			result = append(result, b)
		}
	}
	return page(result, limit, offset), nil
}

func (m *MemStore) insertEventLocked(ev EventLog) {
	m.nextEventID++
	ev.ID = m.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
