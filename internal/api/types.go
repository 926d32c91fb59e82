package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmed/clinic-booking/internal/booking"
)

type BookAppointmentRequest struct {
	PatientID      string  `json:"patient_id"`
	DoctorID       string  `json:"doctor_id"`
	ClinicID       string  `json:"clinic_id"`
	SlotID         string  `json:"slot_id"`
	ReasonForVisit *string `json:"reason_for_visit,omitempty"`
}

type CancelAppointmentRequest struct {
	CancelledReason string `json:"cancelled_reason"`
}

type CreateSlotRequest struct {
	DoctorID        string    `json:"doctor_id"`
	ClinicID        string    `json:"clinic_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Capacity        int       `json:"capacity"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	Status          string     `json:"status"`
	ReasonForVisit  *string    `json:"reason_for_visit,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledReason *string    `json:"cancelled_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	ClinicID        uuid.UUID `json:"clinic_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Capacity        int       `json:"capacity"`
	BookedCount     int       `json:"booked_count"`
	AvailableSlots  int       `json:"available_slots"`
	IsBooked        bool      `json:"is_booked"`
	IsActive        bool      `json:"is_active"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(b *booking.Booking) AppointmentResponse {
	return AppointmentResponse{
		ID:              b.ID,
		PatientID:       b.PatientID,
		DoctorID:        b.DoctorID,
		ClinicID:        b.ClinicID,
		SlotID:          b.SlotID,
		Status:          string(b.Status),
		ReasonForVisit:  b.Reason,
		Notes:           b.Notes,
		CancelledAt:     b.CancelledAt,
		CancelledReason: b.CancelledReason,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toSlotResponse(s *booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		ClinicID:        s.ClinicID,
		StartTime:       s.StartTime,
		DurationMinutes: s.DurationMinutes,
		Capacity:        s.Capacity,
		BookedCount:     s.BookedCount,
		AvailableSlots:  s.Available(),
		IsBooked:        s.IsBooked,
		IsActive:        s.Active,
	}
}
