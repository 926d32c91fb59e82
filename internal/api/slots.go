package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oakmed/clinic-booking/internal/booking"
)

func createSlotHandler(svc *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		if req.DurationMinutes < 15 || req.DurationMinutes > 120 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be between 15 and 120")
			return
		}
		if req.Capacity < 1 || req.Capacity > 10 {
			writeError(w, http.StatusBadRequest, "invalid_capacity", "capacity must be between 1 and 10")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), booking.NewSlot{
			DoctorID:        doctorID,
			ClinicID:        clinicID,
			StartTime:       req.StartTime,
			DurationMinutes: req.DurationMinutes,
			Capacity:        req.Capacity,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func retireSlotHandler(svc *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.RetireSlot(r.Context(), id); err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "slot retired"})
	}
}

func listSlotsHandler(av *booking.Availability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter booking.AvailabilityFilter

		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			filter.DoctorID = &id
		}
		if v := q.Get("clinic_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			filter.ClinicID = &id
		}
		if v := q.Get("date_from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_from", "date_from must be RFC3339")
				return
			}
			filter.From = &t
		}
		if v := q.Get("date_to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_to", "date_to must be RFC3339")
				return
			}
			filter.To = &t
		}
		filter.Limit, filter.Offset = parsePaging(r)

		slots, err := av.OpenSlots(r.Context(), filter)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
