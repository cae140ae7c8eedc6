package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-availability/internal/appointment"
	"github.com/hackgods/clinic-availability/internal/availability"
)

type handlers struct {
	availability AvailabilityService
	appointments AppointmentService
}

func (h *handlers) location() *time.Location {
	return h.availability.Location()
}

func (h *handlers) getDayAvailability(w http.ResponseWriter, r *http.Request) {
	clinicID, profID, ok := clinicAndProfessional(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r, "date", h.location())
	if !ok {
		return
	}

	day, err := h.availability.GetDay(r.Context(), clinicID, profID, date)
	if err != nil {
		handleAvailabilityError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DaySlotsResponse{
		Date:        date.Format(availability.DateLayout),
		Status:      day.Status,
		BlockReason: day.BlockReason,
		Slots:       day.Views(),
	})
}

// getAvailableSlots serves the booking form time picker: a flat slot list
// without day status.
func (h *handlers) getAvailableSlots(w http.ResponseWriter, r *http.Request) {
	clinicID, profID, ok := clinicAndProfessional(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r, "date", h.location())
	if !ok {
		return
	}

	slots, err := h.availability.GetAvailableSlots(r.Context(), clinicID, profID, date)
	if err != nil {
		handleAvailabilityError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, slots)
}

func (h *handlers) getWeekAvailability(w http.ResponseWriter, r *http.Request) {
	clinicID, profID, ok := clinicAndProfessional(w, r)
	if !ok {
		return
	}
	weekStart, ok := dateParam(w, r, "week_start", h.location())
	if !ok {
		return
	}

	days, err := h.availability.GetWeekAvailability(r.Context(), clinicID, profID, weekStart)
	if err != nil {
		handleAvailabilityError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAvailabilityDays(days, h.location()))
}

func (h *handlers) getRangeAvailability(w http.ResponseWriter, r *http.Request) {
	clinicID, profID, ok := clinicAndProfessional(w, r)
	if !ok {
		return
	}
	from, ok := dateParam(w, r, "from", h.location())
	if !ok {
		return
	}
	to, ok := dateParam(w, r, "to", h.location())
	if !ok {
		return
	}

	days, err := h.availability.GetRangeAvailability(r.Context(), clinicID, profID, from, to)
	if err != nil {
		handleAvailabilityError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAvailabilityDays(days, h.location()))
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicID must be a valid UUID")
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	var profID *uuid.UUID
	if req.ProfessionalID != nil && *req.ProfessionalID != "" {
		id, err := uuid.Parse(*req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}
		profID = &id
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
		return
	}

	appt, err := h.appointments.BookSlot(r.Context(), appointment.BookingRequest{
		ClinicID:        clinicID,
		ProfessionalID:  profID,
		PatientID:       patientID,
		StartAt:         start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		handleBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.GetAppointment(r.Context(), id)
	if err != nil {
		handleTransitionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.ConfirmAppointment(r.Context(), id)
	if err != nil {
		handleTransitionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.CancelAppointment(r.Context(), id)
	if err != nil {
		handleTransitionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

// getCalendar groups the bookings of [from, to] by day for the calendar grid.
func (h *handlers) getCalendar(w http.ResponseWriter, r *http.Request) {
	clinicID, profID, ok := clinicAndProfessional(w, r)
	if !ok {
		return
	}
	loc := h.location()
	from, ok := dateParam(w, r, "from", loc)
	if !ok {
		return
	}
	to, ok := dateParam(w, r, "to", loc)
	if !ok {
		return
	}
	if to.Before(from) || to.Sub(from) >= availability.MaxRangeDays*24*time.Hour {
		writeError(w, http.StatusBadRequest, "invalid_range",
			fmt.Sprintf("to must be on or after from and at most %d days later", availability.MaxRangeDays))
		return
	}

	appts, err := h.appointments.ListForCalendar(r.Context(), clinicID, profID, from, to.AddDate(0, 0, 1))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("calendar read failed")
		writeError(w, http.StatusServiceUnavailable, "transient_error", "could not load calendar, please retry")
		return
	}

	writeJSON(w, http.StatusOK, newCalendarResponse(availability.GroupByDay(appts, loc)))
}

func clinicAndProfessional(w http.ResponseWriter, r *http.Request) (uuid.UUID, *uuid.UUID, bool) {
	clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicID must be a valid UUID")
		return uuid.Nil, nil, false
	}

	raw := r.URL.Query().Get("professional_id")
	if raw == "" {
		return clinicID, nil, true
	}
	profID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
		return uuid.Nil, nil, false
	}
	return clinicID, &profID, true
}

func dateParam(w http.ResponseWriter, r *http.Request, name string, loc *time.Location) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_"+name, name+" is required (YYYY-MM-DD)")
		return time.Time{}, false
	}
	d, err := availability.ParseDate(raw, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleAvailabilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, availability.ErrFetchTimeout), errors.Is(err, availability.ErrFetchFailed):
		writeError(w, http.StatusServiceUnavailable, "availability_unavailable", "could not load availability, please retry")
	default:
		writeError(w, http.StatusServiceUnavailable, "availability_unavailable", err.Error())
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_taken", appointment.ErrConflict.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "transient_error", appointment.ErrTransient.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected booking error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func handleTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "transient_error", appointment.ErrTransient.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected appointment error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
