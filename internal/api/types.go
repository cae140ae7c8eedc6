package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability/internal/appointment"
	"github.com/hackgods/clinic-availability/internal/availability"
)

type CreateAppointmentRequest struct {
	ProfessionalID  *string `json:"professional_id,omitempty"`
	PatientID       string  `json:"patient_id"`
	Start           string  `json:"start"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	ProfessionalID  *uuid.UUID `json:"professional_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	Start           time.Time  `json:"start"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ClinicID:        a.ClinicID,
		ProfessionalID:  a.ProfessionalID,
		PatientID:       a.PatientID,
		Start:           a.StartAt,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
	}
}

// DaySlotsResponse is what the booking form's time picker consumes.
type DaySlotsResponse struct {
	Date        string                  `json:"date"`
	Status      availability.DayStatus  `json:"status"`
	BlockReason string                  `json:"block_reason,omitempty"`
	Slots       []availability.SlotView `json:"slots"`
}

type SlotResponse struct {
	Time       string                  `json:"time"`
	Start      time.Time               `json:"start"`
	Disponivel bool                    `json:"disponivel"`
	Motivo     availability.SlotReason `json:"motivo,omitempty"`
	OccupiedBy *uuid.UUID              `json:"occupied_by,omitempty"`
}

type AvailabilityDayResponse struct {
	Date           string                 `json:"date"`
	Status         availability.DayStatus `json:"status"`
	BlockReason    string                 `json:"block_reason,omitempty"`
	TotalSlots     int                    `json:"total_slots"`
	AvailableSlots int                    `json:"available_slots"`
	Slots          []SlotResponse         `json:"slots"`
}

func newAvailabilityDays(days []availability.AvailabilityDay, loc *time.Location) []AvailabilityDayResponse {
	out := make([]AvailabilityDayResponse, 0, len(days))
	for _, d := range days {
		resp := AvailabilityDayResponse{
			Date:           d.Date.In(loc).Format(availability.DateLayout),
			Status:         d.Status,
			BlockReason:    d.BlockReason,
			TotalSlots:     d.TotalSlots,
			AvailableSlots: d.AvailableSlots,
			Slots:          make([]SlotResponse, 0, len(d.Slots)),
		}
		for _, s := range d.Slots {
			resp.Slots = append(resp.Slots, SlotResponse{
				Time:       s.Start.In(loc).Format("15:04"),
				Start:      s.Start,
				Disponivel: s.Available,
				Motivo:     s.Reason,
				OccupiedBy: s.OccupiedBy,
			})
		}
		out = append(out, resp)
	}
	return out
}

type DayBookingGroupResponse struct {
	Date         string                `json:"date"`
	Count        int                   `json:"count"`
	Appointments []AppointmentResponse `json:"appointments"`
}

func newCalendarResponse(cal availability.Calendar) map[string]DayBookingGroupResponse {
	out := make(map[string]DayBookingGroupResponse, len(cal.Groups))
	for day, g := range cal.Groups {
		resp := DayBookingGroupResponse{
			Date:         g.Date,
			Count:        g.Count,
			Appointments: make([]AppointmentResponse, 0, len(g.Appointments)),
		}
		for i := range g.Appointments {
			resp.Appointments = append(resp.Appointments, newAppointmentResponse(&g.Appointments[i]))
		}
		out[day] = resp
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
