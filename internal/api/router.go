package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-availability/internal/appointment"
	"github.com/hackgods/clinic-availability/internal/availability"
)

type AvailabilityService interface {
	GetAvailableSlots(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, date time.Time) ([]availability.SlotView, error)
	GetDay(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, date time.Time) (availability.AvailabilityDay, error)
	GetWeekAvailability(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, weekStart time.Time) ([]availability.AvailabilityDay, error)
	GetRangeAvailability(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]availability.AvailabilityDay, error)
	Location() *time.Location
}

type AppointmentService interface {
	BookSlot(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListForCalendar(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type RouterConfig struct {
	Availability AvailabilityService
	Appointments AppointmentService
	Postgres     Pinger
	Redis        Pinger
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{availability: cfg.Availability, appointments: cfg.Appointments}

	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Get("/availability", h.getDayAvailability)
		r.Get("/availability/slots", h.getAvailableSlots)
		r.Get("/availability/week", h.getWeekAvailability)
		r.Get("/availability/range", h.getRangeAvailability)
		r.Get("/calendar", h.getCalendar)
		r.Post("/appointments", h.createAppointment)
	})

	// Appointment endpoints
	r.Get("/appointments/{id}", h.getAppointment)
	r.Post("/appointments/{id}/confirm", h.confirmAppointment)
	r.Post("/appointments/{id}/cancel", h.cancelAppointment)

	return r
}
