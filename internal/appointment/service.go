package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-availability/internal/metrics"
	redisclient "github.com/hackgods/clinic-availability/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	// ErrConflict means the slot was taken between the availability read and
	// the write. Callers must re-fetch availability before retrying.
	ErrConflict = errors.New("this time was just taken, please choose another")

	// ErrTransient wraps infrastructure failures. The whole request may be
	// retried as is; nothing is persisted when it is returned.
	ErrTransient = errors.New("transient booking failure, please retry")

	// ErrSlotUnavailable means the start is not a bookable slot at all
	// (closed, blocked, in the past, in a break, or off the slot grid).
	ErrSlotUnavailable = errors.New("slot is not bookable")

	ErrInvalidRequest          = errors.New("invalid booking request")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// SlotChecker validates that a start time is a bookable slot, ignoring
// existing bookings. It returns an error wrapping ErrSlotUnavailable when
// the slot cannot be booked.
type SlotChecker interface {
	CheckSlot(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, startAt time.Time) error
}

// Invalidator drops cached availability that covers at.
type Invalidator interface {
	Invalidate(ctx context.Context, clinicID uuid.UUID, at time.Time) error
}

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	checker     SlotChecker
	invalidator Invalidator
	logger      zerolog.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSlotChecker enables validation of the requested start before locking.
func WithSlotChecker(c SlotChecker) Option {
	return func(s *Service) { s.checker = c }
}

// WithInvalidator wires cache invalidation after successful writes.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func NewService(repo Repository, locker redisclient.Locker, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		logger: logger.With().Str("component", "booking").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SlotLockKey serializes all writers for one clinic instant, whichever
// professional they target, so assigned and unassigned bookings cannot race.
// Holding the key says nothing about occupancy: writers wait for it and then
// decide conflict from the re-check.
func SlotLockKey(clinicID uuid.UUID, startAt time.Time) string {
	return fmt.Sprintf("%s:%d", clinicID, startAt.Unix())
}

// BookSlot reserves a slot and returns the pending appointment. Before the
// insert it re-reads active appointments for the exact (clinic, start) under a
// per-slot lock, waiting for other writers at the same instant. It returns
// ErrConflict only when an active appointment occupies the slot, ErrSlotUnavailable
// when the start is not bookable, and ErrTransient on infrastructure failures.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.ClinicID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: clinic_id and patient_id are required", ErrInvalidRequest)
	}
	if req.StartAt.IsZero() {
		return nil, fmt.Errorf("%w: start is required", ErrInvalidRequest)
	}
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if req.ProfessionalID != nil && *req.ProfessionalID == uuid.Nil {
		req.ProfessionalID = nil
	}

	log := s.logger.With().
		Str("clinic_id", req.ClinicID.String()).
		Str("professional_id", professionalLabel(req.ProfessionalID)).
		Time("start_at", req.StartAt).
		Logger()

	if req.StartAt.Before(s.now()) {
		metrics.IncBooking("unavailable")
		return nil, fmt.Errorf("%w: start is in the past", ErrSlotUnavailable)
	}

	if s.checker != nil {
		if err := s.checker.CheckSlot(ctx, req.ClinicID, req.ProfessionalID, req.StartAt); err != nil {
			if errors.Is(err, ErrSlotUnavailable) {
				metrics.IncBooking("unavailable")
				return nil, err
			}
			log.Error().Err(err).Msg("slot validation failed")
			metrics.IncBooking("transient")
			return nil, fmt.Errorf("%w: validate slot: %w", ErrTransient, err)
		}
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, SlotLockKey(req.ClinicID, req.StartAt), func(lockCtx context.Context) error {
		// Inside the critical section re-check for an active appointment at this instant
		existing, err := s.repo.ListActiveAt(lockCtx, req.ClinicID, req.StartAt)
		if err != nil {
			return fmt.Errorf("%w: check active appointments: %w", ErrTransient, err)
		}
		for _, a := range existing {
			if a.Occupies(req.ProfessionalID) {
				log.Info().Str("occupied_by", a.ID.String()).Msg("slot already taken")
				return ErrConflict
			}
		}

		appt, err := s.repo.CreatePendingAppointment(lockCtx, req)
		if err != nil {
			if errors.Is(err, ErrDuplicateActive) {
				return ErrConflict
			}
			return fmt.Errorf("%w: create pending appointment: %w", ErrTransient, err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"clinic_id":        req.ClinicID.String(),
			"professional_id":  professionalLabel(req.ProfessionalID),
			"patient_id":       req.PatientID.String(),
			"start_at":         req.StartAt,
			"duration_minutes": req.DurationMinutes,
		})

		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			metrics.IncBooking("conflict")
			return nil, ErrConflict
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			// the instant stayed busy for the whole wait; the slot may still be free
			log.Warn().Err(err).Msg("booking lock wait exhausted")
			metrics.IncBooking("transient")
			return nil, fmt.Errorf("%w: slot is busy: %w", ErrTransient, err)
		case errors.Is(err, ErrTransient):
			log.Error().Err(err).Msg("booking failed")
			metrics.IncBooking("transient")
			return nil, err
		default:
			// lock acquisition or release failed on the Redis side
			log.Error().Err(err).Msg("booking lock failed")
			metrics.IncBooking("transient")
			return nil, fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	metrics.IncBooking("created")
	log.Info().Str("appointment_id", created.ID.String()).Msg("appointment booked")
	s.invalidate(ctx, created)

	return created, nil
}

// ConfirmAppointment moves a pending appointment to confirmado.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
}

// CancelAppointment frees the slot by moving the appointment to cancelado.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load appointment: %w", ErrTransient, err)
	}

	if !appt.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status changed under us
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, appt.ID)
		}
		return nil, fmt.Errorf("%w: update status: %w", ErrTransient, err)
	}

	metrics.IncTransition(string(to))
	s.logEvent(ctx, updated.ID, event, map[string]any{"from": appt.Status, "to": to})
	s.invalidate(ctx, updated)

	return updated, nil
}

// CompletePastAppointments is intended to be called by the worker periodically.
// It returns how many appointments moved to concluido.
func (s *Service) CompletePastAppointments(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindConfirmedEndedBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find ended appointments: %w", err)
	}

	completed := 0
	for _, appt := range candidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to complete appointment")
			}
			continue
		}
		completed++
		metrics.IncTransition(string(StatusCompleted))
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{"reason": "worker"})
	}

	return completed, nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListForCalendar returns the non-cancelled appointments of a clinic in
// [from, to), optionally restricted to one professional.
func (s *Service) ListForCalendar(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListForCalendar(ctx, clinicID, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list calendar appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) invalidate(ctx context.Context, appt *Appointment) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, appt.ClinicID, appt.StartAt); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to invalidate availability cache")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func professionalLabel(id *uuid.UUID) string {
	if id == nil {
		return "any"
	}
	return id.String()
}
