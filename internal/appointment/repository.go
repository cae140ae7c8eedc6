package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrUnknownStatus       = errors.New("unknown appointment status")

	// ErrDuplicateActive is returned by the store when its uniqueness
	// constraint on active bookings rejects an insert.
	ErrDuplicateActive = errors.New("active appointment already exists for slot")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks
	ListActiveAt(ctx context.Context, clinicID uuid.UUID, startAt time.Time) ([]Appointment, error)

	// Creation and updates
	CreatePendingAppointment(ctx context.Context, req BookingRequest) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// Calendar reads, every status except cancelado
	ListForCalendar(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Completion worker
	FindConfirmedEndedBefore(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
