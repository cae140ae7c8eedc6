package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status values are stored verbatim in appointments.status.
type Status string

const (
	StatusPending   Status = "pendente"
	StatusConfirmed Status = "confirmado"
	StatusCancelled Status = "cancelado"
	StatusCompleted Status = "concluido"
)

// DefaultDurationMinutes is used when a booking request does not carry a duration.
const DefaultDurationMinutes = 30

// ParseStatus rejects anything outside the closed set so an unknown value can
// never be read as either occupying or freeing a slot.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Active reports whether the status holds a slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransitionTo encodes pendente -> confirmado -> concluido and
// pendente|confirmado -> cancelado.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// ActiveStatuses are the statuses read by the availability engine.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

type Appointment struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	ProfessionalID  *uuid.UUID // nil means any professional
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Occupies reports whether a takes capacity in the view of professionalID.
// Appointments without a professional occupy every view, and a view without a
// professional is occupied by every active appointment.
func (a Appointment) Occupies(professionalID *uuid.UUID) bool {
	if !a.Status.Active() {
		return false
	}
	if professionalID == nil || a.ProfessionalID == nil {
		return true
	}
	return *a.ProfessionalID == *professionalID
}

// BookingRequest is what the booking form submits.
type BookingRequest struct {
	ClinicID        uuid.UUID
	ProfessionalID  *uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
