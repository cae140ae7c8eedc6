package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability/internal/appointment"
)

var brt = time.FixedZone("BRT", -3*60*60)

// Wednesday 2025-12-03 10:15 in the clinic zone.
var fixedNow = time.Date(2025, 12, 3, 10, 15, 0, 0, brt)

var nextMonday = time.Date(2025, 12, 8, 0, 0, 0, 0, brt)

func clock(c string) ClockTime {
	t, err := ParseClockTime(c)
	if err != nil {
		panic(err)
	}
	return t
}

func ptrClock(c string) *ClockTime {
	t := clock(c)
	return &t
}

// weekdayHours opens Monday to Friday between opens and closes.
func weekdayHours(opens, closes string) []BusinessHours {
	hours := make([]BusinessHours, 0, 5)
	for wd := time.Monday; wd <= time.Friday; wd++ {
		hours = append(hours, BusinessHours{Weekday: wd, OpensAt: clock(opens), ClosesAt: clock(closes), IsOpen: true})
	}
	return hours
}

func at(date time.Time, c string) time.Time {
	return clock(c).On(date)
}

func booked(clinicID uuid.UUID, professionalID *uuid.UUID, start time.Time, status appointment.Status) appointment.Appointment {
	return appointment.Appointment{
		ID:              uuid.New(),
		ClinicID:        clinicID,
		ProfessionalID:  professionalID,
		PatientID:       uuid.New(),
		StartAt:         start,
		DurationMinutes: 30,
		Status:          status,
	}
}

func slotAt(day AvailabilityDay, c string) (Slot, bool) {
	want := at(day.Date, c)
	for _, s := range day.Slots {
		if s.Start.Equal(want) {
			return s, true
		}
	}
	return Slot{}, false
}
