package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and cache-key format of a calendar date.
const DateLayout = "2006-01-02"

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

const endOfDay ClockTime = 24 * 60

// ParseClockTime accepts "HH:MM" or "HH:MM:SS". Seconds are dropped.
func ParseClockTime(s string) (ClockTime, error) {
	var h, m, sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if n < 2 {
		return 0, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	c := ClockTime(h*60 + m)
	if h < 0 || m < 0 || m > 59 || c > endOfDay {
		return 0, fmt.Errorf("parse clock time %q: out of range", s)
	}
	return c, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at c on the calendar date of date, in date's location.
func (c ClockTime) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

func clockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// BusinessHours is one weekday of a clinic's weekly schedule. The break is
// optional; both ends must be set for it to apply.
type BusinessHours struct {
	Weekday    time.Weekday
	OpensAt    ClockTime
	ClosesAt   ClockTime
	BreakStart *ClockTime
	BreakEnd   *ClockTime
	IsOpen     bool
}

func (h BusinessHours) valid() bool {
	return h.Weekday >= time.Sunday && h.Weekday <= time.Saturday &&
		h.OpensAt >= 0 && h.OpensAt < h.ClosesAt && h.ClosesAt <= endOfDay
}

// InBreak reports whether a slot starting at c falls inside the break.
func (h BusinessHours) InBreak(c ClockTime) bool {
	if h.BreakStart == nil || h.BreakEnd == nil {
		return false
	}
	return c >= *h.BreakStart && c < *h.BreakEnd
}

type BlockKind string

const (
	BlockVacation    BlockKind = "ferias"
	BlockHoliday     BlockKind = "feriado"
	BlockMaintenance BlockKind = "manutencao"
	BlockPersonal    BlockKind = "pessoal"
	BlockOther       BlockKind = "outro"
)

// BlockedPeriod closes every slot from StartDate to EndDate inclusive.
// A nil ProfessionalID applies to the whole clinic.
type BlockedPeriod struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	StartDate      time.Time
	EndDate        time.Time
	Kind           BlockKind
	Reason         string
}

// SlotReason explains why a slot is not available.
type SlotReason string

const (
	ReasonOccupied SlotReason = "ocupado"
	ReasonPast     SlotReason = "passado"
	ReasonBreak    SlotReason = "intervalo"
)

type Slot struct {
	Start           time.Time  `json:"start"`
	DurationMinutes int        `json:"duration_minutes"`
	Available       bool       `json:"is_available"`
	OccupiedBy      *uuid.UUID `json:"occupied_by,omitempty"`
	Reason          SlotReason `json:"reason,omitempty"`
}

// DayStatus explains a day with no slots.
type DayStatus string

const (
	DayOpen    DayStatus = "aberto"
	DayClosed  DayStatus = "fechado"
	DayBlocked DayStatus = "bloqueado"
	DayPast    DayStatus = "passado"
)

type AvailabilityDay struct {
	Date           time.Time `json:"date"`
	Status         DayStatus `json:"status"`
	BlockReason    string    `json:"block_reason,omitempty"`
	TotalSlots     int       `json:"total_slots"`
	AvailableSlots int       `json:"available_slots"`
	Slots          []Slot    `json:"slots"`
}

// SlotView is the booking form's view of a slot.
type SlotView struct {
	Time       string     `json:"time"`
	Disponivel bool       `json:"disponivel"`
	Motivo     SlotReason `json:"motivo,omitempty"`
}

// Views returns the day's slots as HH:MM entries in the day's location.
func (d AvailabilityDay) Views() []SlotView {
	views := make([]SlotView, 0, len(d.Slots))
	for _, s := range d.Slots {
		views = append(views, SlotView{
			Time:       s.Start.In(d.Date.Location()).Format("15:04"),
			Disponivel: s.Available,
			Motivo:     s.Reason,
		})
	}
	return views
}

// DateOf truncates t to midnight of its calendar date in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekStart returns the Sunday on or before date.
func WeekStart(date time.Time) time.Time {
	return date.AddDate(0, 0, -int(date.Weekday()))
}

// ParseDate reads a YYYY-MM-DD date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// dayKey orders calendar dates independently of location.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
