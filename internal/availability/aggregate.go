package availability

import (
	"sort"
	"time"

	"github.com/hackgods/clinic-availability/internal/appointment"
)

// DayBookingGroup holds the bookings of one calendar date, ordered by start.
type DayBookingGroup struct {
	Date         string
	Appointments []appointment.Appointment
	Count        int
}

// Calendar holds bookings grouped by YYYY-MM-DD in the location they were
// grouped in. Lookups by time.Time resolve the date in that same location.
type Calendar struct {
	Groups map[string]DayBookingGroup
	loc    *time.Location
}

// GroupByDay buckets already-filtered appointments by their calendar date in loc.
func GroupByDay(appts []appointment.Appointment, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}

	cal := Calendar{Groups: make(map[string]DayBookingGroup), loc: loc}
	for _, a := range appts {
		key := a.StartAt.In(loc).Format(DateLayout)
		g := cal.Groups[key]
		g.Date = key
		g.Appointments = append(g.Appointments, a)
		g.Count++
		cal.Groups[key] = g
	}

	for key, g := range cal.Groups {
		sort.SliceStable(g.Appointments, func(i, j int) bool {
			return g.Appointments[i].StartAt.Before(g.Appointments[j].StartAt)
		})
		cal.Groups[key] = g
	}

	return cal
}

// Location is the zone dates were grouped in.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// On returns the group of the clinic-local date containing t.
func (c Calendar) On(t time.Time) DayBookingGroup {
	return c.Groups[t.In(c.Location()).Format(DateLayout)]
}

// CountOn returns how many bookings fall on the clinic-local date containing t.
func (c Calendar) CountOn(t time.Time) int {
	return c.On(t).Count
}

// Days returns the dates present, ascending.
func (c Calendar) Days() []string {
	days := make([]string, 0, len(c.Groups))
	for d := range c.Groups {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// Overflow is the "+N" shown when a cell renders only visible bookings.
func (c Calendar) Overflow(date time.Time, visible int) int {
	if n := c.CountOn(date) - visible; n > 0 {
		return n
	}
	return 0
}
