package availability

import "time"

// BusinessHoursIndex is a per-weekday lookup over a clinic's weekly schedule.
type BusinessHoursIndex struct {
	days [7]BusinessHours
	set  [7]bool
}

// NewBusinessHoursIndex drops records that are closed or malformed, so a
// weekday without a usable record reads as closed.
func NewBusinessHoursIndex(hours []BusinessHours) BusinessHoursIndex {
	var idx BusinessHoursIndex
	for _, h := range hours {
		if !h.IsOpen || !h.valid() {
			continue
		}
		if h.BreakStart != nil && h.BreakEnd != nil && *h.BreakStart >= *h.BreakEnd {
			h.BreakStart, h.BreakEnd = nil, nil
		}
		idx.days[h.Weekday] = h
		idx.set[h.Weekday] = true
	}
	return idx
}

// ForWeekday returns the hours for wd, or false when the clinic is closed.
func (i BusinessHoursIndex) ForWeekday(wd time.Weekday) (BusinessHours, bool) {
	if wd < time.Sunday || wd > time.Saturday || !i.set[wd] {
		return BusinessHours{}, false
	}
	return i.days[wd], true
}
