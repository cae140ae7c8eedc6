package availability

import "time"

// SlotStep is the only slot granularity. Nothing else derives slot starts.
const SlotStep = 30 * time.Minute

const stepMinutes = ClockTime(SlotStep / time.Minute)

// GenerateSlots returns the slot starts of date from OpensAt in SlotStep
// increments. A trailing remainder shorter than a step yields no slot.
func GenerateSlots(date time.Time, hours BusinessHours) []time.Time {
	if !hours.IsOpen || !hours.valid() {
		return nil
	}

	n := int((hours.ClosesAt - hours.OpensAt) / stepMinutes)
	starts := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		starts = append(starts, (hours.OpensAt + ClockTime(i)*stepMinutes).On(date))
	}
	return starts
}

// onGrid reports whether t is a slot start for hours.
func onGrid(t time.Time, hours BusinessHours) bool {
	c := clockOf(t)
	if t.Second() != 0 || t.Nanosecond() != 0 {
		return false
	}
	if c < hours.OpensAt || c+stepMinutes > hours.ClosesAt {
		return false
	}
	return (c-hours.OpensAt)%stepMinutes == 0
}
