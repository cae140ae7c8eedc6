package availability

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-availability/internal/appointment"
)

// Calculator turns schedules and bookings into per-day availability. It is
// pure apart from the injected clock.
type Calculator struct {
	loc *time.Location
	now func() time.Time
}

func NewCalculator(loc *time.Location, now func() time.Time) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{loc: loc, now: now}
}

// ComputeDay marks every slot of date as available or not for professionalID.
// Past, blocked and closed days have no slots. An appointment occupies the
// slot it starts on when it is active and Occupies the professional's view.
func (c *Calculator) ComputeDay(
	date time.Time,
	hours BusinessHoursIndex,
	blocked BlockedPeriodIndex,
	appts []appointment.Appointment,
	professionalID *uuid.UUID,
) AvailabilityDay {
	day := DateOf(date, c.loc)
	now := c.now().In(c.loc)

	result := AvailabilityDay{Date: day, Status: DayOpen, Slots: []Slot{}}

	if dayKey(day) < dayKey(now) {
		result.Status = DayPast
		return result
	}
	if p, ok := blocked.BlockingPeriod(day, professionalID); ok {
		result.Status = DayBlocked
		result.BlockReason = blockReason(p)
		return result
	}
	bh, ok := hours.ForWeekday(day.Weekday())
	if !ok {
		result.Status = DayClosed
		return result
	}

	occupied := make(map[int64]uuid.UUID)
	for _, a := range appts {
		if !a.Occupies(professionalID) {
			continue
		}
		key := a.StartAt.Unix()
		if _, dup := occupied[key]; !dup {
			occupied[key] = a.ID
		}
	}

	starts := GenerateSlots(day, bh)
	result.Slots = make([]Slot, 0, len(starts))
	for _, start := range starts {
		slot := Slot{
			Start:           start,
			DurationMinutes: int(SlotStep / time.Minute),
			Available:       true,
		}
		if id, taken := occupied[start.Unix()]; taken {
			slot.Available = false
			slot.OccupiedBy = &id
			slot.Reason = ReasonOccupied
		} else if start.Before(now) {
			slot.Available = false
			slot.Reason = ReasonPast
		} else if bh.InBreak(clockOf(start)) {
			slot.Available = false
			slot.Reason = ReasonBreak
		}
		if slot.Available {
			result.AvailableSlots++
		}
		result.Slots = append(result.Slots, slot)
	}
	result.TotalSlots = len(result.Slots)

	return result
}

// ComputeWeek computes the seven days from weekStart concurrently. Days share
// only read-only inputs.
func (c *Calculator) ComputeWeek(
	weekStart time.Time,
	hours BusinessHoursIndex,
	blocked BlockedPeriodIndex,
	appts []appointment.Appointment,
	professionalID *uuid.UUID,
) []AvailabilityDay {
	start := DateOf(weekStart, c.loc)
	days := make([]AvailabilityDay, 7)

	var wg sync.WaitGroup
	for i := range days {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			days[i] = c.ComputeDay(start.AddDate(0, 0, i), hours, blocked, appts, professionalID)
		}(i)
	}
	wg.Wait()

	return days
}

// Revalidate applies the clock to a previously computed day: days that are now
// in the past lose their slots and slots that started are marked passado. The
// input is never modified.
func (c *Calculator) Revalidate(day AvailabilityDay) AvailabilityDay {
	now := c.now().In(c.loc)

	if dayKey(day.Date.In(c.loc)) < dayKey(now) {
		if day.Status == DayPast {
			return day
		}
		return AvailabilityDay{Date: day.Date, Status: DayPast, Slots: []Slot{}}
	}

	var slots []Slot
	for i, s := range day.Slots {
		if !s.Available || !s.Start.Before(now) {
			continue
		}
		if slots == nil {
			slots = make([]Slot, len(day.Slots))
			copy(slots, day.Slots)
		}
		slots[i].Available = false
		slots[i].Reason = ReasonPast
	}
	if slots == nil {
		return day
	}

	out := day
	out.Slots = slots
	out.AvailableSlots = 0
	for _, s := range slots {
		if s.Available {
			out.AvailableSlots++
		}
	}
	return out
}

func blockReason(p BlockedPeriod) string {
	if p.Reason != "" {
		return p.Reason
	}
	return string(p.Kind)
}
