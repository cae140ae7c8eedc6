package availability

import (
	"time"

	"github.com/google/uuid"
)

type dateRange struct {
	from, to int
	period   BlockedPeriod
}

func (r dateRange) contains(day int) bool {
	return day >= r.from && day <= r.to
}

// BlockedPeriodIndex answers whether a date is closed for a professional.
// Overlapping periods behave as their union; the first match is reported.
type BlockedPeriodIndex struct {
	clinicWide     []dateRange
	byProfessional map[uuid.UUID][]dateRange
}

func NewBlockedPeriodIndex(periods []BlockedPeriod) BlockedPeriodIndex {
	idx := BlockedPeriodIndex{byProfessional: make(map[uuid.UUID][]dateRange)}
	for _, p := range periods {
		r := dateRange{from: dayKey(p.StartDate), to: dayKey(p.EndDate), period: p}
		if r.to < r.from {
			continue
		}
		if p.ProfessionalID == nil {
			idx.clinicWide = append(idx.clinicWide, r)
			continue
		}
		idx.byProfessional[*p.ProfessionalID] = append(idx.byProfessional[*p.ProfessionalID], r)
	}
	return idx
}

// BlockingPeriod returns the period that closes date for professionalID.
// Only calendar dates are compared. A nil professional is only blocked by
// clinic-wide periods.
func (i BlockedPeriodIndex) BlockingPeriod(date time.Time, professionalID *uuid.UUID) (BlockedPeriod, bool) {
	day := dayKey(date)
	for _, r := range i.clinicWide {
		if r.contains(day) {
			return r.period, true
		}
	}
	if professionalID == nil {
		return BlockedPeriod{}, false
	}
	for _, r := range i.byProfessional[*professionalID] {
		if r.contains(day) {
			return r.period, true
		}
	}
	return BlockedPeriod{}, false
}

func (i BlockedPeriodIndex) IsBlocked(date time.Time, professionalID *uuid.UUID) bool {
	_, ok := i.BlockingPeriod(date, professionalID)
	return ok
}
