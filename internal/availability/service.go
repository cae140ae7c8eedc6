package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-availability/internal/appointment"
	"github.com/hackgods/clinic-availability/internal/metrics"
)

const (
	DefaultFetchTimeout = 5 * time.Second

	// MaxRangeDays caps GetRangeAvailability.
	MaxRangeDays = 62
)

var (
	// ErrFetchTimeout means availability could not be loaded in time. It is
	// returned with an empty result and must not be shown as "no slots".
	ErrFetchTimeout = errors.New("could not load availability: timed out")

	// ErrFetchFailed means a backing read failed. Like ErrFetchTimeout it comes
	// with an empty result.
	ErrFetchFailed = errors.New("could not load availability")

	ErrInvalidRange = errors.New("invalid date range")
)

// Source is the backing store read by the engine.
type Source interface {
	BusinessHours(ctx context.Context, clinicID uuid.UUID) ([]BusinessHours, error)
	BlockedPeriods(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]BlockedPeriod, error)
	ActiveAppointments(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type Service struct {
	source       Source
	cache        *Cache
	calc         *Calculator
	loc          *time.Location
	fetchTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

// WithLocation sets the clinic time zone used for calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) { s.fetchTimeout = d }
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(source Source, cache *Cache, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		source:       source,
		cache:        cache,
		loc:          time.UTC,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       logger.With().Str("component", "availability").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = DefaultFetchTimeout
	}
	s.calc = NewCalculator(s.loc, s.now)
	return s
}

// Location returns the time zone calendar dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// GetAvailableSlots lists the slots of date as HH:MM entries. On a read
// failure it returns an empty list and ErrFetchTimeout or ErrFetchFailed.
func (s *Service) GetAvailableSlots(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, date time.Time) ([]SlotView, error) {
	day, err := s.GetDay(ctx, clinicID, professionalID, date)
	if err != nil {
		return []SlotView{}, err
	}
	return day.Views(), nil
}

// GetDay returns the availability of one date.
func (s *Service) GetDay(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, date time.Time) (AvailabilityDay, error) {
	days, err := s.days(ctx, clinicID, professionalID, DateOf(date, s.loc), 1)
	if err != nil {
		return AvailabilityDay{Date: DateOf(date, s.loc), Slots: []Slot{}}, err
	}
	return days[0], nil
}

// GetWeekAvailability returns the seven days starting at weekStart, which
// need not be a Sunday.
func (s *Service) GetWeekAvailability(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, weekStart time.Time) ([]AvailabilityDay, error) {
	return s.days(ctx, clinicID, professionalID, DateOf(weekStart, s.loc), 7)
}

// GetRangeAvailability returns one day per date in [from, to], both inclusive.
func (s *Service) GetRangeAvailability(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]AvailabilityDay, error) {
	from, to = DateOf(from, s.loc), DateOf(to, s.loc)
	if dayKey(to) < dayKey(from) {
		return []AvailabilityDay{}, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}

	n := 1
	for d := from; dayKey(d) < dayKey(to); d = d.AddDate(0, 0, 1) {
		n++
		if n > MaxRangeDays {
			return []AvailabilityDay{}, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxRangeDays)
		}
	}
	return s.days(ctx, clinicID, professionalID, from, n)
}

// days assembles n consecutive days from the Sunday-aligned cached weeks that
// cover them.
func (s *Service) days(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from time.Time, n int) ([]AvailabilityDay, error) {
	out := make([]AvailabilityDay, 0, n)

	for sunday := WeekStart(from); len(out) < n; sunday = sunday.AddDate(0, 0, 7) {
		week, err := s.cachedWeek(ctx, clinicID, professionalID, sunday)
		if err != nil {
			return []AvailabilityDay{}, err
		}
		for _, day := range week {
			if len(out) == n {
				break
			}
			if dayKey(day.Date.In(s.loc)) < dayKey(from) {
				continue
			}
			out = append(out, s.calc.Revalidate(day))
		}
	}

	return out, nil
}

func (s *Service) cachedWeek(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, sunday time.Time) ([]AvailabilityDay, error) {
	key := Key{ClinicID: clinicID, ProfessionalID: professionalID, WeekStart: sunday}

	week, err := s.cache.Get(ctx, key, func(ctx context.Context) ([]AvailabilityDay, error) {
		return s.computeWeek(ctx, clinicID, professionalID, sunday)
	})
	if err != nil {
		return nil, s.classify(err, key)
	}
	return week, nil
}

// computeWeek issues the three backing reads concurrently under the fetch
// timeout and waits for all of them.
func (s *Service) computeWeek(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, sunday time.Time) ([]AvailabilityDay, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	from := sunday
	to := sunday.AddDate(0, 0, 7)

	var (
		hours   []BusinessHours
		blocked []BlockedPeriod
		appts   []appointment.Appointment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hours, err = s.source.BusinessHours(gctx, clinicID)
		if err != nil {
			return fmt.Errorf("business hours: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		blocked, err = s.source.BlockedPeriods(gctx, clinicID, professionalID, from, to.AddDate(0, 0, -1))
		if err != nil {
			return fmt.Errorf("blocked periods: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		appts, err = s.source.ActiveAppointments(gctx, clinicID, professionalID, from, to)
		if err != nil {
			return fmt.Errorf("appointments: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrFetchTimeout, err)
		}
		return nil, err
	}

	return s.calc.ComputeWeek(sunday, NewBusinessHoursIndex(hours), NewBlockedPeriodIndex(blocked), appts, professionalID), nil
}

func (s *Service) classify(err error, key Key) error {
	log := s.logger.With().
		Str("clinic_id", key.ClinicID.String()).
		Str("professional_id", professionalLabel(key.ProfessionalID)).
		Str("week_start", key.WeekStart.Format(DateLayout)).
		Logger()

	switch {
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("availability fetch timed out")
		metrics.IncFetchFailure("timeout")
		if errors.Is(err, ErrFetchTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrFetchTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		log.Error().Err(err).Msg("availability fetch failed")
		metrics.IncFetchFailure("error")
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
}

// CheckSlot reports whether startAt is a bookable slot, ignoring existing
// bookings. It reads the store directly rather than the cache.
func (s *Service) CheckSlot(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, startAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := startAt.In(s.loc)
	date := DateOf(start, s.loc)

	var (
		hours   []BusinessHours
		blocked []BlockedPeriod
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hours, err = s.source.BusinessHours(gctx, clinicID)
		return err
	})
	g.Go(func() error {
		var err error
		blocked, err = s.source.BlockedPeriods(gctx, clinicID, professionalID, date, date)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrFetchTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	hoursIdx := NewBusinessHoursIndex(hours)
	day := s.calc.ComputeDay(date, hoursIdx, NewBlockedPeriodIndex(blocked), nil, professionalID)

	switch day.Status {
	case DayPast:
		return fmt.Errorf("%w: date is in the past", appointment.ErrSlotUnavailable)
	case DayBlocked:
		return fmt.Errorf("%w: blocked (%s)", appointment.ErrSlotUnavailable, day.BlockReason)
	case DayClosed:
		return fmt.Errorf("%w: clinic closed on %s", appointment.ErrSlotUnavailable, date.Weekday())
	}

	bh, _ := hoursIdx.ForWeekday(date.Weekday())
	if !onGrid(start, bh) {
		return fmt.Errorf("%w: %s is not a slot start", appointment.ErrSlotUnavailable, start.Format("15:04"))
	}

	for _, slot := range day.Slots {
		if !slot.Start.Equal(start) {
			continue
		}
		if !slot.Available {
			return fmt.Errorf("%w: %s", appointment.ErrSlotUnavailable, slot.Reason)
		}
		return nil
	}
	return fmt.Errorf("%w: %s is outside business hours", appointment.ErrSlotUnavailable, start.Format("15:04"))
}

// Invalidate drops the cached week containing at for every professional of
// the clinic. It is called after each booking write.
func (s *Service) Invalidate(ctx context.Context, clinicID uuid.UUID, at time.Time) error {
	return s.cache.InvalidateWeek(ctx, clinicID, WeekStart(DateOf(at, s.loc)))
}
