package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-availability/internal/appointment"
)

// PgSource reads schedules from Postgres and delegates appointments to the
// appointment repository.
type PgSource struct {
	pool         *pgxpool.Pool
	appointments *appointment.PgRepository
	loc          *time.Location
}

func NewPgSource(pool *pgxpool.Pool, appointments *appointment.PgRepository, loc *time.Location) *PgSource {
	if loc == nil {
		loc = time.UTC
	}
	return &PgSource{pool: pool, appointments: appointments, loc: loc}
}

func (s *PgSource) BusinessHours(ctx context.Context, clinicID uuid.UUID) ([]BusinessHours, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT weekday, opens_at, closes_at, break_start, break_end, is_open
		FROM business_hours
		WHERE clinic_id = $1
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BusinessHours
	for rows.Next() {
		var (
			weekday              int16
			opens, closes        pgtype.Time
			breakStart, breakEnd pgtype.Time
			isOpen               bool
		)
		if err := rows.Scan(&weekday, &opens, &closes, &breakStart, &breakEnd, &isOpen); err != nil {
			return nil, err
		}

		result = append(result, BusinessHours{
			Weekday:    time.Weekday(weekday),
			OpensAt:    fromPgTime(opens),
			ClosesAt:   fromPgTime(closes),
			BreakStart: optionalPgTime(breakStart),
			BreakEnd:   optionalPgTime(breakEnd),
			IsOpen:     isOpen,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// BlockedPeriods returns periods overlapping [from, to] that apply to the
// clinic or to professionalID.
func (s *PgSource) BlockedPeriods(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]BlockedPeriod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, clinic_id, professional_id, start_date, end_date, kind, COALESCE(reason, '')
		FROM blocked_periods
		WHERE clinic_id = $1
		  AND start_date <= $3
		  AND end_date >= $2
		  AND (professional_id IS NULL OR professional_id = $4)
	`, clinicID, toPgDate(from), toPgDate(to), professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedPeriod
	for rows.Next() {
		var (
			p          BlockedPeriod
			start, end pgtype.Date
			kind       string
		)
		if err := rows.Scan(&p.ID, &p.ClinicID, &p.ProfessionalID, &start, &end, &kind, &p.Reason); err != nil {
			return nil, err
		}
		p.StartDate = s.fromPgDate(start)
		p.EndDate = s.fromPgDate(end)
		p.Kind = BlockKind(kind)
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgSource) ActiveAppointments(ctx context.Context, clinicID uuid.UUID, professionalID *uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	return s.appointments.ListActiveInRange(ctx, clinicID, professionalID, from, to)
}

func fromPgTime(t pgtype.Time) ClockTime {
	return ClockTime(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func optionalPgTime(t pgtype.Time) *ClockTime {
	if !t.Valid {
		return nil
	}
	c := fromPgTime(t)
	return &c
}

func toPgDate(d time.Time) pgtype.Date {
	y, m, day := d.Date()
	return pgtype.Date{Time: time.Date(y, m, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

func (s *PgSource) fromPgDate(d pgtype.Date) time.Time {
	y, m, day := d.Time.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, s.loc)
}
