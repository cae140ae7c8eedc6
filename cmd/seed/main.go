package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-availability/internal/availability"
	"github.com/hackgods/clinic-availability/internal/config"
	"github.com/hackgods/clinic-availability/internal/db"
	"github.com/hackgods/clinic-availability/internal/logging"
)

const (
	clinicCount            = 5
	professionalsPerClinic = 4
	patientCount           = 3000
)

var specialties = []string{
	"Clinico Geral",
	"Ortodontia",
	"Endodontia",
	"Periodontia",
	"Implantodontia",
	"Odontopediatria",
	"Protese",
}

type seeder struct {
	pool   *pgxpool.Pool
	faker  *gofakeit.Faker
	loc    *time.Location
	logger zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("dev", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.WithApplicationName("seed"))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	s := &seeder{pool: pool, faker: gofakeit.New(0), loc: cfg.Timezone, logger: logger}

	for i := 0; i < clinicCount; i++ {
		if err := s.seedClinic(ctx); err != nil {
			logger.Fatal().Err(err).Msg("seed clinic")
		}
	}
	if err := s.seedPatients(ctx, patientCount); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

// seedClinic inserts a clinic with its professionals, weekly hours and a few
// blocked periods in one transaction.
func (s *seeder) seedClinic(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	clinicID := uuid.New()
	name := "Clinica " + s.faker.Company()
	if _, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
	`, clinicID, name); err != nil {
		return err
	}

	professionals := make([]uuid.UUID, 0, professionalsPerClinic)
	for i := 0; i < professionalsPerClinic; i++ {
		id := uuid.New()
		specialty := specialties[s.faker.Number(0, len(specialties)-1)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, clinic_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, clinicID, "Dr(a). "+s.faker.Name(), specialty); err != nil {
			return err
		}
		professionals = append(professionals, id)
	}

	if err := seedBusinessHours(ctx, tx, clinicID); err != nil {
		return err
	}
	if err := s.seedBlockedPeriods(ctx, tx, clinicID, professionals); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info().Str("clinic_id", clinicID.String()).Str("name", name).Int("professionals", len(professionals)).Msg("clinic seeded")
	return nil
}

// Monday to Friday 07:00-19:00 with a lunch break, Saturday mornings, closed Sunday.
func seedBusinessHours(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID) error {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		opens, closes := pgTime(7, 0), pgTime(19, 0)
		var breakStart, breakEnd pgtype.Time
		isOpen := true

		switch wd {
		case time.Sunday:
			isOpen = false
		case time.Saturday:
			opens, closes = pgTime(8, 0), pgTime(12, 0)
		default:
			breakStart, breakEnd = pgTime(12, 0), pgTime(13, 0)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO business_hours (clinic_id, weekday, opens_at, closes_at, break_start, break_end, is_open)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (clinic_id, weekday) DO NOTHING
		`, clinicID, int16(wd), opens, closes, breakStart, breakEnd, isOpen); err != nil {
			return err
		}
	}
	return nil
}

func pgTime(hour, minute int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(time.Duration(hour)*time.Hour+time.Duration(minute)*time.Minute) / 1000, Valid: true}
}

func pgDate(t time.Time) pgtype.Date {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func (s *seeder) seedBlockedPeriods(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID, professionals []uuid.UUID) error {
	year := time.Now().In(s.loc).Year()

	insert := func(profID *uuid.UUID, from, to time.Time, kind availability.BlockKind, reason string) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO blocked_periods (id, clinic_id, professional_id, start_date, end_date, kind, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), clinicID, profID, pgDate(from), pgDate(to), string(kind), reason)
		return err
	}

	christmasEve := time.Date(year, 12, 24, 0, 0, 0, 0, s.loc)
	if err := insert(nil, christmasEve, christmasEve.AddDate(0, 0, 2), availability.BlockHoliday, "Natal"); err != nil {
		return err
	}

	// one vacation week for a random professional within the next two months
	prof := professionals[s.faker.Number(0, len(professionals)-1)]
	start := time.Now().In(s.loc).AddDate(0, 0, s.faker.Number(7, 60))
	if err := insert(&prof, start, start.AddDate(0, 0, 6), availability.BlockVacation, "Ferias"); err != nil {
		return err
	}

	maintenance := time.Now().In(s.loc).AddDate(0, 0, s.faker.Number(1, 30))
	return insert(nil, maintenance, maintenance, availability.BlockMaintenance, "Manutencao de equipamentos")
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), s.faker.Name(), s.faker.Email(), s.faker.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		s.logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	return nil
}
