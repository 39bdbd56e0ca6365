package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// status text as found in the old front-desk exports, including junk values
var legacyStatuses = []string{
	"Scheduled",
	"Confirmed",
	"confirmed",
	"Pending Approval",
	"pending_approval",
	"Completed",
	"Cancelled",
	"No Show",
	"rescheduled",
	"",
}

var reasons = []string{
	"Annual check-up",
	"Follow-up visit",
	"Blood test review",
	"Vaccination",
	"Back pain",
	"Skin rash",
	"Prescription renewal",
	"Chest pain evaluation",
}

func main() {
	logger := logging.New(logging.Options{Env: "dev", Level: "info", Service: "seed"})
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	faker := gofakeit.New(0)
	bg := context.Background()

	doctors, err := seedDoctors(bg, pool, faker, envInt("SEED_DOCTORS", 12), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	patients, err := seedPatients(bg, pool, faker, envInt("SEED_PATIENTS", 500), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	repo := appointment.NewPgRepository(pool)
	if err := seedAppointments(bg, repo, faker, doctors, patients, envInt("SEED_DAYS", 14), logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at)
			VALUES ($1, $2, $3, now())
		`, id, "Dr. "+faker.Name(), spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()

			// roughly one in ten patients has no email on file
			var email *string
			if faker.Number(1, 10) > 1 {
				e := faker.Email()
				email = &e
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at)
				VALUES ($1, $2, $3, now())
			`, id, faker.Name(), email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return ids, nil
}

// seedAppointments fills each working day with 30 minute bookings. Doctor i
// always uses room i+1 and each slot draws distinct patients, so the seeded
// data is conflict-free.
func seedAppointments(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, doctors, patients []uuid.UUID, days int, logger zerolog.Logger) error {
	if len(doctors) == 0 || len(patients) <= len(doctors) {
		logger.Warn().Msg("not enough doctors or patients, skipping appointments")
		return nil
	}

	today := time.Now().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -days/2)
	slot := 0
	total := 0

	for d := 0; d < days; d++ {
		day := first.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		err := repo.InTx(ctx, func(ctx context.Context, tx appointment.Store) error {
			for start := day.Add(8 * time.Hour); start.Before(day.Add(18 * time.Hour)); start = start.Add(30 * time.Minute) {
				for i, doctorID := range doctors {
					// leave about a third of the grid free
					if faker.Number(1, 3) == 1 {
						continue
					}

					status := appointment.ParseStatusOrDefault(
						legacyStatuses[faker.Number(0, len(legacyStatuses)-1)],
						appointment.StatusScheduled,
					)
					room := i + 1
					a := &appointment.Appointment{
						PatientID:  patients[(slot*len(doctors)+i)%len(patients)],
						DoctorID:   doctorID,
						RoomNumber: &room,
						StartTime:  start,
						EndTime:    start.Add(30 * time.Minute),
						Status:     status,
						Reason:     reasons[faker.Number(0, len(reasons)-1)],
					}
					if status == appointment.StatusPendingApproval {
						a.RoomNumber = nil
					}
					if err := tx.Insert(ctx, a); err != nil {
						return err
					}
					total++
				}
				slot++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	logger.Info().Int("count", total).Msg("appointments seeded")
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
