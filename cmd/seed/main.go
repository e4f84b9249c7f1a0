package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/config"
	"github.com/caretide/clinic-ops/internal/db"
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

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	clinicIDs, err := seedClinics(context.Background(), pool, 5)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed clinics")
	}
	providerIDs, err := seedProviders(context.Background(), pool, clinicIDs, 40)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}
	patientIDs, err := seedPatients(context.Background(), pool, 400)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	slots, err := seedSlots(context.Background(), pool, providerIDs, clinicIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}

	logger.Info().
		Int("clinics", len(clinicIDs)).
		Int("providers", len(providerIDs)).
		Int("patients", len(patientIDs)).
		Int("slots", slots).
		Msg("seed complete")

	// Handy for curl-driven testing against the seeded data.
	patientToken, _ := auth.Sign(cfg.JWTSecret, patientIDs[0], auth.RolePatient, 24*time.Hour)
	doctorToken, _ := auth.Sign(cfg.JWTSecret, providerIDs[0], auth.RoleDoctor, 24*time.Hour)
	logger.Info().
		Str("patient_id", patientIDs[0].String()).
		Str("patient_token", patientToken).
		Str("doctor_id", providerIDs[0].String()).
		Str("doctor_token", doctorToken).
		Msg("sample credentials")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		address := gofakeit.Address().Address
		_, err := pool.Exec(ctx, `
			INSERT INTO clinics (id, name, address, active)
			VALUES ($1, $2, $3, $4)
		`, id, gofakeit.Company()+" Clinic", address, i != count-1) // keep one inactive
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, count int) ([]uuid.UUID, error) {
	kinds := []string{"doctor", "doctor", "doctor", "nurse", "lab"}
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		kind := kinds[i%len(kinds)]
		var specialty *string
		if kind == "doctor" {
			s := specialties[gofakeit.Number(0, len(specialties)-1)]
			specialty = &s
		}
		var clinicID *uuid.UUID
		if gofakeit.Bool() {
			c := clinicIDs[gofakeit.Number(0, len(clinicIDs)-1)]
			clinicID = &c
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO providers (id, name, kind, specialty, clinic_id)
			VALUES ($1, $2, $3, $4, $5)
		`, id, gofakeit.Name(), kind, specialty, clinicID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone)
			VALUES ($1, $2, $3, $4)
		`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedSlots publishes a week of 30-minute open slots, 09:00-17:00, for each
// provider.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, providerIDs, clinicIDs []uuid.UUID) (int, error) {
	total := 0
	dayStart := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)

	for _, providerID := range providerIDs {
		var kind string
		var clinicID *uuid.UUID
		err := pool.QueryRow(ctx, `SELECT kind, clinic_id FROM providers WHERE id = $1`, providerID).Scan(&kind, &clinicID)
		if err != nil {
			return total, err
		}

		for day := 0; day < 7; day++ {
			start := dayStart.AddDate(0, 0, day).Add(9 * time.Hour)
			for hour := 0; hour < 16; hour++ { // 16 half-hour slots
				slotStart := start.Add(time.Duration(hour) * 30 * time.Minute)
				_, err := pool.Exec(ctx, `
					INSERT INTO availability_slots
						(id, provider_id, provider_kind, clinic_id, start_time, end_time, is_available)
					VALUES ($1, $2, $3, $4, $5, $6, TRUE)
				`, uuid.New(), providerID, kind, clinicID, slotStart, slotStart.Add(30*time.Minute))
				if err != nil {
					return total, err
				}
				total++
			}
		}
	}
	return total, nil
}
