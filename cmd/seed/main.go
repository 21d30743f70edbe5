package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

func main() {
	providers := flag.Int("providers", 100, "number of providers")
	patients := flag.Int("patients", 9000, "number of patients")
	hours := flag.String("hours", "", "weekday opening hours HH:MM-HH:MM; random per provider when empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal("seed needs STORAGE_DRIVER=postgres")
	}
	logger.Info("seed starting")

	var fixed *appointment.DayWindow
	if *hours != "" {
		w, err := appointment.ParseDayWindow(*hours)
		if err != nil {
			logger.Fatal("invalid -hours", zap.Error(err))
		}
		fixed = &w
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PgMaxConns)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedServices(context.Background(), pool, logger); err != nil {
		logger.Fatal("seed services", zap.Error(err))
	}
	if err := seedProviders(context.Background(), pool, logger, *providers, cfg.DefaultTimezone, fixed); err != nil {
		logger.Fatal("seed providers", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, logger, *patients); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	// duration 0 means "one slot of the provider"
	services := []struct {
		name    string
		minutes int32
	}{
		{"Consultation", 0},
		{"Follow-up", 15},
		{"Extended consultation", 60},
		{"Minor procedure", 45},
	}

	for _, s := range services {
		_, err := pool.Exec(ctx, `
			INSERT INTO services (id, name, duration_minutes)
			VALUES ($1, $2, $3)
		`, uuid.New(), s.name, s.minutes)
		if err != nil {
			return err
		}
	}

	logger.Info("services seeded", zap.Int("count", len(services)))
	return nil
}

// weeklyTemplate returns open/close minutes indexed by weekday (Sunday = 0).
// Weekends stay closed; weekday hours are fixed when given, otherwise they
// vary per provider.
func weeklyTemplate(fixed *appointment.DayWindow) (opens, closes []int32) {
	opens = make([]int32, 7)
	closes = make([]int32, 7)

	open := int32(gofakeit.Number(7, 10) * 60)
	close := open + int32(gofakeit.Number(6, 9)*60)
	if fixed != nil {
		open, close = int32(fixed.Open), int32(fixed.Close)
	}
	for day := 1; day <= 5; day++ {
		opens[day], closes[day] = open, close
	}
	if gofakeit.Bool() {
		opens[6], closes[6] = 9*60, 13*60 // saturday morning
	}
	return opens, closes
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int, timezone string, fixed *appointment.DayWindow) error {
	logger.Info("seeding providers", zap.Int("count", count))

	specialties := []string{
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
	slotMinutes := []int32{15, 20, 30, 45}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		opens, closes := weeklyTemplate(fixed)
		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, timezone, open_minutes, close_minutes,
				slot_duration_minutes, slot_gap_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		`,
			uuid.New(),
			"Dr. "+gofakeit.Name(),
			specialties[gofakeit.Number(0, len(specialties)-1)],
			timezone,
			opens,
			closes,
			slotMinutes[gofakeit.Number(0, len(slotMinutes)-1)],
			int32(gofakeit.RandomInt([]int{0, 0, 5, 10})),
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("providers seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int) error {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}
