package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/appointment"
	"github.com/caretide/clinic-ops/internal/config"
	"github.com/caretide/clinic-ops/internal/db"
	"github.com/caretide/clinic-ops/internal/notify"
	redisclient "github.com/caretide/clinic-ops/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "reminder-worker").Logger()
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("lead", cfg.ReminderLead).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Unlike the API server, this worker exists to enqueue notifications, so
	// Redis is a hard dependency here.
	rdb, err := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	store := appointment.NewPgStore(pgPool)
	reminders := appointment.NewReminderService(store, notify.NewRedisNotifier(rdb), appointment.ReminderConfig{
		Lead:     cfg.ReminderLead,
		Interval: cfg.WorkerInterval,
	}, logger)

	runOnce(rootCtx, reminders, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, reminders, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.ReminderService, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.Run(runCtx); err != nil {
		logger.Error().Err(err).Msg("reminder run error")
		return
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("reminder run complete")
}
