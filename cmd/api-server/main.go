package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/api"
	"github.com/caretide/clinic-ops/internal/appointment"
	"github.com/caretide/clinic-ops/internal/clinic"
	"github.com/caretide/clinic-ops/internal/config"
	"github.com/caretide/clinic-ops/internal/db"
	"github.com/caretide/clinic-ops/internal/notify"
	"github.com/caretide/clinic-ops/internal/payment"
	redisclient "github.com/caretide/clinic-ops/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	if cfg.Env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		logger.Fatal().Err(err).Msg("migration error")
	}
	logger.Info().Msg("schema migrations applied")

	// Redis only carries notifications; start degraded without it.
	var notifier notify.Notifier = notify.Noop{}
	rdb, err := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, notifications disabled")
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		notifier = notify.NewRedisNotifier(rdb)
		logger.Info().Msg("connected to Redis")
	}

	var payments payment.Processor = payment.Noop{}
	if cfg.StripeKey != "" {
		payments = payment.NewStripeProcessor(cfg.StripeKey)
		logger.Info().Msg("stripe payment capture enabled")
	}

	store := appointment.NewPgStore(pgPool)
	directory := clinic.NewPgDirectory(pgPool)

	booking := appointment.NewBookingService(store, directory, payments, notifier, appointment.BookingConfig{
		ConsultationFee: cfg.ConsultationFee,
		DefaultSlotLen:  cfg.DefaultSlotLen,
	}, logger)
	lifecycle := appointment.NewLifecycleService(store, payments, notifier, appointment.LifecycleConfig{
		LateAfter:  cfg.LateAfter,
		LateCutoff: cfg.LateCutoff,
	}, logger)
	telemedicine := appointment.NewTelemedicineService(store, payments, notifier, "", logger)

	handlers := api.NewHandlers(booking, lifecycle, telemedicine, store, cfg.DefaultSlotLen, cfg.Env)
	router := api.NewRouter(api.RouterConfig{
		Handlers:  handlers,
		PgPool:    pgPool,
		Redis:     rdb,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}
