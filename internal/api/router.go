package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
)

type RouterConfig struct {
	Handlers  *Handlers
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints are unauthenticated
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := cfg.Handlers
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret))

		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Patch("/appointments/{id}", h.updateStatus)
		r.Post("/appointments/{id}/reschedule", h.reschedule)

		r.Post("/telemedicine/{id}/start", h.startSession)
		r.Post("/telemedicine/{id}/join", h.joinSession)
		r.Post("/telemedicine/{id}/end", h.endSession)

		r.Post("/slots", h.createSlot)
		r.Get("/providers/{id}/slots", h.listProviderSlots)
	})

	return r
}
