package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service      Scheduler
	Tokens       TokenParser
	PgPool       Pinger
	Redis        *redis.Client
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
	RateLimitRPS int
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health and metrics stay outside auth and rate limiting for probes
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
		}
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Get("/slots", slotsHandler(cfg.Service))
		r.Post("/availability/check", checkAvailabilityHandler(cfg.Service))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Service))

		r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))
		r.Post("/patients/{id}/appointments/priority", movePriorityHandler(cfg.Service))
		r.Post("/patients/{id}/appointments/priority/swap", swapPriorityHandler(cfg.Service))
	})

	return r
}
