package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oakmed/clinic-booking/internal/booking"
)

type RouterConfig struct {
	Coordinator  *booking.Coordinator
	Availability *booking.Availability
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if cfg.PgPool != nil && cfg.Redis != nil {
		health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/slots", func(r chi.Router) {
			r.Post("/", createSlotHandler(cfg.Coordinator))
			r.Get("/", listSlotsHandler(cfg.Availability))
			r.Delete("/{id}", retireSlotHandler(cfg.Coordinator))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/book", bookAppointmentHandler(cfg.Coordinator))
			r.Get("/{id}", getAppointmentHandler(cfg.Coordinator))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Coordinator))
			r.Post("/{id}/confirm", transitionHandler(cfg.Coordinator.Confirm))
			r.Post("/{id}/complete", transitionHandler(cfg.Coordinator.Complete))
			r.Post("/{id}/no-show", transitionHandler(cfg.Coordinator.MarkNoShow))
		})

		r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Coordinator))
		r.Get("/doctors/{id}/appointments", listDoctorAppointmentsHandler(cfg.Coordinator))
	})

	return r
}
