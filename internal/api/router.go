package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/engine"
)

type RouterConfig struct {
	Engine *engine.Engine
	Health *HealthHandler
	Logger zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.StripSlashes)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	// Health endpoints
	health := cfg.Health
	if health == nil {
		health = NewHealthHandler("", "")
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	e := cfg.Engine

	r.Route("/schedule", func(r chi.Router) {
		r.Post("/", createScheduleHandler(e.Availability))
		r.Get("/", listSchedulesHandler(e.Availability))
		r.Get("/{id}", getScheduleHandler(e.Availability))
		r.Put("/{id}", updateScheduleHandler(e.Availability))
		r.Delete("/{id}", deleteScheduleHandler(e.Availability))
		r.Post("/{id}/availability", addAvailabilityHandler(e.Availability))
		r.Delete("/{id}/availability/{availabilityId}", removeAvailabilityHandler(e.Availability))
	})

	r.Route("/schedule_exceptions", func(r chi.Router) {
		r.Post("/", createExceptionHandler(e.Availability))
		r.Get("/", listExceptionsHandler(e.Availability))
		r.Delete("/{id}", deleteExceptionHandler(e.Availability))
	})

	r.Route("/slots", func(r chi.Router) {
		r.Post("/get_slots_for_day", slotsForDayHandler(e.Slots))
		r.Post("/availability_stats", availabilityStatsHandler(e.Slots))
		r.Post("/{slotId}/create_appointment", createAppointmentHandler(e.Appointments))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(e.Appointments, e.Availability.Location()))
		r.Get("/{id}", getAppointmentHandler(e.Appointments))
		r.Put("/{id}", updateAppointmentHandler(e.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(e.Appointments))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(e.Appointments))
		r.Post("/{id}/generate_token", generateTokenHandler(e.Tokens))
	})

	r.Route("/token_queue", func(r chi.Router) {
		r.Post("/", createQueueHandler(e.Tokens))
		r.Get("/", listQueuesHandler(e.Tokens))
		r.Get("/{id}", getQueueHandler(e.Tokens))
		r.Post("/{id}/close", closeQueueHandler(e.Tokens))
		r.Post("/{id}/set_primary", setPrimaryQueueHandler(e.Tokens))
		r.Post("/{id}/issue_token", issueTokenHandler(e.Tokens))
		r.Get("/{id}/board", queueBoardHandler(e.Tokens))
	})

	r.Route("/token_category", func(r chi.Router) {
		r.Post("/", createCategoryHandler(e.Tokens))
		r.Get("/", listCategoriesHandler(e.Tokens))
	})

	r.Route("/tokens", func(r chi.Router) {
		r.Get("/", listTokensHandler(e.Tokens))
		r.Get("/{id}", getTokenHandler(e.Tokens))
		r.Put("/{id}", updateTokenHandler(e.Tokens))
	})

	return r
}
