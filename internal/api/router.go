package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/api/middleware"
	"github.com/eldtechnologies/supportbot/internal/handlers"
)

// maxBodyBytes bounds admin request bodies; email tasks carry attachments.
const maxBodyBytes = 1 << 20

// NewRouter creates and configures the HTTP router. limiter may be nil
// when no Redis server is configured.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, limiter *middleware.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	// The chat widget is embedded on merchant sites.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/ws", h.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.Root)
		r.Get("/stats", h.Stats)
		r.Get("/conversations", h.Conversations)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.LaunchTask)
		r.Get("/tasks/{id}/progress", h.TaskProgress)
		r.Delete("/tasks/{id}", h.CancelTask)

		r.Get("/scheduled-tasks", h.ListScheduledTasks)
		r.Post("/scheduled-tasks", h.ScheduleTask)
		r.Delete("/scheduled-tasks/{id}", h.CancelScheduledTask)
	})

	return r
}
