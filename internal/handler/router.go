package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
)

// RouterConfig carries the cross-cutting pieces of the HTTP stack.
type RouterConfig struct {
	Auth           *Authenticator
	Log            *logger.Logger
	Observer       RequestObserver // optional
	Metrics        http.Handler    // served at /metrics when set
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog(cfg.Log, cfg.Observer))
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Route("/enrollments", func(r chi.Router) {
			r.Use(RequireRole(model.RoleStudent))
			r.Post("/", h.Enroll)
			r.Get("/my", h.ListMyEnrollments)
			r.Delete("/{id}", h.CancelEnrollment)
		})

		r.Route("/offerings", func(r chi.Router) {
			r.Get("/", h.ListOfferings)
			r.Get("/{id}", h.GetOffering)
			r.With(RequireRole(model.RoleInstructor)).Post("/", h.CreateOffering)
			r.With(RequireRole(model.RoleInstructor)).Get("/{id}/stats", h.OfferingStats)
		})
	})

	return r
}
