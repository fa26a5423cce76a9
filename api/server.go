/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Structured request logging (slog)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the frontend

ROUTE GROUPS:
  /health/*             Liveness and readiness probes
  /api/appointments/*   Booking and appointment lifecycle
  /api/patients/*       Wallet
  /api/reports/*        Financial reports
  /api/admin/*          Ledger audit

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries everything NewRouter wires.
type RouterConfig struct {
	Handler     *Handler
	Health      *HealthHandler
	CORSOrigins []string
	Log         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := cfg.Handler
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.BookAppointment)
			r.Get("/{id}", h.GetAppointment)
			r.Patch("/{id}/status", h.UpdateAppointmentStatus)
		})

		r.Route("/patients/{id}/wallet", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Post("/top-up", h.TopUpWallet)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/patients/{id}", h.PatientReport)
			r.Get("/doctors/{id}", h.DoctorReport)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", h.RunAudit)
			r.Get("/audit/last", h.LastAudit)
		})
	})

	return r
}
