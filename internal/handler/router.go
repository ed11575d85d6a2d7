package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter builds the API router with its middleware stack.
func NewRouter(h *TicketHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)

	// Health
	r.Get("/health", HealthCheck)

	// API routes
	r.Route("/registrations", func(r chi.Router) {
		r.Post("/", h.CreateRegistration)
		r.Get("/", h.ListRegistrations)
		r.Get("/{id}", h.GetRegistration)
		r.Get("/{id}/qr.png", h.RegistrationQR)
	})
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/verify", h.VerifyTicket)
		r.Post("/checkin", h.CheckIn)
	})
	r.Get("/stats", h.Stats)
	r.Get("/identifiers", h.ListIdentifiers)
	r.Get("/reconciliation", h.Reconciliation)

	return r
}
