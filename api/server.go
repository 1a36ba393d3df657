/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request, echoed in logs
  2. RealIP:         Client address from proxy headers
  3. RequestLogger:  zap request log
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for frontends
  6. Idempotency:    POST /api/bookings only, when Redis is configured

ROUTE GROUPS:
  /api/bookings/*       Booking, lookup, e-ticket
  /api/cancellations    Cancellation
  /api/trains/*         Timetables
  /api/search           Availability search
  /api/stations         Stations
  /api/admin/*          Run management
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. Put the admin group behind a gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - idempotency.go: Idempotency-Key handling
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Idempotency guards booking creation. Nil disables it.
	Idempotency *Idempotency
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{ReplayedHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			if opts.Idempotency != nil {
				r.With(opts.Idempotency.Middleware).Post("/", h.CreateBooking)
			} else {
				r.Post("/", h.CreateBooking)
			}
			r.Get("/{pnr}", h.GetBooking)
			r.Get("/{pnr}/ticket", h.GetTicket)
		})

		r.Post("/cancellations", h.CancelBooking)

		// Catalog routes
		r.Get("/trains/{number}", h.GetTrain)
		r.Get("/search", h.SearchRuns)
		r.Get("/stations", h.ListStations)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/runs", h.OpenRun)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
