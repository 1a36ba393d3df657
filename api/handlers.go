/*
handlers.go - HTTP API handlers for the seat reservation engine

PURPOSE:
  Exposes the reservation engine and its query facade via REST API.
  Handles HTTP request/response and JSON serialization, and delegates
  every decision to the reservation package.

ENDPOINTS:
  Bookings:
    POST   /api/bookings               Book passengers on a run
    GET    /api/bookings/{pnr}         Booking projection
    GET    /api/bookings/{pnr}/ticket  E-ticket (PDF)
    POST   /api/cancellations          Cancel a booking or some passengers

  Catalog:
    GET    /api/trains/{number}        Train timetable and classes
    GET    /api/search                 Runs between two stations on a date
    GET    /api/stations               All stations

  Admin:
    POST   /api/admin/runs             Open a run for booking

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert to a domain request (shape validation lives in the domain)
  3. Call the engine or query facade
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Validation errors, missing reason, train not running that day
  - 404: Unknown train, run, class, station or PNR
  - 500: Everything else, including conflicts left after retries.
         Details go to the log, never to the client.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/seat-engine/catalog"
	"github.com/warp/seat-engine/reservation"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *reservation.Engine
	Query  *reservation.Query
	// Store opens runs on the admin endpoint and answers health checks.
	Store catalog.Store
	Log   *zap.Logger
	Clock func() time.Time
}

func NewHandler(engine *reservation.Engine, store catalog.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine: engine,
		Query:  reservation.NewQuery(store),
		Store:  store,
		Log:    log,
		Clock:  time.Now,
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking books passengers.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	domainReq, err := req.toDomain()
	if err != nil {
		h.fail(w, r, "Failed to create booking", err)
		return
	}

	booking, err := h.Engine.Book(r.Context(), domainReq)
	if err != nil {
		h.fail(w, r, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

// GetBooking returns the full booking projection.
// GET /api/bookings/{pnr}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	view, err := h.Query.FindByPnr(r.Context(), chi.URLParam(r, "pnr"))
	if err != nil {
		h.fail(w, r, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(view))
}

// GetTicket renders the booking as a PDF e-ticket.
// GET /api/bookings/{pnr}/ticket
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	view, err := h.Query.FindByPnr(r.Context(), chi.URLParam(r, "pnr"))
	if err != nil {
		h.fail(w, r, "Failed to get booking", err)
		return
	}
	pdf, err := renderTicket(view, h.Clock())
	if err != nil {
		h.fail(w, r, "Failed to render ticket", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="ticket-`+view.Booking.PNR+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// CancelBooking cancels a booking, or the listed passengers of it.
// POST /api/cancellations
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req CancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		res *reservation.CancellationResult
		err error
	)
	if len(req.Passengers) > 0 {
		res, err = h.Engine.CancelPassengers(r.Context(), req.PNR, req.Reason, req.Passengers)
	} else {
		res, err = h.Engine.Cancel(r.Context(), req.PNR, req.Reason)
	}
	if err != nil {
		h.fail(w, r, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toCancellationResponse(res))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// GetTrain returns a train's timetable and classes.
// GET /api/trains/{number}
func (h *Handler) GetTrain(w http.ResponseWriter, r *http.Request) {
	train, err := h.Query.FindTrain(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, "Failed to get train", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrainDTO(train))
}

// SearchRuns lists runs between two stations with per-class availability.
// GET /api/search?source=NDLS&destination=BCT&date=2026-11-02&class=3A
func (h *Handler) SearchRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := reservation.SearchRequest{
		Source:      q.Get("source"),
		Destination: q.Get("destination"),
		Class:       reservation.ClassType(q.Get("class")),
	}
	if s := q.Get("date"); s != "" {
		d, err := reservation.ParseDate(s)
		if err != nil {
			h.fail(w, r, "Failed to search", err)
			return
		}
		req.Date = d
	}

	runs, err := h.Query.SearchRuns(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to search", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, ra := range runs {
		dtos[i] = toRunDTO(ra)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListStations returns all stations.
// GET /api/stations
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.Query.Stations(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list stations", err)
		return
	}
	dtos := make([]StationDTO, len(stations))
	for i, s := range stations {
		dtos[i] = toStationDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// OpenRun opens a run for booking. Opening an existing run is a no-op.
// POST /api/admin/runs
func (h *Handler) OpenRun(w http.ResponseWriter, r *http.Request) {
	var req OpenRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := reservation.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, "Failed to open run", err)
		return
	}

	created, err := catalog.OpenRun(r.Context(), h.Store, req.TrainNumber, date)
	if err != nil {
		h.fail(w, r, "Failed to open run", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.Log.Info("run opened", zap.String("train", req.TrainNumber), zap.Stringer("date", date))
	}
	writeJSON(w, status, OpenRunResponse{TrainNumber: req.TrainNumber, Date: date.String(), Created: created})
}

// Health reports liveness and, for SQL stores, database reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.Log.Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// fail maps a domain error onto a status code. Server-side errors are logged
// and answered with the message only.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case reservation.IsClientError(err), errors.Is(err, catalog.ErrNotRunning):
		writeError(w, http.StatusBadRequest, message, err)
	case reservation.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.Log.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
