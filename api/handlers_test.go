package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-engine/catalog"
	"github.com/warp/seat-engine/reservation"
	"github.com/warp/seat-engine/reservation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCatalog = `{
  "stations": [
    {"code": "NDLS", "name": "New Delhi", "city": "Delhi"},
    {"code": "BCT", "name": "Mumbai Central", "city": "Mumbai"}
  ],
  "trains": [{
    "number": "12951", "name": "Mumbai Rajdhani", "type": "Rajdhani",
    "stops": [
      {"station": "NDLS", "departure": "16:55", "distance_km": 0},
      {"station": "BCT", "arrival": "08:35", "day": 1, "distance_km": 1386}
    ],
    "classes": [
      {"class": "3A", "base_fare": "1000", "total_seats": %d, "rac_capacity": %d, "seats_per_coach": 1, "coach_prefix": "B"}
    ]
  }]
}`

var (
	serviceDate = reservation.NewDate(2026, time.November, 2)
	now         = time.Date(2026, time.October, 20, 10, 0, 0, 0, time.UTC)
)

type testServer struct {
	router http.Handler
	store  *store.Memory
}

func newTestServer(t *testing.T, seats, rac int, idem *Idempotency) *testServer {
	t.Helper()
	ctx := context.Background()

	c, err := catalog.Parse([]byte(fmt.Sprintf(testCatalog, seats, rac)))
	require.NoError(t, err)
	m := store.NewMemory()
	require.NoError(t, catalog.Seed(ctx, m, c))
	created, err := catalog.OpenRun(ctx, m, "12951", serviceDate)
	require.NoError(t, err)
	require.True(t, created)

	var n atomic.Int64
	engine := reservation.NewEngine(m,
		reservation.WithClock(func() time.Time { return now }),
		reservation.WithPNRGenerator(func() (string, error) {
			return fmt.Sprintf("%d", 4000000000+n.Add(1)), nil
		}),
	)
	h := NewHandler(engine, m, nil)
	h.Clock = func() time.Time { return now }

	return &testServer{router: NewRouter(h, RouterOptions{Idempotency: idem}), store: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookingBody(names ...string) BookingRequest {
	req := BookingRequest{
		TrainNumber: "12951",
		Date:        serviceDate.String(),
		ClassType:   "3A",
		PaymentMode: "Online",
	}
	for _, name := range names {
		req.PassengerDetails = append(req.PassengerDetails, PassengerRequest{Name: name, Age: 34, Gender: "Female"})
	}
	return req
}

func (s *testServer) book(t *testing.T, names ...string) BookingResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/bookings", bookingBody(names...))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BookingResponse](t, rec)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestCreateBooking_AndLookup(t *testing.T) {
	s := newTestServer(t, 2, 1, nil)

	body := bookingBody("Asha", "Ravi")
	body.Contact = &ContactDTO{Name: "Asha", Email: "asha@example.com"}
	body.PassengerDetails[1].ConcessionType = "Senior Citizen"
	rec := s.do(t, http.MethodPost, "/api/bookings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[BookingResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "4000000001", resp.PNR)
	assert.Equal(t, "CONFIRMED", resp.Status)
	assert.Equal(t, "1600.00", resp.TotalFare)
	require.Len(t, resp.Passengers, 2)
	assert.Equal(t, PassengerStatusDTO{Name: "Asha", Status: "CONFIRMED", SeatNumber: 1, CoachNumber: "B1", Fare: "1000.00"}, resp.Passengers[0])
	assert.Equal(t, "B2", resp.Passengers[1].CoachNumber)
	assert.Equal(t, "600.00", resp.Passengers[1].Fare)

	rec = s.do(t, http.MethodGet, "/api/bookings/"+resp.PNR, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[BookingDTO](t, rec)
	assert.Equal(t, "Mumbai Rajdhani", view.TrainName)
	assert.Equal(t, "NDLS", view.From.Code)
	assert.Equal(t, "BCT", view.To.Code)
	assert.Equal(t, "2026-11-02T16:55:00Z", view.DepartsAt)
	assert.Equal(t, "2026-11-03T08:35:00Z", view.ArrivesAt)
	assert.Equal(t, "B1/1", view.Passengers[0].Assignment)
	assert.Equal(t, "Senior Citizen", view.Passengers[1].ConcessionType)
	require.NotNil(t, view.Contact)
	assert.Equal(t, "asha@example.com", view.Contact.Email)
	assert.Nil(t, view.Cancellation)
}

func TestCreateBooking_Errors(t *testing.T) {
	s := newTestServer(t, 2, 1, nil)

	noPayment := bookingBody("Asha")
	noPayment.PaymentMode = ""
	badDate := bookingBody("Asha")
	badDate.Date = "02/11/2026"
	badClass := bookingBody("Asha")
	badClass.ClassType = "ZZ"
	unknownTrain := bookingBody("Asha")
	unknownTrain.TrainNumber = "99999"
	noRun := bookingBody("Asha")
	noRun.Date = "2026-12-25"
	tooMany := bookingBody("a", "b", "c", "d", "e", "f", "g")
	noClass := bookingBody("Asha")
	noClass.ClassType = "SL"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", `{"trainNumber":`, http.StatusBadRequest},
		{"missing payment mode", noPayment, http.StatusBadRequest},
		{"bad date", badDate, http.StatusBadRequest},
		{"unknown class code", badClass, http.StatusBadRequest},
		{"too many passengers", tooMany, http.StatusBadRequest},
		{"no passengers", bookingBody(), http.StatusBadRequest},
		{"unknown train", unknownTrain, http.StatusNotFound},
		{"run not opened", noRun, http.StatusNotFound},
		{"class not on train", noClass, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/bookings", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	// No rejected request touched the inventory.
	require.NoError(t, s.store.Read(context.Background(), func(r reservation.Reader) error {
		inv, err := r.Inventory(context.Background(), reservation.InventoryKey{TrainNumber: "12951", Date: serviceDate, Class: reservation.Class3A})
		require.NoError(t, err)
		assert.Zero(t, inv.Occupancy())
		return nil
	}))
}

func TestGetBooking_NotFound(t *testing.T) {
	s := newTestServer(t, 1, 0, nil)
	rec := s.do(t, http.MethodGet, "/api/bookings/1234567890", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTicket(t *testing.T) {
	s := newTestServer(t, 1, 1, nil)
	pnr := s.book(t, "Asha", "Ravi").PNR

	rec := s.do(t, http.MethodGet, "/api/bookings/"+pnr+"/ticket", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), pnr)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = s.do(t, http.MethodGet, "/api/bookings/0000000000/ticket", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CANCELLATIONS
// =============================================================================

func TestCancellation_PromotesQueue(t *testing.T) {
	// GIVEN: 1 seat and 1 RAC slot, bookings A, B, C of one passenger each
	// WHEN: A is cancelled
	// THEN: B moves from RAC to the seat and C from the waitlist to RAC

	s := newTestServer(t, 1, 1, nil)
	a, b, c := s.book(t, "A"), s.book(t, "B"), s.book(t, "C")
	assert.Equal(t, "CONFIRMED", a.Passengers[0].Status)
	assert.Equal(t, 1, b.Passengers[0].RACNumber)
	assert.Equal(t, 1, c.Passengers[0].WaitlistNumber)
	assert.Equal(t, "WAITING", c.Status)

	rec := s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: a.PNR, Reason: "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CancellationResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Equal(t, "100.00", resp.CancellationCharge)
	assert.Equal(t, "900.00", resp.RefundAmount)
	assert.Equal(t, "Booking cancelled successfully", resp.Message)
	require.Len(t, resp.Promotions, 2)
	assert.Equal(t, PromotionDTO{PNR: b.PNR, Name: "B", From: "RAC", To: "CONFIRMED", Assignment: "B1/1"}, resp.Promotions[0])
	assert.Equal(t, PromotionDTO{PNR: c.PNR, Name: "C", From: "WAITLISTED", To: "RAC", Assignment: "RAC 1"}, resp.Promotions[1])

	view := decode[BookingDTO](t, s.do(t, http.MethodGet, "/api/bookings/"+b.PNR, nil))
	assert.Equal(t, "CONFIRMED", view.Status)
	assert.Equal(t, "B1", view.Passengers[0].CoachNumber)

	view = decode[BookingDTO](t, s.do(t, http.MethodGet, "/api/bookings/"+a.PNR, nil))
	require.NotNil(t, view.Cancellation)
	assert.Equal(t, "plans changed", view.Cancellation.Reason)
}

func TestCancellation_Repeat(t *testing.T) {
	s := newTestServer(t, 1, 1, nil)
	pnr := s.book(t, "A").PNR

	first := decode[CancellationResponse](t, s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: pnr, Reason: "ill"}))
	rec := s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: pnr, Reason: "ill"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[CancellationResponse](t, rec)

	assert.Equal(t, first.CancellationCharge, second.CancellationCharge)
	assert.Equal(t, first.RefundAmount, second.RefundAmount)
	assert.Equal(t, first.CancelledAt, second.CancelledAt)
	assert.Equal(t, "Booking was already cancelled", second.Message)
	assert.Empty(t, second.Promotions)
}

func TestCancellation_Partial(t *testing.T) {
	s := newTestServer(t, 2, 0, nil)
	pnr := s.book(t, "A", "B").PNR

	rec := s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: pnr, Reason: "one stays", Passengers: []int{2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CancellationResponse](t, rec)
	assert.Equal(t, "CONFIRMED", resp.Status)
	assert.Equal(t, "Passengers cancelled successfully", resp.Message)
	assert.Equal(t, "100.00", resp.CancellationCharge)

	view := decode[BookingDTO](t, s.do(t, http.MethodGet, "/api/bookings/"+pnr, nil))
	assert.Equal(t, "CONFIRMED", view.Passengers[0].Status)
	assert.Equal(t, "CANCELLED", view.Passengers[1].Status)
}

func TestCancellation_Errors(t *testing.T) {
	s := newTestServer(t, 1, 0, nil)
	pnr := s.book(t, "A").PNR

	rec := s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: pnr})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason required")

	rec = s.do(t, http.MethodPost, "/api/cancellations", CancellationRequest{PNR: "1111111111", Reason: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/cancellations", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestSearchRuns(t *testing.T) {
	s := newTestServer(t, 3, 1, nil)
	s.book(t, "A")

	rec := s.do(t, http.MethodGet, "/api/search?source=ndls&destination=BCT&date=2026-11-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runs := decode[[]RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "12951", runs[0].TrainNumber)
	assert.Equal(t, "15h40m0s", runs[0].Duration)
	assert.Equal(t, 1386, runs[0].DistanceKm)
	assert.Equal(t, []ClassAvailabilityDTO{{ClassType: "3A", Fare: "1000.00", AvailableSeats: 2, RACSeats: 1}}, runs[0].Classes)

	rec = s.do(t, http.MethodGet, "/api/search?source=NDLS&destination=BCT&date=2026-11-09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RunDTO](t, rec), "run not opened")

	rec = s.do(t, http.MethodGet, "/api/search?source=NDLS&destination=NDLS&date=2026-11-02", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/search?source=NDLS&destination=XXX&date=2026-11-02", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTrainAndStations(t *testing.T) {
	s := newTestServer(t, 1, 0, nil)

	rec := s.do(t, http.MethodGet, "/api/trains/12951", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	train := decode[TrainDTO](t, rec)
	assert.Equal(t, []string{"Daily"}, train.RunsOn)
	require.Len(t, train.Stops, 2)
	assert.Equal(t, 1, train.Stops[1].Day)
	assert.Equal(t, "1000.00", train.Classes[0].BaseFare)

	rec = s.do(t, http.MethodGet, "/api/trains/99999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/stations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]StationDTO](t, rec), 2)
}

func TestOpenRun(t *testing.T) {
	s := newTestServer(t, 1, 0, nil)

	rec := s.do(t, http.MethodPost, "/api/admin/runs", OpenRunRequest{TrainNumber: "12951", Date: "2026-11-03"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[OpenRunResponse](t, rec).Created)

	rec = s.do(t, http.MethodPost, "/api/admin/runs", OpenRunRequest{TrainNumber: "12951", Date: "2026-11-03"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[OpenRunResponse](t, rec).Created)

	rec = s.do(t, http.MethodPost, "/api/admin/runs", OpenRunRequest{TrainNumber: "12951", Date: "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/runs", OpenRunRequest{TrainNumber: "99999", Date: "2026-11-03"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := bookingBody("A")
	body.Date = "2026-11-03"
	rec = s.do(t, http.MethodPost, "/api/bookings", body)
	assert.Equal(t, http.StatusCreated, rec.Code, "new run is bookable")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 1, 0, nil)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
