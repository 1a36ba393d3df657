package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps values in a map and ignores expirations.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	// GIVEN: Redis-backed idempotency on booking creation
	// WHEN: The same request is sent twice with one Idempotency-Key
	// THEN: The second response is the first one replayed and no second PNR is issued

	rdb := newFakeRedis()
	s := newTestServer(t, 5, 0, NewIdempotency(rdb, time.Hour, nil))

	first := s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha"), IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	second := s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha"), IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	var rec idempotencyRecord
	require.NoError(t, json.Unmarshal([]byte(rdb.data[idempotencyKeyPrefix+"k-1"]), &rec))
	assert.Equal(t, idempotencyCompleted, rec.Status)
	assert.Equal(t, http.StatusCreated, rec.ResponseCode)

	// A new key books again.
	third := decode[BookingResponse](t, s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha"), IdempotencyKeyHeader, "k-2"))
	assert.Equal(t, "4000000002", third.PNR)
}

func TestIdempotency_Conflicts(t *testing.T) {
	rdb := newFakeRedis()
	s := newTestServer(t, 5, 0, NewIdempotency(rdb, time.Hour, nil))

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha"), IdempotencyKeyHeader, "k-1").Code)

	rec := s.do(t, http.MethodPost, "/api/bookings", bookingBody("Someone Else"), IdempotencyKeyHeader, "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "key reused with another body")

	body, err := json.Marshal(bookingBody("Ravi"))
	require.NoError(t, err)
	body = append(body, '\n')
	req, _ := http.NewRequest(http.MethodPost, "/api/bookings", nil)
	processing, err := json.Marshal(idempotencyRecord{Status: idempotencyProcessing, RequestHash: requestHash(req, body)})
	require.NoError(t, err)
	rdb.data[idempotencyKeyPrefix+"k-busy"] = string(processing)

	rec = s.do(t, http.MethodPost, "/api/bookings", bookingBody("Ravi"), IdempotencyKeyHeader, "k-busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotency_ClientErrorsAreCached(t *testing.T) {
	rdb := newFakeRedis()
	s := newTestServer(t, 5, 0, NewIdempotency(rdb, time.Hour, nil))

	bad := bookingBody("Asha")
	bad.PaymentMode = "Cheque"
	first := s.do(t, http.MethodPost, "/api/bookings", bad, IdempotencyKeyHeader, "k-bad")
	require.Equal(t, http.StatusBadRequest, first.Code)

	second := s.do(t, http.MethodPost, "/api/bookings", bad, IdempotencyKeyHeader, "k-bad")
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
}

func TestIdempotency_FailsOpen(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	s := newTestServer(t, 5, 0, NewIdempotency(rdb, time.Hour, nil))

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha"), IdempotencyKeyHeader, "k-1")
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Empty(t, rdb.data)
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	rdb := newFakeRedis()
	s := newTestServer(t, 5, 0, NewIdempotency(rdb, time.Hour, nil))

	a := decode[BookingResponse](t, s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha")))
	b := decode[BookingResponse](t, s.do(t, http.MethodPost, "/api/bookings", bookingBody("Asha")))
	assert.NotEqual(t, a.PNR, b.PNR)
	assert.Empty(t, rdb.data)
}
