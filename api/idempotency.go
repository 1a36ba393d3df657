/*
idempotency.go - Idempotent booking requests backed by Redis

PURPOSE:
  A client that times out on POST /api/bookings cannot tell whether a PNR
  was issued. Sending the same Idempotency-Key again replays the first
  response instead of booking twice.

FLOW:
  1. No Idempotency-Key header: pass through
  2. Record exists, different request hash: 422
  3. Record exists, still processing: 409
  4. Record exists, completed: replay status and body
  5. Otherwise SETNX a processing record (short TTL), run the handler,
     then store the completed response (long TTL)

  A 5xx response deletes the record so the client may retry.
  Redis failures fail open: the request runs without the guarantee.

SEE ALSO:
  - server.go: Mounted on POST /api/bookings only
*/
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency cache.
	ReplayedHeader = "Idempotent-Replayed"

	idempotencyKeyPrefix = "seat-engine:idempotency:"
	maxIdempotencyKeyLen = 128
)

type idempotencyStatus string

const (
	idempotencyProcessing idempotencyStatus = "processing"
	idempotencyCompleted  idempotencyStatus = "completed"
)

type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RedisClient is the subset of *redis.Client the middleware uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Idempotency struct {
	Redis RedisClient
	// TTL of completed records.
	TTL time.Duration
	// ProcessingTTL bounds how long a crashed request blocks its key.
	ProcessingTTL time.Duration
	Log           *zap.Logger
}

func NewIdempotency(rdb RedisClient, ttl time.Duration, log *zap.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Idempotency{Redis: rdb, TTL: ttl, ProcessingTTL: time.Minute, Log: log}
}

func (m *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "Idempotency-Key too long", nil)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		redisKey := idempotencyKeyPrefix + key
		hash := requestHash(r, body)

		existing, err := m.get(ctx, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			m.Log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if existing != nil {
			m.respondExisting(w, existing, hash)
			return
		}

		rec := &idempotencyRecord{Status: idempotencyProcessing, RequestHash: hash, CreatedAt: time.Now().UTC()}
		claimed, err := m.setNX(ctx, redisKey, rec)
		if err != nil {
			m.Log.Warn("idempotency claim failed", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			// Lost the race to a concurrent duplicate.
			if existing, _ = m.get(ctx, redisKey); existing != nil {
				m.respondExisting(w, existing, hash)
				return
			}
			writeError(w, http.StatusConflict, "A request with this Idempotency-Key is in progress", nil)
			return
		}

		rw := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		// The handler has finished; store the outcome even if the client left.
		ctx = context.WithoutCancel(ctx)
		if rw.status >= http.StatusInternalServerError {
			if err := m.Redis.Del(ctx, redisKey).Err(); err != nil {
				m.Log.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
			}
			return
		}
		rec.Status = idempotencyCompleted
		rec.ResponseCode = rw.status
		rec.ResponseBody = rw.body.String()
		if err := m.set(ctx, redisKey, rec); err != nil {
			m.Log.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
		}
	})
}

func (m *Idempotency) respondExisting(w http.ResponseWriter, rec *idempotencyRecord, hash string) {
	switch {
	case rec.RequestHash != hash:
		writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key already used with a different request", nil)
	case rec.Status == idempotencyProcessing:
		writeError(w, http.StatusConflict, "A request with this Idempotency-Key is in progress", nil)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(rec.ResponseCode)
		w.Write([]byte(rec.ResponseBody))
	}
}

func (m *Idempotency) get(ctx context.Context, key string) (*idempotencyRecord, error) {
	raw, err := m.Redis.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Idempotency) setNX(ctx context.Context, key string, rec *idempotencyRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return m.Redis.SetNX(ctx, key, string(data), m.ProcessingTTL).Result()
}

func (m *Idempotency) set(ctx context.Context, key string, rec *idempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.Redis.Set(ctx, key, string(data), m.TTL).Err()
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte(r.URL.Path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// capturingWriter tees the response so it can be cached.
type capturingWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
