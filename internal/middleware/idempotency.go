package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	pendingMarker        = "pending"
	maxIdempotencyKey    = 128
	replayStoreTimeout   = 2 * time.Second
)

// replay is the response captured for a key.
type replay struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

type replayStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func (s replayStore) key(userID, key string) string {
	return idempotencyPrefix + userID + ":" + key
}

// claim returns a stored replay, or reserves the key when it is unused.
func (s replayStore) claim(ctx context.Context, key string) (*replay, error) {
	ok, err := s.cache.SetNX(ctx, key, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, apperr.Transient("reserve idempotency key", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.cache.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls; let the client retry
		return nil, apperr.Conflict("request_in_flight", "idempotency key released concurrently")
	case err != nil:
		return nil, apperr.Transient("read idempotency key", err)
	case string(raw) == pendingMarker:
		return nil, apperr.Conflict("request_in_flight", "a request with this key is still running")
	}

	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, apperr.Invariant("decode stored response", err)
	}
	return &r, nil
}

func (s replayStore) commit(key string, r replay) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), replayStoreTimeout)
	defer cancel()
	return s.cache.Set(ctx, key, payload, s.ttl).Err()
}

func (s replayStore) forget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayStoreTimeout)
	defer cancel()
	s.cache.Del(ctx, key)
}

// Idempotency replays the first response to a mutating user request that
// carries an Idempotency-Key header. Keys are scoped to the X-USERID caller.
// Without the header, or without a cache, requests pass straight through.
// Errors and 5xx responses are not stored so that retries re-run.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *zap.Logger) fiber.Handler {
	store := replayStore{cache: cache, ttl: ttl}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		key := c.Get(idempotencyKeyHeader)
		if key == "" || cache == nil {
			return c.Next()
		}
		if len(key) > maxIdempotencyKey {
			return apperr.Validation("invalid_idempotency_key", "Idempotency-Key too long")
		}

		uid, _ := c.Locals(userIDLocal).(string)
		cacheKey := store.key(uid, key)

		ctx, cancel := context.WithTimeout(c.UserContext(), replayStoreTimeout)
		prior, err := store.claim(ctx, cacheKey)
		cancel()
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.ContentType != "" {
				c.Set(fiber.HeaderContentType, prior.ContentType)
			}
			c.Set("Idempotent-Replay", "true")
			return c.Status(prior.Status).Send(prior.Body)
		}

		if err := c.Next(); err != nil {
			store.forget(cacheKey)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			store.forget(cacheKey)
			return nil
		}
		r := replay{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := store.commit(cacheKey, r); err != nil {
			logger.Warn("store idempotent response", zap.String("user_id", uid), zap.String("key", key), zap.Error(err))
			store.forget(cacheKey)
		}
		return nil
	}
}
