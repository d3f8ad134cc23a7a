package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AckRateLimit limits token ack attempts per user (or IP without a user id)
// using a Redis counter per minute.
func AckRateLimit(cache *redis.Client, maxPerMin int, logger *zap.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject, _ := c.Locals(userIDLocal).(string)
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:ack:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			// fail open: a cache outage must not lock users out
			logger.Warn("rate limit counter unavailable", zap.Error(err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}
