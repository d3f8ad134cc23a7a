package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFor(err)
		}
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}
		if uid, _ := c.Locals(userIDLocal).(string); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request completed", append(fields, zap.Error(err))...)
		case err != nil:
			logger.Info("request completed", append(fields, zap.Error(err))...)
		default:
			logger.Info("request completed", fields...)
		}
		return err
	}
}
