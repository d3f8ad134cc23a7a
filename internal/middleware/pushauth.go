package middleware

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/metrics"
)

// AuthChecker reports the committed push-auth state of a user.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context, userID string) (bool, error)
}

// PushAuthGate rejects users that have not acked their push token. With
// enforced false it only passes requests through.
func PushAuthGate(checker AuthChecker, enforced bool, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !enforced {
			return c.Next()
		}
		uid, _ := c.Locals(userIDLocal).(string)
		ok, err := checker.IsAuthenticated(c.UserContext(), uid)
		if err != nil {
			return err
		}
		if !ok {
			metrics.ObservePushAuth("rejected_unauthenticated")
			logger.Info("rejected unauthenticated user", zap.String("user_id", uid), zap.String("path", c.Path()))
			return c.Status(http.StatusForbidden).JSON(fiber.Map{"status": "denied", "reason": "auth_failed"})
		}
		return c.Next()
	}
}
