package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/middleware"
	"github.com/tippic/tippic_server/internal/onboarding"
	"github.com/tippic/tippic_server/internal/payments"
	"github.com/tippic/tippic_server/internal/pushauth"
)

// RegisterUserRoutes wires the client-facing endpoints. Every route requires
// the user id header; value-moving routes also pass the push-auth gate.
func RegisterUserRoutes(app *fiber.App, d Deps) {
	ids := identity.NewHandler(d.Identity)
	onboard := onboarding.NewHandler(d.Onboarding)
	auth := pushauth.NewHandler(d.PushAuth)
	pay := payments.NewHandler(d.Payments)

	user := app.Group("/user", middleware.UserID(), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	gate := middleware.PushAuthGate(d.PushAuth, d.Cfg.PushAuth.Enforced, d.Logger)

	user.Post("/register", ids.Register)
	user.Post("/app-launch", func(c *fiber.Ctx) error {
		// token delivery rides on launch; a failure only delays it
		uid, _ := c.Locals("user_id").(string)
		if _, err := d.PushAuth.Send(c.UserContext(), uid); err != nil {
			d.Logger.Warn("push token send failed", zap.String("user_id", uid), zap.Error(err))
		}
		return c.Next()
	}, ids.AppLaunch)
	user.Post("/phone", ids.UpdatePhone)
	user.Post("/push/update-token", ids.UpdatePushToken)
	user.Post("/auth/ack", middleware.AckRateLimit(d.Cache, d.Cfg.PushAuth.AckRateLimitMin, d.Logger), auth.Ack)

	user.Post("/onboard", gate, onboard.Onboard)
	user.Post("/transaction/report", gate, pay.Report)
	user.Get("/transactions", pay.List)
	user.Get("/transactions/incoming", pay.IncomingTips)
}
