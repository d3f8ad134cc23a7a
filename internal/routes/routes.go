package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/metrics"
	"github.com/tippic/tippic_server/internal/middleware"
	"github.com/tippic/tippic_server/internal/onboarding"
	"github.com/tippic/tippic_server/internal/payments"
	"github.com/tippic/tippic_server/internal/pushauth"
	"github.com/tippic/tippic_server/internal/settlement"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *zap.Logger

	Identity   *identity.Service
	Onboarding *onboarding.Coordinator
	PushAuth   *pushauth.Service
	Payments   *payments.Service
	Correlator *settlement.Correlator
	Payouts    *settlement.Payouts
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(metrics.Middleware())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	app.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterSettlementRoutes(app, settlement.NewHandler(d.Correlator, d.Payouts, d.Logger), d.Cfg.OperatorToken)
	RegisterUserRoutes(app, d)
	RegisterInternalRoutes(app, d)
}
