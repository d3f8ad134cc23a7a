package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/middleware"
	"github.com/tippic/tippic_server/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, svc *Services, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Rewards.SubmitTimeout + 10*time.Second,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	routes.Setup(app, routes.Deps{
		Cfg:        cfg,
		DB:         db,
		Cache:      cache,
		Logger:     logger,
		Identity:   svc.Identity,
		Onboarding: svc.Onboarding,
		PushAuth:   svc.PushAuth,
		Payments:   svc.Payments,
		Correlator: svc.Correlator,
		Payouts:    svc.Payouts,
	})

	return &Server{app: app, cfg: cfg}
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
