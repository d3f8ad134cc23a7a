package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/middleware"
	"github.com/tippic/tippic_server/internal/payments"
	"github.com/tippic/tippic_server/internal/pushauth"
)

// RegisterInternalRoutes wires operator endpoints behind the operator token.
func RegisterInternalRoutes(app *fiber.App, d Deps) {
	ids := identity.NewHandler(d.Identity)
	auth := pushauth.NewHandler(d.PushAuth)
	pay := payments.NewHandler(d.Payments)

	internal := app.Group("/internal", middleware.Operator(d.Cfg.OperatorToken))
	internal.Post("/users/deauth", auth.Deauth)
	internal.Get("/users/unauthed", auth.Unauthed)
	internal.Post("/users/blacklist", ids.Blacklist)
	internal.Get("/transactions/totals", pay.Totals)
}
