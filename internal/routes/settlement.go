package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/middleware"
	"github.com/tippic/tippic_server/internal/settlement"
)

// RegisterSettlementRoutes wires the payment network callback and the
// operator payout endpoint. The callback sender shares the operator token.
func RegisterSettlementRoutes(app *fiber.App, h *settlement.Handler, operatorToken string) {
	app.Post("/payments/callback", middleware.Operator(operatorToken), h.Callback)
	app.Post("/internal/payouts", middleware.Operator(operatorToken), h.Payout)
}
