package pushauth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/apperr"
)

// Handler exposes push-auth endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a push-auth HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Ack is called by clients with the token they received by push.
func (h *Handler) Ack(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.Ack(c.UserContext(), uid, req.Token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Deauth is an operator endpoint revoking authentication for the listed users.
func (h *Handler) Deauth(c *fiber.Ctx) error {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	n, err := h.service.Deauthenticate(c.UserContext(), req.UserIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "deauthenticated": n})
}

// Unauthed is an operator endpoint listing users that never acked their token.
func (h *Handler) Unauthed(c *fiber.Ctx) error {
	ids, err := h.service.Unauthenticated(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "user_ids": ids})
}
