package onboarding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/apperr"
)

// Handler exposes the onboarding endpoint.
type Handler struct {
	coord *Coordinator
}

// NewHandler constructs an onboarding HTTP handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// Onboard creates the user's account and issues the first reward.
func (h *Handler) Onboard(c *fiber.Ctx) error {
	var req struct {
		PublicAddress string `json:"public_address"`
	}
	if err := c.BodyParser(&req); err != nil || req.PublicAddress == "" {
		return apperr.Validation("bad_request", "public_address is required")
	}
	uid, _ := c.Locals("user_id").(string)

	out, err := h.coord.Onboard(c.UserContext(), uid, req.PublicAddress)
	if err != nil {
		return err
	}
	return c.Status(statusFor(out.Result)).JSON(fiber.Map{
		"status":   out.Result,
		"reason":   out.Reason,
		"rewarded": out.Rewarded,
		"tx_hash":  out.TxHash,
	})
}

func statusFor(r Result) int {
	switch r {
	case ResultOK:
		return http.StatusOK
	case ResultAlreadyRewarded:
		return http.StatusConflict
	case ResultDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
