package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	userIDHeader = "X-USERID"
	userIDLocal  = "user_id"
)

// UserID reads the client identity header and stores it for handlers.
func UserID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(userIDHeader)
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing or invalid "+userIDHeader+" header")
		}
		c.Locals(userIDLocal, id.String())
		return c.Next()
	}
}
