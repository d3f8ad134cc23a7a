package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const operatorTokenHeader = "X-Operator-Token"

// Operator guards internal endpoints with a shared token. An empty token
// leaves them open, which configuration only allows in development.
func Operator(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		if subtle.ConstantTimeCompare([]byte(c.Get(operatorTokenHeader)), []byte(token)) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "operator token required")
		}
		return c.Next()
	}
}
