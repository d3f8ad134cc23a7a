package middleware

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
)

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders errors as {"status":"error","reason":...}. Internal
// details of transient and invariant failures are not exposed.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		reason := "internal_error"

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			reason = fe.Message
		case apperr.KindOf(err) == apperr.KindConflict, apperr.KindOf(err) == apperr.KindValidation:
			reason = apperr.CodeOf(err)
		case apperr.IsTransient(err):
			reason = "try_again_later"
		}
		if status >= http.StatusInternalServerError && !apperr.IsTransient(err) {
			logger.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err), zap.Bool("invariant", apperr.IsInvariant(err)))
		}
		return c.Status(status).JSON(fiber.Map{"status": "error", "reason": reason})
	}
}
