package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/logging"
)

type stubChecker map[string]bool

func (s stubChecker) IsAuthenticated(_ context.Context, id string) (bool, error) {
	return s[id], nil
}

func TestUserIDRejectsMissingHeader(t *testing.T) {
	app := fiber.New()
	app.Use(UserID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(c.Locals(userIDLocal).(string)) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(userIDHeader, testUser)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestPushAuthGate(t *testing.T) {
	newApp := func(enforced bool) *fiber.App {
		app := fiber.New()
		app.Use(UserID())
		app.Use(PushAuthGate(stubChecker{testUser: false}, enforced, logging.Discard()))
		app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
		return app
	}
	for enforced, want := range map[bool]int{true: fiber.StatusForbidden, false: fiber.StatusNoContent} {
		r := httptest.NewRequest(fiber.MethodGet, "/", nil)
		r.Header.Set(userIDHeader, testUser)
		resp, err := newApp(enforced).Test(r)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode)
	}
}

func TestErrorHandlerMapsKinds(t *testing.T) {
	cases := map[error]int{
		apperr.Validation("wrong_token", "x"):           fiber.StatusBadRequest,
		apperr.Conflict("lock_busy", "x"):               fiber.StatusConflict,
		apperr.Transient("db", errors.New("down")):      fiber.StatusServiceUnavailable,
		apperr.Invariant("dup", errors.New("two rows")): fiber.StatusInternalServerError,
		fiber.NewError(fiber.StatusTeapot, "tea"):       fiber.StatusTeapot,
	}
	for in, want := range cases {
		app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
		failure := in
		app.Get("/", func(c *fiber.Ctx) error { return failure })
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, in.Error())
	}
}

func TestOperatorToken(t *testing.T) {
	app := fiber.New()
	app.Get("/internal", Operator("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/internal", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/internal", nil)
	req.Header.Set(operatorTokenHeader, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
