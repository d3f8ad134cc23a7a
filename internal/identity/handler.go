package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/apperr"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	UserID      string `json:"user_id"`
	OS          string `json:"os"`
	DeviceModel string `json:"device_model"`
	DeviceID    string `json:"device_id"`
	TimeZone    string `json:"time_zone"`
	AppVersion  string `json:"app_ver"`
	Token       string `json:"token"`
}

type userResponse struct {
	UserID        string `json:"user_id"`
	State         State  `json:"state"`
	OS            string `json:"os"`
	AppVersion    string `json:"app_ver"`
	WalletAddress string `json:"public_address,omitempty"`
}

func toResponse(u User) userResponse {
	return userResponse{UserID: u.ID, State: u.State(), OS: u.OS, AppVersion: u.AppVersion, WalletAddress: u.WalletAddress}
}

// Register creates or refreshes a client registration.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	user, created, err := h.service.Register(c.UserContext(), Registration{
		UserID:      req.UserID,
		OS:          req.OS,
		DeviceModel: req.DeviceModel,
		DeviceID:    req.DeviceID,
		TimeZone:    req.TimeZone,
		AppVersion:  req.AppVersion,
		PushToken:   req.Token,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"status": "ok", "user": toResponse(user)})
}

// AppLaunch records the client version.
func (h *Handler) AppLaunch(c *fiber.Ctx) error {
	var req struct {
		AppVersion string `json:"app_ver"`
	}
	_ = c.BodyParser(&req)
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.Launch(c.UserContext(), uid, req.AppVersion)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "user": toResponse(user)})
}

// UpdatePhone binds a verified phone number.
func (h *Handler) UpdatePhone(c *fiber.Ctx) error {
	var req struct {
		Phone string `json:"phone_number"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.VerifyPhone(c.UserContext(), uid, req.Phone); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// UpdatePushToken stores the device push token.
func (h *Handler) UpdatePushToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.UpdatePushToken(c.UserContext(), uid, req.Token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Blacklist is an operator endpoint toggling the blacklist flag.
func (h *Handler) Blacklist(c *fiber.Ctx) error {
	var req struct {
		UserID      string `json:"user_id"`
		Blacklisted bool   `json:"blacklisted"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	if err := h.service.SetBlacklisted(c.UserContext(), req.UserID, req.Blacklisted); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
