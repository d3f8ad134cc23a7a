package payments

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/ledger"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type reportRequest struct {
	TxHash    string `json:"tx_hash"`
	ToAddress string `json:"to_address"`
	Amount    int64  `json:"amount"`
	Type      string `json:"type"`
	ItemID    string `json:"id"`
}

type entryResponse struct {
	TxHash       string    `json:"tx_hash"`
	Counterparty string    `json:"counterparty"`
	Amount       int64     `json:"amount"`
	Type         string    `json:"type"`
	ItemID       string    `json:"item_id,omitempty"`
	Date         time.Time `json:"date"`
}

func toResponses(entries []ledger.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			TxHash:       e.TxHash,
			Counterparty: e.Counterparty,
			Amount:       e.Amount,
			Type:         string(e.Purpose),
			ItemID:       e.ItemID,
			Date:         e.SettledAt,
		})
	}
	return out
}

// Report records a transaction the client sent on its own.
func (h *Handler) Report(c *fiber.Ctx) error {
	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("bad_request", err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	outcome, err := h.service.Report(c.UserContext(), ReportInput{
		TxHash:     req.TxHash,
		IdentityID: uid,
		ToAddress:  req.ToAddress,
		Amount:     req.Amount,
		Purpose:    ledger.Purpose(req.Type),
		ItemID:     req.ItemID,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if outcome == ledger.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"status": "ok", "outcome": outcome.String()})
}

// List returns the caller's transactions.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	entries, err := h.service.List(c.UserContext(), uid, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "txs": toResponses(entries)})
}

// IncomingTips returns tips other users sent to the caller.
func (h *Handler) IncomingTips(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	entries, err := h.service.IncomingTips(c.UserContext(), uid, c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "txs": toResponses(entries)})
}

// Totals is an operator endpoint reporting aggregate flows.
func (h *Handler) Totals(c *fiber.Ctx) error {
	t, err := h.service.Totals(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "to_public": t.ToPublic, "from_public": t.FromPublic})
}
