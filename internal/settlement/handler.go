package settlement

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler exposes the settlement callback and operator payout endpoints.
type Handler struct {
	correlator *Correlator
	payouts    *Payouts
	logger     *zap.Logger
}

// NewHandler constructs a settlement HTTP handler. payouts may be nil.
func NewHandler(correlator *Correlator, payouts *Payouts, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{correlator: correlator, payouts: payouts, logger: logger}
}

type callbackRequest struct {
	Action    string `json:"action"`
	Object    string `json:"object"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
	Value     struct {
		ID            string `json:"id"`
		TransactionID string `json:"transaction_id"`
		Amount        int64  `json:"amount"`
		SenderAddress string `json:"sender_address"`
	} `json:"value"`
}

// Callback receives settlement notifications. It always acknowledges: the
// sender must not retry on our account, and redelivery is handled idempotently.
func (h *Handler) Callback(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warn("unparseable settlement callback", zap.Error(err))
		return c.JSON(fiber.Map{"status": "ok"})
	}
	if req.Object != "" && req.Object != "payment" {
		h.logger.Info("ignoring callback for object", zap.String("object", req.Object))
		return c.JSON(fiber.Map{"status": "ok"})
	}

	cb := Callback{
		Memo:        req.Value.ID,
		TxHash:      req.Value.TransactionID,
		Amount:      req.Value.Amount,
		Status:      statusFromState(req.State),
		Destination: req.Value.SenderAddress,
	}
	if req.Timestamp > 0 {
		cb.SettledAt = time.Unix(req.Timestamp, 0).UTC()
	}

	if cb.Status == StatusFailure {
		h.logger.Warn("settlement reported failed", zap.String("memo", cb.Memo), zap.String("state", req.State))
	}

	out, err := h.correlator.OnCallback(c.UserContext(), cb)
	if err != nil {
		h.logger.Warn("settlement callback not completed", zap.String("memo", cb.Memo), zap.String("outcome", string(out)), zap.Error(err))
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// statusFromState maps the network's state string. Anything other than
// success is a failed transaction.
func statusFromState(state string) Status {
	if strings.EqualFold(strings.TrimSpace(state), string(StatusSuccess)) {
		return StatusSuccess
	}
	return StatusFailure
}

type payoutRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	Amount uint64 `json:"amount"`
	Notify bool   `json:"send_push"`
}

// Payout is an operator endpoint submitting a manual server payment.
func (h *Handler) Payout(c *fiber.Ctx) error {
	if h.payouts == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "payouts disabled")
	}
	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	res, err := h.payouts.Submit(c.UserContext(), PayoutRequest{
		IdentityID: req.UserID,
		ItemID:     req.ItemID,
		Amount:     req.Amount,
		Notify:     req.Notify,
		Manual:     true,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ok", "memo": res.Memo, "tx_hash": res.TxHash})
}
