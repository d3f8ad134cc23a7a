package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/chain"
	"github.com/tippic/tippic_server/internal/correlation"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/metrics"
)

// ErrPaymentInFlight is returned while an earlier payment for the same user
// and item awaits settlement.
var ErrPaymentInFlight = apperr.Conflict("payment_in_flight", "a payment for this item is already in flight")

// PayoutConfig tunes the payout service.
type PayoutConfig struct {
	LockTTL        time.Duration
	SubmitTimeout  time.Duration
	CorrelationTTL time.Duration
	MemoPrefix     string
	EnvLetter      string
}

// PayoutRequest asks the service to pay a user for an item.
type PayoutRequest struct {
	IdentityID string
	ItemID     string
	Amount     uint64
	Notify     bool
	// Manual marks operator-initiated payments in the memo.
	Manual bool
}

// PayoutResult describes an accepted payout.
type PayoutResult struct {
	Memo   string
	TxHash string
}

// UserLookup resolves identities.
type UserLookup interface {
	Get(ctx context.Context, id string) (identity.User, error)
}

// Payouts submits server payments. The per user/item lock is handed to the
// correlation record and released by the settlement callback, or by TTL.
type Payouts struct {
	users   UserLookup
	locker  lock.Locker
	network chain.Network
	memos   correlation.Cache
	cfg     PayoutConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewPayouts builds the payout service.
func NewPayouts(users UserLookup, locker lock.Locker, network chain.Network, memos correlation.Cache, cfg PayoutConfig, logger *zap.Logger) *Payouts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Payouts{users: users, locker: locker, network: network, memos: memos, cfg: cfg, logger: logger.With(zap.String("component", "payouts")), now: time.Now}
}

// LockName is the payment lock for a user and item.
func LockName(identityID, itemID string) string {
	return lock.Name("pay", identityID+"-"+itemID)
}

// Submit sends the payment and returns once the network accepted it.
func (p *Payouts) Submit(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	if req.Amount == 0 {
		return PayoutResult{}, apperr.Validation("invalid_amount", "amount must be positive")
	}
	if req.ItemID == "" {
		return PayoutResult{}, apperr.Validation("invalid_item", "item id is required")
	}
	user, err := p.users.Get(ctx, req.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return PayoutResult{}, apperr.Validation("unknown_identity", "user does not exist")
		}
		return PayoutResult{}, err
	}
	if user.Blacklisted || user.Deactivated {
		return PayoutResult{}, apperr.Validation("denied", "user may not receive payments")
	}
	if user.WalletAddress == "" {
		return PayoutResult{}, apperr.Validation("not_onboarded", "user has no wallet address")
	}

	h, err := p.locker.TryAcquire(ctx, LockName(user.ID, req.ItemID), p.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return PayoutResult{}, ErrPaymentInFlight
		}
		return PayoutResult{}, err
	}

	envLetter := p.cfg.EnvLetter
	if req.Manual {
		envLetter = correlation.ManualEnvLetter
	}
	memo := correlation.NewMemo(p.cfg.MemoPrefix, envLetter)
	rec := correlation.Record{
		Memo:        memo,
		IdentityID:  user.ID,
		Purpose:     ledger.PurposePayout,
		ItemID:      req.ItemID,
		Destination: user.WalletAddress,
		Amount:      int64(req.Amount),
		Notify:      req.Notify,
		LockName:    h.Name,
		LockToken:   h.Token,
		CreatedAt:   p.now().UTC(),
	}
	if err := p.memos.Put(ctx, rec, p.cfg.CorrelationTTL); err != nil {
		p.abandon(ctx, h, "")
		return PayoutResult{}, err
	}

	submitCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	txHash, err := p.network.SubmitPayment(submitCtx, user.WalletAddress, req.Amount, memo)
	cancel()
	metrics.ObservePayment(string(ledger.PurposePayout), err == nil)
	if err != nil {
		p.abandon(ctx, h, memo)
		return PayoutResult{}, apperr.Transient("submit payout", err)
	}

	p.logger.Info("payout submitted",
		zap.String("user_id", user.ID),
		zap.String("item_id", req.ItemID),
		zap.Uint64("amount", req.Amount),
		zap.String("memo", memo),
		zap.String("tx_hash", txHash),
	)
	return PayoutResult{Memo: memo, TxHash: txHash}, nil
}

func (p *Payouts) abandon(ctx context.Context, h lock.Handle, memo string) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if memo != "" {
		if err := p.memos.Delete(cleanup, memo); err != nil {
			p.logger.Warn("failed to drop correlation record", zap.String("memo", memo), zap.Error(err))
		}
	}
	if err := p.locker.Release(cleanup, h); err != nil {
		p.logger.Warn("failed to release payment lock", zap.String("lock", h.Name), zap.Error(err))
	}
}
