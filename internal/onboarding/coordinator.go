// Package onboarding issues the one-time onboarding reward: exactly once per
// identity, per phone number and per wallet address, across worker processes.
package onboarding

import (
	"context"
	"errors"
	"fmt"
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

// Result is the typed outcome of Onboard.
type Result string

const (
	ResultOK              Result = "ok"
	ResultAlreadyRewarded Result = "already_rewarded"
	ResultDenied          Result = "denied"
	ResultInternalError   Result = "internal_error"
)

// Reason qualifies denials and internal errors.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnknownIdentity  Reason = "unknown_identity"
	ReasonDeactivated      Reason = "deactivated"
	ReasonBlacklisted      Reason = "blacklisted"
	ReasonOutdatedClient   Reason = "outdated_client"
	ReasonPhoneNotVerified Reason = "phone_not_verified"
	ReasonInvalidAddress   Reason = "invalid_address"
	ReasonLockBusy         Reason = "lock_busy"
	ReasonSiblingRewarded  Reason = "same_phone_rewarded"
	ReasonAccountCreation  Reason = "account_creation_failed"
	ReasonAccountPending   Reason = "account_pending"
	ReasonSubmission       Reason = "submission_failed"
	ReasonStore            Reason = "store_unavailable"
	ReasonInvariant        Reason = "invariant_violation"
)

// Outcome is returned by Onboard.
type Outcome struct {
	Result   Result
	Reason   Reason
	Rewarded bool
	TxHash   string
	Memo     string
}

// Identities is the subset of the identity service the coordinator needs.
type Identities interface {
	Get(ctx context.Context, id string) (identity.User, error)
	VersionAllowed(user identity.User) bool
	Deactivate(ctx context.Context, id string) error
	SiblingOnboarded(ctx context.Context, user identity.User) (bool, error)
	MarkOnboarded(ctx context.Context, id, address string) (bool, error)
}

// Config tunes the coordinator.
type Config struct {
	RewardAmount              uint64
	InitialAccountBalance     uint64
	LockTTL                   time.Duration
	SubmitTimeout             time.Duration
	CorrelationTTL            time.Duration
	PhoneVerificationRequired bool
	MemoPrefix                string
	EnvLetter                 string
}

// Coordinator runs account creation and first-reward issuance.
type Coordinator struct {
	ids     Identities
	ledger  ledger.Ledger
	scope   *lock.Scope
	network chain.Network
	memos   correlation.Cache
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// LockBudget is the part of the address lock TTL the locked section may use.
// The rest is left for releasing the lock and for clock drift between
// workers and the lock store.
func LockBudget(lockTTL time.Duration) time.Duration {
	return lockTTL - lockTTL/10
}

// NewCoordinator validates cfg and builds a coordinator. The locked section
// makes up to two network submissions (account creation and the reward), so
// the lock budget must fit both submission timeouts.
func NewCoordinator(ids Identities, l ledger.Ledger, scope *lock.Scope, network chain.Network, memos correlation.Cache, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if cfg.SubmitTimeout <= 0 {
		return nil, fmt.Errorf("submit timeout must be positive")
	}
	if LockBudget(cfg.LockTTL) <= 2*cfg.SubmitTimeout {
		return nil, fmt.Errorf("lock ttl %s leaves %s, need more than twice the submit timeout %s",
			cfg.LockTTL, LockBudget(cfg.LockTTL), cfg.SubmitTimeout)
	}
	if cfg.RewardAmount == 0 {
		return nil, fmt.Errorf("reward amount must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		ids:     ids,
		ledger:  l,
		scope:   scope,
		network: network,
		memos:   memos,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "onboarding")),
		now:     time.Now,
	}, nil
}

// Onboard links address to the identity and pays the first reward at most
// once. A non-nil error accompanies ResultInternalError and is transient
// unless it carries apperr.KindInvariant.
func (c *Coordinator) Onboard(ctx context.Context, identityID, address string) (Outcome, error) {
	out, err := c.onboard(ctx, identityID, address)
	metrics.ObserveOnboard(string(out.Result), string(out.Reason))

	fields := []zap.Field{
		zap.String("user_id", identityID),
		zap.String("address", address),
		zap.String("result", string(out.Result)),
		zap.String("reason", string(out.Reason)),
	}
	switch {
	case apperr.IsInvariant(err):
		c.logger.Error("onboarding halted on invariant violation", append(fields, zap.Error(err), zap.Bool("invariant", true))...)
	case err != nil:
		c.logger.Warn("onboarding failed", append(fields, zap.Error(err))...)
	case out.Result == ResultOK:
		c.logger.Info("user onboarded", append(fields, zap.Bool("rewarded", out.Rewarded), zap.String("tx_hash", out.TxHash))...)
	default:
		c.logger.Debug("onboarding declined", fields...)
	}
	return out, err
}

func (c *Coordinator) onboard(ctx context.Context, identityID, address string) (Outcome, error) {
	user, err := c.ids.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return denied(ReasonUnknownIdentity), nil
		}
		return internal(ReasonStore), err
	}

	if out, ok := c.checkEligibility(ctx, user); !ok {
		return out, nil
	}
	if !c.network.ValidAddress(address) {
		return denied(ReasonInvalidAddress), nil
	}
	if rewarded, err := c.alreadyRewarded(ctx, user); err != nil {
		return internal(ReasonStore), err
	} else if rewarded {
		return Outcome{Result: ResultAlreadyRewarded}, nil
	}

	var out Outcome
	err = c.scope.WithLock(ctx, lock.Name("address", address), c.cfg.LockTTL, func(ctx context.Context) error {
		// every network call below must finish while the lock is still ours
		ctx, cancel := context.WithTimeout(ctx, LockBudget(c.cfg.LockTTL))
		defer cancel()
		var err error
		out, err = c.onboardLocked(ctx, identityID, address)
		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		return denied(ReasonLockBusy), nil
	}
	if err != nil && out.Result == "" {
		return internal(ReasonStore), err
	}
	return out, err
}

func (c *Coordinator) checkEligibility(ctx context.Context, user identity.User) (Outcome, bool) {
	switch {
	case user.Blacklisted:
		return denied(ReasonBlacklisted), false
	case user.Deactivated:
		return denied(ReasonDeactivated), false
	case !c.ids.VersionAllowed(user):
		if err := c.ids.Deactivate(ctx, user.ID); err != nil {
			c.logger.Warn("failed to deactivate outdated client", zap.String("user_id", user.ID), zap.Error(err))
		}
		return denied(ReasonOutdatedClient), false
	case c.cfg.PhoneVerificationRequired && !user.PhoneVerified:
		return denied(ReasonPhoneNotVerified), false
	}
	return Outcome{}, true
}

func (c *Coordinator) alreadyRewarded(ctx context.Context, user identity.User) (bool, error) {
	if user.Onboarded {
		return true, nil
	}
	return c.ledger.HasPurpose(ctx, user.ID, ledger.PurposeOnboardReward)
}

// onboardLocked runs with the address lock held.
func (c *Coordinator) onboardLocked(ctx context.Context, identityID, address string) (Outcome, error) {
	// state may have changed while waiting for the lock
	user, err := c.ids.Get(ctx, identityID)
	if err != nil {
		return internal(ReasonStore), err
	}
	if rewarded, err := c.alreadyRewarded(ctx, user); err != nil {
		return internal(ReasonStore), err
	} else if rewarded {
		return Outcome{Result: ResultAlreadyRewarded}, nil
	}

	if pending, err := c.ensureAccount(ctx, user.ID, address); err != nil {
		return internal(ReasonAccountCreation), err
	} else if pending {
		return denied(ReasonAccountPending), nil
	}

	sibling, err := c.ids.SiblingOnboarded(ctx, user)
	if err != nil {
		return internal(ReasonStore), err
	}
	if sibling {
		return c.onboardWithoutReward(ctx, user, address)
	}

	ownerKey := ownerClaimKey(user)
	claim, err := c.ledger.ClaimReward(ctx, ownerKey, user.ID)
	if err != nil {
		return internal(ReasonStore), err
	}
	if claim.Outcome == ledger.Duplicate {
		if claim.HolderID == user.ID {
			// an earlier attempt for this identity still owns the reward
			return Outcome{Result: ResultAlreadyRewarded}, nil
		}
		return c.onboardWithoutReward(ctx, user, address)
	}

	addrKey := "address:" + address
	addrClaim, err := c.ledger.ClaimReward(ctx, addrKey, user.ID)
	if err != nil {
		c.releaseClaims(ctx, user.ID, ownerKey)
		return internal(ReasonStore), err
	}
	if addrClaim.Outcome == ledger.Duplicate {
		c.releaseClaims(ctx, user.ID, ownerKey)
		return Outcome{Result: ResultAlreadyRewarded}, nil
	}

	return c.reward(ctx, user, address, ownerKey, addrKey)
}

func (c *Coordinator) reward(ctx context.Context, user identity.User, address string, claimKeys ...string) (Outcome, error) {
	memo := correlation.NewMemo(c.cfg.MemoPrefix, c.cfg.EnvLetter)
	rec := correlation.Record{
		Memo:        memo,
		IdentityID:  user.ID,
		Purpose:     ledger.PurposeOnboardReward,
		Destination: address,
		Amount:      int64(c.cfg.RewardAmount),
		CreatedAt:   c.now().UTC(),
	}
	if err := c.memos.Put(ctx, rec, c.cfg.CorrelationTTL); err != nil {
		c.releaseClaims(ctx, user.ID, claimKeys...)
		return internal(ReasonStore), err
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	txHash, err := c.network.SubmitPayment(submitCtx, address, c.cfg.RewardAmount, memo)
	cancel()
	metrics.ObservePayment(string(ledger.PurposeOnboardReward), err == nil)
	if err != nil {
		// identity stays eligible
		c.releaseClaims(ctx, user.ID, claimKeys...)
		c.dropMemo(ctx, memo)
		return internal(ReasonSubmission), apperr.Transient("submit reward", err)
	}

	if _, err := c.ids.MarkOnboarded(ctx, user.ID, address); err != nil {
		return internal(ReasonStore), err
	}

	if txHash != "" {
		if err := c.recordReward(ctx, user.ID, address, txHash, memo); err != nil {
			return Outcome{Result: ResultInternalError, Reason: ReasonInvariant, TxHash: txHash, Memo: memo}, err
		}
	}
	return Outcome{Result: ResultOK, Rewarded: true, TxHash: txHash, Memo: memo}, nil
}

// recordReward writes the ledger entry from the synchronous acceptance. The
// settlement callback writes the same tx hash, so whichever lands second is a
// duplicate; a transient failure here is left for the callback to repair.
func (c *Coordinator) recordReward(ctx context.Context, identityID, address, txHash, memo string) error {
	outcome, err := ledger.RecordConsistent(ctx, c.ledger, ledger.Entry{
		TxHash:       txHash,
		IdentityID:   identityID,
		Counterparty: address,
		Amount:       int64(c.cfg.RewardAmount),
		Purpose:      ledger.PurposeOnboardReward,
		Memo:         memo,
		SettledAt:    c.now().UTC(),
	})
	if apperr.IsInvariant(err) {
		return err
	}
	if err != nil {
		c.logger.Warn("reward ledger write deferred to settlement", zap.String("tx_hash", txHash), zap.Error(err))
		return nil
	}
	metrics.ObserveLedger(string(ledger.PurposeOnboardReward), outcome.String())
	return nil
}

func (c *Coordinator) onboardWithoutReward(ctx context.Context, user identity.User, address string) (Outcome, error) {
	if _, err := c.ids.MarkOnboarded(ctx, user.ID, address); err != nil {
		return internal(ReasonStore), err
	}
	c.logger.Info("same phone number previously rewarded, not rewarding again", zap.String("user_id", user.ID))
	return Outcome{Result: ResultOK, Reason: ReasonSiblingRewarded}, nil
}

// ensureAccount creates the wallet account when it is missing. The funding
// transfer is gated by an account:<address> claim, so a lost lock cannot make
// two workers fund the same address. pending reports that another attempt
// holds the claim and has not produced the account yet.
func (c *Coordinator) ensureAccount(ctx context.Context, identityID, address string) (pending bool, err error) {
	exists, err := c.network.AccountExists(ctx, address)
	if err != nil {
		return false, apperr.Transient("check account", err)
	}
	if exists {
		return false, nil
	}

	key := "account:" + address
	claim, err := c.ledger.ClaimReward(ctx, key, identityID)
	if err != nil {
		return false, err
	}
	if claim.Outcome == ledger.Duplicate {
		c.logger.Info("account creation already claimed", zap.String("address", address), zap.String("holder", claim.HolderID))
		return true, nil
	}

	createCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()
	if _, err := c.network.CreateAccount(createCtx, address, c.cfg.InitialAccountBalance); err != nil {
		c.releaseClaims(ctx, identityID, key)
		return false, apperr.Transient("create account "+address, err)
	}
	c.logger.Info("account created", zap.String("address", address), zap.Uint64("initial_balance", c.cfg.InitialAccountBalance))
	return false, nil
}

func (c *Coordinator) releaseClaims(ctx context.Context, identityID string, keys ...string) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := c.ledger.ReleaseClaim(cleanup, key, identityID); err != nil {
			c.logger.Error("failed to release reward claim", zap.String("claim", key), zap.Error(err))
		}
	}
}

func (c *Coordinator) dropMemo(ctx context.Context, memo string) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.memos.Delete(cleanup, memo); err != nil {
		c.logger.Warn("failed to drop correlation record", zap.String("memo", memo), zap.Error(err))
	}
}

// ownerClaimKey groups identities sharing a phone number under one reward.
func ownerClaimKey(u identity.User) string {
	if u.Phone != "" {
		return "phone:" + u.Phone
	}
	return "id:" + u.ID
}

func denied(reason Reason) Outcome {
	return Outcome{Result: ResultDenied, Reason: reason}
}

func internal(reason Reason) Outcome {
	return Outcome{Result: ResultInternalError, Reason: reason}
}
