// Package settlement matches asynchronous payment confirmations to the
// operations that submitted them.
package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/correlation"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/metrics"
	"github.com/tippic/tippic_server/internal/notification"
)

// Status is the settlement status reported by the network.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the typed result of handling one callback.
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// Callback is a settlement notification.
type Callback struct {
	Memo        string
	TxHash      string
	Amount      int64
	Status      Status
	Destination string
	SettledAt   time.Time
}

// Correlator resolves callbacks against the correlation cache and records the
// settlement in the ledger.
type Correlator struct {
	memos    correlation.Cache
	ledger   ledger.Ledger
	locker   lock.Locker
	notifier notification.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewCorrelator builds a correlator.
func NewCorrelator(memos correlation.Cache, l ledger.Ledger, locker lock.Locker, notifier notification.Notifier, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		memos:    memos,
		ledger:   l,
		locker:   locker,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "settlement")),
		now:      time.Now,
	}
}

// OnCallback handles one callback. It is idempotent: redelivery of a settled
// callback finds no correlation record and is dropped. The error is non-nil
// only for transient failures (the record is kept so redelivery can finish)
// and invariant violations.
func (c *Correlator) OnCallback(ctx context.Context, cb Callback) (Outcome, error) {
	out, err := c.handle(ctx, cb)
	metrics.ObserveCallback(string(out))
	return out, err
}

func (c *Correlator) handle(ctx context.Context, cb Callback) (Outcome, error) {
	log := c.logger.With(zap.String("memo", cb.Memo), zap.String("tx_hash", cb.TxHash), zap.String("status", string(cb.Status)))
	if cb.Memo == "" {
		log.Warn("callback without memo")
		return OutcomeRejected, nil
	}

	if cb.Status != StatusSuccess {
		// every state other than success is a failed transaction
		return c.fail(ctx, cb, log)
	}
	if cb.TxHash == "" {
		log.Warn("successful callback without transaction id")
		return OutcomeRejected, nil
	}

	rec, ok, err := c.memos.Get(ctx, cb.Memo, false)
	if err != nil {
		log.Warn("correlation lookup failed", zap.Error(err))
		return OutcomeError, err
	}
	if !ok {
		log.Info("no correlation record for callback, dropping")
		return OutcomeDropped, nil
	}

	amount := rec.Amount
	if cb.Amount > 0 && cb.Amount != rec.Amount {
		log.Warn("settled amount differs from requested", zap.Int64("requested", rec.Amount), zap.Int64("settled", cb.Amount))
		amount = cb.Amount
	}
	counterparty := rec.Destination
	if counterparty == "" {
		counterparty = cb.Destination
	}
	settledAt := cb.SettledAt
	if settledAt.IsZero() {
		settledAt = c.now().UTC()
	}

	outcome, err := ledger.RecordConsistent(ctx, c.ledger, ledger.Entry{
		TxHash:       cb.TxHash,
		IdentityID:   rec.IdentityID,
		Counterparty: counterparty,
		Amount:       amount,
		Purpose:      rec.Purpose,
		ItemID:       rec.ItemID,
		Memo:         rec.Memo,
		SettledAt:    settledAt,
	})
	switch {
	case apperr.IsInvariant(err):
		log.Error("settlement halted on invariant violation", zap.Error(err), zap.Bool("invariant", true))
		return OutcomeError, err
	case err != nil:
		log.Warn("ledger write failed, keeping correlation record for redelivery", zap.Error(err))
		return OutcomeError, err
	}
	metrics.ObserveLedger(string(rec.Purpose), outcome.String())

	duration := settledAt.Sub(rec.CreatedAt)
	metrics.ObserveSettlementDuration(duration)

	c.finish(ctx, rec, log)

	if outcome == ledger.Duplicate {
		log.Info("settlement already recorded")
		return OutcomeDuplicate, nil
	}

	log.Info("payment settled",
		zap.String("user_id", rec.IdentityID),
		zap.String("purpose", string(rec.Purpose)),
		zap.Int64("amount", amount),
		zap.Duration("duration", duration),
	)
	if rec.Notify && c.notifier != nil {
		if err := c.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTxCompleted,
			Destination: rec.IdentityID,
			Body:        "payment completed",
			Data:        map[string]string{"tx_hash": cb.TxHash, "memo": rec.Memo, "item_id": rec.ItemID},
		}); err != nil {
			log.Warn("tx completed notification failed", zap.Error(err))
		}
	}
	return OutcomeSettled, nil
}

// fail handles a failed settlement: nothing is written and nothing is retried.
func (c *Correlator) fail(ctx context.Context, cb Callback, log *zap.Logger) (Outcome, error) {
	rec, ok, err := c.memos.Get(ctx, cb.Memo, true)
	if err != nil {
		log.Warn("correlation lookup failed", zap.Error(err))
		return OutcomeError, err
	}
	if !ok {
		log.Error("payment failed for unknown or expired memo", zap.Bool("alert", true))
		return OutcomeFailed, nil
	}
	log.Error("payment failed",
		zap.Bool("alert", true),
		zap.String("user_id", rec.IdentityID),
		zap.String("purpose", string(rec.Purpose)),
		zap.Int64("amount", rec.Amount),
	)
	c.releaseLock(ctx, rec, log)
	return OutcomeFailed, nil
}

func (c *Correlator) finish(ctx context.Context, rec correlation.Record, log *zap.Logger) {
	c.releaseLock(ctx, rec, log)
	if err := c.memos.Delete(ctx, rec.Memo); err != nil {
		// the record expires on its own; redelivery meanwhile is a ledger duplicate
		log.Warn("failed to delete correlation record", zap.Error(err))
	}
}

func (c *Correlator) releaseLock(ctx context.Context, rec correlation.Record, log *zap.Logger) {
	if rec.LockName == "" || c.locker == nil {
		return
	}
	if err := c.locker.Release(ctx, lock.Handle{Name: rec.LockName, Token: rec.LockToken}); err != nil {
		log.Warn("failed to release payment lock", zap.String("lock", rec.LockName), zap.Error(err))
	}
}
