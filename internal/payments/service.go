// Package payments records client-reported transactions between users.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/metrics"
	"github.com/tippic/tippic_server/internal/notification"
)

// ErrPhoneNotVerified rejects reports from users without a verified phone.
var ErrPhoneNotVerified = apperr.Validation("phone_not_verified", "phone verification required")

// Users is the subset of the identity service payments needs.
type Users interface {
	Get(ctx context.Context, id string) (identity.User, error)
	FindByAddress(ctx context.Context, address string) (identity.User, error)
}

// Policy bounds reported transactions.
type Policy struct {
	PhoneVerificationRequired bool
	P2PMinAmount              int64
	P2PMaxAmount              int64
}

// Service records reported transactions in the ledger.
type Service struct {
	ledger   ledger.Ledger
	users    Users
	notifier notification.Notifier
	policy   Policy
	logger   *zap.Logger
}

// NewService constructs a payment service.
func NewService(l ledger.Ledger, users Users, notifier notification.Notifier, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: l, users: users, notifier: notifier, policy: policy, logger: logger.With(zap.String("component", "payments"))}
}

// ReportInput captures a transaction the client submitted to the network itself.
type ReportInput struct {
	TxHash     string
	IdentityID string
	ToAddress  string
	Amount     int64
	Purpose    ledger.Purpose
	ItemID     string
}

// Report stores the transaction once. A repeated report of the same hash is a
// Duplicate and leaves the first entry untouched.
func (s *Service) Report(ctx context.Context, in ReportInput) (ledger.Outcome, error) {
	if err := s.validate(in); err != nil {
		return ledger.Duplicate, err
	}
	user, err := s.users.Get(ctx, in.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ledger.Duplicate, apperr.Validation("unknown_identity", "user does not exist")
		}
		return ledger.Duplicate, err
	}
	if s.policy.PhoneVerificationRequired && !user.PhoneVerified {
		return ledger.Duplicate, ErrPhoneNotVerified
	}
	if user.Blacklisted {
		return ledger.Duplicate, apperr.Validation("denied", "user is blacklisted")
	}

	outcome, err := s.ledger.Record(ctx, ledger.Entry{
		TxHash:       strings.TrimSpace(in.TxHash),
		IdentityID:   user.ID,
		Counterparty: in.ToAddress,
		Amount:       -in.Amount,
		Purpose:      in.Purpose,
		ItemID:       in.ItemID,
	})
	if err != nil {
		return ledger.Duplicate, err
	}
	metrics.ObserveLedger(string(in.Purpose), outcome.String())
	if outcome == ledger.Duplicate {
		s.logger.Info("transaction already reported", zap.String("tx_hash", in.TxHash), zap.String("user_id", user.ID))
		return outcome, nil
	}

	s.logger.Info("transaction reported",
		zap.String("tx_hash", in.TxHash),
		zap.String("user_id", user.ID),
		zap.String("purpose", string(in.Purpose)),
		zap.Int64("amount", in.Amount),
	)
	s.notifyCounterparty(ctx, user, in)
	return outcome, nil
}

func (s *Service) validate(in ReportInput) error {
	switch {
	case strings.TrimSpace(in.TxHash) == "":
		return apperr.Validation("invalid_tx_hash", "tx_hash is required")
	case strings.TrimSpace(in.ToAddress) == "":
		return apperr.Validation("invalid_counterparty", "to_address is required")
	case in.Amount <= 0:
		return apperr.Validation("invalid_amount", "amount must be positive")
	}
	switch in.Purpose {
	case ledger.PurposeTip:
	case ledger.PurposeP2P:
		if in.Amount < s.policy.P2PMinAmount || (s.policy.P2PMaxAmount > 0 && in.Amount > s.policy.P2PMaxAmount) {
			return apperr.Validation("invalid_amount", fmt.Sprintf("p2p amount must be between %d and %d", s.policy.P2PMinAmount, s.policy.P2PMaxAmount))
		}
	default:
		return apperr.Validation("invalid_purpose", "unsupported transaction type")
	}
	return nil
}

func (s *Service) notifyCounterparty(ctx context.Context, sender identity.User, in ReportInput) {
	if s.notifier == nil {
		return
	}
	receiver, err := s.users.FindByAddress(ctx, in.ToAddress)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			s.logger.Warn("counterparty lookup failed", zap.String("address", in.ToAddress), zap.Error(err))
		}
		return
	}
	if receiver.ID == sender.ID {
		return
	}
	kind, body := notification.KindP2PTransfer, fmt.Sprintf("a friend sent you %d", in.Amount)
	if in.Purpose == ledger.PurposeTip {
		kind, body = notification.KindTip, fmt.Sprintf("you received a %d tip", in.Amount)
	}
	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: receiver.ID,
		Body:        body,
		Data:        map[string]string{"tx_hash": in.TxHash, "item_id": in.ItemID},
	}); err != nil {
		s.logger.Warn("counterparty notification failed", zap.String("user_id", receiver.ID), zap.Error(err))
	}
}

// List returns the user's ledger entries, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	return s.ledger.ListForIdentity(ctx, userID, limit)
}

// IncomingTips lists tips other users sent to the user's wallet.
func (s *Service) IncomingTips(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, apperr.Validation("unknown_identity", "user does not exist")
		}
		return nil, err
	}
	if user.WalletAddress == "" {
		return []ledger.Entry{}, nil
	}
	return s.ledger.ListIncomingForAddress(ctx, user.WalletAddress, user.ID, ledger.PurposeTip, limit)
}

// Totals reports the value paid out to and received from users.
func (s *Service) Totals(ctx context.Context) (ledger.Totals, error) {
	return s.ledger.Totals(ctx)
}
