package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tippic/tippic_server/internal/apperr"
)

var (
	// ErrNotFound indicates no entry exists for the requested transaction hash.
	ErrNotFound = errors.New("transaction not found")
)

// Purpose tags why value moved.
type Purpose string

const (
	// PurposeOnboardReward is the one-time reward paid on onboarding.
	PurposeOnboardReward Purpose = "onboard_reward"
	// PurposePayout is a server-initiated payment for an item or task.
	PurposePayout Purpose = "payout"
	// PurposeTip is a user payment for another user's content.
	PurposeTip Purpose = "tip"
	// PurposeP2P is a direct user to user transfer.
	PurposeP2P Purpose = "p2p"
)

// Outcome is the typed result of a uniqueness-checked insert.
type Outcome int

const (
	// Inserted means the caller's write became the stored row.
	Inserted Outcome = iota + 1
	// Duplicate means a row with the same key already existed and was left untouched.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Entry is an immutable settled transaction. Positive amounts were paid by the
// service to the counterparty, negative amounts were received from users.
type Entry struct {
	TxHash       string
	IdentityID   string
	Counterparty string
	Amount       int64
	Purpose      Purpose
	ItemID       string
	Memo         string
	SettledAt    time.Time
}

// Totals aggregates value flow across the whole ledger.
type Totals struct {
	ToPublic   int64
	FromPublic int64
}

// Claim is the result of claiming a one-time reward.
type Claim struct {
	Outcome Outcome
	// HolderID is the identity that owns the claim after the call.
	HolderID string
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Every write goes through a uniqueness-checked insert; storage failures are
// returned as transient errors and are never reported as Duplicate.
type Ledger interface {
	Record(ctx context.Context, entry Entry) (Outcome, error)
	Get(ctx context.Context, txHash string) (Entry, error)
	HasPurpose(ctx context.Context, identityID string, purpose Purpose) (bool, error)
	Totals(ctx context.Context) (Totals, error)
	ListForIdentity(ctx context.Context, identityID string, limit int) ([]Entry, error)
	ListIncomingForAddress(ctx context.Context, counterparty, excludeIdentityID string, purpose Purpose, limit int) ([]Entry, error)
	ClaimReward(ctx context.Context, claimKey, identityID string) (Claim, error)
	ReleaseClaim(ctx context.Context, claimKey, identityID string) error
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.TxHash) == "":
		return apperr.Validation("invalid_tx_hash", "transaction hash is required")
	case strings.TrimSpace(e.IdentityID) == "":
		return apperr.Validation("invalid_identity", "identity id is required")
	case strings.TrimSpace(e.Counterparty) == "":
		return apperr.Validation("invalid_counterparty", "counterparty address is required")
	case e.Amount == 0:
		return apperr.Validation("invalid_amount", "amount must be non-zero")
	case e.Purpose == "":
		return apperr.Validation("invalid_purpose", "purpose is required")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}

// RecordConsistent records a server-originated entry. A Duplicate whose stored
// row belongs to another identity or purpose means two operations settled
// under one transaction hash; that is reported as an invariant violation.
func RecordConsistent(ctx context.Context, l Ledger, entry Entry) (Outcome, error) {
	outcome, err := l.Record(ctx, entry)
	if err != nil || outcome == Inserted {
		return outcome, err
	}

	stored, err := l.Get(ctx, entry.TxHash)
	if err != nil {
		return outcome, err
	}
	if stored.IdentityID != entry.IdentityID || stored.Purpose != entry.Purpose {
		return outcome, apperr.Invariant("conflicting ledger entry for "+entry.TxHash,
			fmt.Errorf("stored %s/%s, got %s/%s", stored.IdentityID, stored.Purpose, entry.IdentityID, entry.Purpose))
	}
	return outcome, nil
}
