package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tippic/tippic_server/internal/apperr"
)

const (
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
	claimAttempts         = 3
)

// PostgresLedger persists settled transactions in PostgreSQL. Uniqueness of
// tx_hash and claim_key is enforced by primary keys, so concurrent writers from
// separate processes resolve to exactly one Inserted outcome.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Record inserts the entry unless a row with the same tx_hash exists.
func (l *PostgresLedger) Record(ctx context.Context, entry Entry) (Outcome, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	const query = `
        INSERT INTO transactions (tx_hash, user_id, counterparty, amount, purpose, item_id, memo, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
        ON CONFLICT (tx_hash) DO NOTHING`
	var settledAt any
	if !entry.SettledAt.IsZero() {
		settledAt = entry.SettledAt.UTC()
	}

	cmd, err := l.db.Exec(ctx, query, entry.TxHash, entry.IdentityID, entry.Counterparty, entry.Amount,
		string(entry.Purpose), entry.ItemID, entry.Memo, settledAt)
	if err != nil {
		return 0, classify("record transaction", err)
	}
	if cmd.RowsAffected() == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// Get fetches the entry stored under txHash.
func (l *PostgresLedger) Get(ctx context.Context, txHash string) (Entry, error) {
	const query = `
        SELECT tx_hash, user_id::text, counterparty, amount, purpose, item_id, memo, settled_at
        FROM transactions WHERE tx_hash = $1`
	entry, err := scanEntry(l.db.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, classify("get transaction", err)
	}
	return entry, nil
}

// HasPurpose reports whether identityID has any entry tagged with purpose.
func (l *PostgresLedger) HasPurpose(ctx context.Context, identityID string, purpose Purpose) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE user_id = $1 AND purpose = $2)`,
		identityID, string(purpose)).Scan(&exists)
	if err != nil {
		return false, classify("check purpose", err)
	}
	return exists, nil
}

// Totals sums value paid out to and received from users.
func (l *PostgresLedger) Totals(ctx context.Context) (Totals, error) {
	const query = `
        SELECT COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
               COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)
        FROM transactions`
	var t Totals
	if err := l.db.QueryRow(ctx, query).Scan(&t.ToPublic, &t.FromPublic); err != nil {
		return Totals{}, classify("totals", err)
	}
	return t, nil
}

// ListForIdentity returns the identity's most recent entries first.
func (l *PostgresLedger) ListForIdentity(ctx context.Context, identityID string, limit int) ([]Entry, error) {
	const query = `
        SELECT tx_hash, user_id::text, counterparty, amount, purpose, item_id, memo, settled_at
        FROM transactions WHERE user_id = $1
        ORDER BY settled_at DESC LIMIT $2`
	return l.list(ctx, query, identityID, normalizeLimit(limit))
}

// ListIncomingForAddress returns entries paid to counterparty by identities other than excludeIdentityID.
func (l *PostgresLedger) ListIncomingForAddress(ctx context.Context, counterparty, excludeIdentityID string, purpose Purpose, limit int) ([]Entry, error) {
	const query = `
        SELECT tx_hash, user_id::text, counterparty, amount, purpose, item_id, memo, settled_at
        FROM transactions
        WHERE counterparty = $1 AND user_id::text <> $2 AND purpose = $3
        ORDER BY settled_at DESC LIMIT $4`
	return l.list(ctx, query, counterparty, excludeIdentityID, string(purpose), normalizeLimit(limit))
}

// ClaimReward inserts a claim row for claimKey unless one exists, returning the holder.
func (l *PostgresLedger) ClaimReward(ctx context.Context, claimKey, identityID string) (Claim, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		cmd, err := l.db.Exec(ctx, `INSERT INTO reward_claims (claim_key, user_id) VALUES ($1, $2)
            ON CONFLICT (claim_key) DO NOTHING`, claimKey, identityID)
		if err != nil {
			return Claim{}, classify("claim reward", err)
		}
		if cmd.RowsAffected() == 1 {
			return Claim{Outcome: Inserted, HolderID: identityID}, nil
		}

		var holder string
		err = l.db.QueryRow(ctx, `SELECT user_id::text FROM reward_claims WHERE claim_key = $1`, claimKey).Scan(&holder)
		if err == nil {
			return Claim{Outcome: Duplicate, HolderID: holder}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, classify("read reward claim", err)
		}
		// released between insert and read; try again
	}
	return Claim{}, apperr.Transient("claim reward", fmt.Errorf("claim %s kept changing hands", claimKey))
}

// ReleaseClaim removes the claim if identityID still holds it.
func (l *PostgresLedger) ReleaseClaim(ctx context.Context, claimKey, identityID string) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM reward_claims WHERE claim_key = $1 AND user_id = $2`, claimKey, identityID); err != nil {
		return classify("release reward claim", err)
	}
	return nil
}

func (l *PostgresLedger) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, classify("scan transaction", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list transactions", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		purpose string
	)
	if err := row.Scan(&e.TxHash, &e.IdentityID, &e.Counterparty, &e.Amount, &purpose, &e.ItemID, &e.Memo, &e.SettledAt); err != nil {
		return Entry{}, err
	}
	e.Purpose = Purpose(purpose)
	e.SettledAt = e.SettledAt.UTC()
	return e, nil
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgInvalidText:
			return &apperr.Error{Kind: apperr.KindValidation, Code: "unknown_identity", Message: op, Cause: err}
		}
	}
	return apperr.Transient(op, err)
}
