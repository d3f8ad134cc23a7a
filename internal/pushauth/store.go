// Package pushauth manages the per-user push authentication token: issue,
// send, acknowledge, refresh and the periodic de-authentication sweep.
package pushauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tippic/tippic_server/internal/apperr"
)

// ErrNotFound indicates no token was issued for the user yet.
var ErrNotFound = errors.New("push auth token not found")

// Token is the stored push authentication state of one user.
type Token struct {
	UserID        string
	Value         string
	Authenticated bool
	IssuedAt      time.Time
	SentAt        time.Time
	AckedAt       time.Time
}

// Sent reports whether the token was ever pushed to the device.
func (t Token) Sent() bool {
	return !t.SentAt.IsZero()
}

// Store persists tokens. Ack and Sweep are conditional, set-based statements.
type Store interface {
	Get(ctx context.Context, userID string) (Token, error)
	// Create inserts a token unless one exists and returns the stored row.
	Create(ctx context.Context, userID, value string, now time.Time) (Token, error)
	// Replace installs value as the user's token in one statement, creating
	// the row when missing, and returns the stored row.
	Replace(ctx context.Context, userID, value string, now time.Time) (Token, error)
	// MarkSent records sentAt, the moment delivery started.
	MarkSent(ctx context.Context, userID string, sentAt time.Time) error
	// Ack authenticates the user only if value matches the stored token.
	Ack(ctx context.Context, userID, value string, now time.Time) (bool, error)
	// Sweep de-authenticates every user sent a token at or before cutoff who
	// has not acked since, returning the affected ids.
	Sweep(ctx context.Context, cutoff time.Time) ([]string, error)
	Deauthenticate(ctx context.Context, userIDs []string) (int64, error)
	ListUnauthenticated(ctx context.Context, limit int) ([]string, error)
}

const tokenColumns = `user_id::text, auth_token, authenticated, issued_at, sent_at, acked_at`

// PostgresStore implements Store on the push_auth_tokens table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed token store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Token, error) {
	tok, err := scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM push_auth_tokens WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isCode(err, "22P02") {
			return Token{}, ErrNotFound
		}
		return Token{}, apperr.Transient("get push token", err)
	}
	return tok, nil
}

func (s *PostgresStore) Create(ctx context.Context, userID, value string, now time.Time) (Token, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO push_auth_tokens (user_id, auth_token, authenticated, issued_at, updated_at)
        VALUES ($1, $2, false, $3, $3)
        ON CONFLICT (user_id) DO NOTHING`, userID, value, now.UTC())
	if err != nil {
		switch {
		case isCode(err, "23503"), isCode(err, "22P02"):
			return Token{}, apperr.Validation("unknown_identity", "user does not exist")
		default:
			return Token{}, apperr.Transient("create push token", err)
		}
	}
	return s.Get(ctx, userID)
}

func (s *PostgresStore) Replace(ctx context.Context, userID, value string, now time.Time) (Token, error) {
	tok, err := scanToken(s.db.QueryRow(ctx, `INSERT INTO push_auth_tokens (user_id, auth_token, authenticated, issued_at, updated_at)
        VALUES ($1, $2, false, $3, $3)
        ON CONFLICT (user_id) DO UPDATE
        SET auth_token = EXCLUDED.auth_token, issued_at = EXCLUDED.issued_at, updated_at = EXCLUDED.updated_at
        RETURNING `+tokenColumns, userID, value, now.UTC()))
	if err != nil {
		switch {
		case isCode(err, "23503"), isCode(err, "22P02"):
			return Token{}, apperr.Validation("unknown_identity", "user does not exist")
		default:
			return Token{}, apperr.Transient("refresh push token", err)
		}
	}
	return tok, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, userID string, sentAt time.Time) error {
	cmd, err := s.db.Exec(ctx, `UPDATE push_auth_tokens SET sent_at = $2, updated_at = now() WHERE user_id = $1`, userID, sentAt.UTC())
	if err != nil {
		return apperr.Transient("mark push token sent", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ack(ctx context.Context, userID, value string, now time.Time) (bool, error) {
	cmd, err := s.db.Exec(ctx, `UPDATE push_auth_tokens SET authenticated = true, acked_at = $3, updated_at = $3
        WHERE user_id = $1 AND auth_token = $2`, userID, value, now.UTC())
	if err != nil {
		if isCode(err, "22P02") {
			return false, nil
		}
		return false, apperr.Transient("ack push token", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `UPDATE push_auth_tokens SET authenticated = false, updated_at = now()
        WHERE authenticated
          AND sent_at IS NOT NULL AND sent_at <= $1
          AND (acked_at IS NULL OR acked_at < sent_at)
        RETURNING user_id::text`, cutoff.UTC())
	if err != nil {
		return nil, apperr.Transient("sweep push tokens", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Transient("sweep push tokens", err)
	}
	return ids, nil
}

func (s *PostgresStore) Deauthenticate(ctx context.Context, userIDs []string) (int64, error) {
	ids, err := parseIDs(userIDs)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	cmd, err := s.db.Exec(ctx, `UPDATE push_auth_tokens SET authenticated = false, updated_at = now()
        WHERE user_id = ANY($1) AND authenticated`, ids)
	if err != nil {
		return 0, apperr.Transient("deauthenticate users", err)
	}
	return cmd.RowsAffected(), nil
}

func (s *PostgresStore) ListUnauthenticated(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx, `SELECT user_id::text FROM push_auth_tokens
        WHERE NOT authenticated AND sent_at IS NOT NULL
        ORDER BY sent_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Transient("list unauthenticated users", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Transient("list unauthenticated users", err)
	}
	return ids, nil
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		tok         Token
		sent, acked *time.Time
	)
	if err := row.Scan(&tok.UserID, &tok.Value, &tok.Authenticated, &tok.IssuedAt, &sent, &acked); err != nil {
		return Token{}, err
	}
	if sent != nil {
		tok.SentAt = sent.UTC()
	}
	if acked != nil {
		tok.AckedAt = acked.UTC()
	}
	tok.IssuedAt = tok.IssuedAt.UTC()
	return tok, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, apperr.Validation("invalid_user_id", "invalid user id "+s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
