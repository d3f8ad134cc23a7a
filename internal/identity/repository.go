package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tippic/tippic_server/internal/apperr"
)

// Repository persists users. Every state change is a conditional update so
// concurrent writers from separate processes cannot clobber each other.
type Repository interface {
	// Create inserts the user unless the id exists, reporting whether it did.
	Create(ctx context.Context, user User) (bool, error)
	UpdateDevice(ctx context.Context, reg Registration) error
	Get(ctx context.Context, id string) (User, error)
	FindByAddress(ctx context.Context, address string) (User, error)
	IDsByPhone(ctx context.Context, phone string) ([]string, error)
	OnboardedByPhone(ctx context.Context, phone, excludeID string) (bool, error)
	SetPhone(ctx context.Context, id, phone string) error
	SetAppVersion(ctx context.Context, id, version string) error
	SetPushToken(ctx context.Context, id, token string) error
	SetDeactivated(ctx context.Context, id string, deactivated bool) error
	SetBlacklisted(ctx context.Context, id string, blacklisted bool) error
	// MarkOnboarded flips onboarded once and binds the wallet address; it
	// reports false when the user was already onboarded.
	MarkOnboarded(ctx context.Context, id, address string) (bool, error)
}

const userColumns = `id::text, device_id, device_model, time_zone, os, app_version, push_token, phone,
        wallet_address, phone_verified, onboarded, deactivated, blacklisted, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) (bool, error) {
	cmd, err := r.db.Exec(ctx, `INSERT INTO users (id, device_id, device_model, time_zone, os, app_version, push_token, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
        ON CONFLICT (id) DO NOTHING`,
		user.ID, user.DeviceID, user.DeviceModel, user.TimeZone, user.OS, user.AppVersion, user.PushToken, user.CreatedAt.UTC())
	if err != nil {
		return false, apperr.Transient("create user", err)
	}
	return cmd.RowsAffected() == 1, nil
}

// UpdateDevice refreshes the device fields of an existing registration.
func (r *PostgresRepository) UpdateDevice(ctx context.Context, reg Registration) error {
	return r.exec(ctx, "update device", `UPDATE users SET device_id = $2, device_model = $3, time_zone = $4, os = $5,
        app_version = $6, push_token = CASE WHEN $7 = '' THEN push_token ELSE $7 END, updated_at = now()
        WHERE id = $1`, reg.UserID, reg.DeviceID, reg.DeviceModel, reg.TimeZone, reg.OS, reg.AppVersion, reg.PushToken)
}

// Get fetches a user by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByAddress fetches the user bound to a wallet address.
func (r *PostgresRepository) FindByAddress(ctx context.Context, address string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1
        ORDER BY updated_at DESC LIMIT 1`, address)
}

// IDsByPhone lists every identity registered with phone.
func (r *PostgresRepository) IDsByPhone(ctx context.Context, phone string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id::text FROM users WHERE phone = $1 ORDER BY created_at`, phone)
	if err != nil {
		return nil, apperr.Transient("list users by phone", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Transient("list users by phone", err)
	}
	return ids, nil
}

// OnboardedByPhone reports whether any other identity sharing phone is onboarded.
func (r *PostgresRepository) OnboardedByPhone(ctx context.Context, phone, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE phone = $1 AND id::text <> $2 AND onboarded)`,
		phone, excludeID).Scan(&exists)
	if err != nil {
		return false, apperr.Transient("check onboarded by phone", err)
	}
	return exists, nil
}

// SetPhone stores a verified phone number.
func (r *PostgresRepository) SetPhone(ctx context.Context, id, phone string) error {
	return r.exec(ctx, "set phone", `UPDATE users SET phone = $2, phone_verified = true, updated_at = now() WHERE id = $1`, id, phone)
}

// SetAppVersion records the client version reported at launch.
func (r *PostgresRepository) SetAppVersion(ctx context.Context, id, version string) error {
	return r.exec(ctx, "set app version", `UPDATE users SET app_version = $2, updated_at = now() WHERE id = $1`, id, version)
}

// SetPushToken stores the device push token.
func (r *PostgresRepository) SetPushToken(ctx context.Context, id, token string) error {
	return r.exec(ctx, "set push token", `UPDATE users SET push_token = $2, updated_at = now() WHERE id = $1`, id, token)
}

// SetDeactivated toggles the deactivated flag.
func (r *PostgresRepository) SetDeactivated(ctx context.Context, id string, deactivated bool) error {
	return r.exec(ctx, "set deactivated", `UPDATE users SET deactivated = $2, updated_at = now() WHERE id = $1`, id, deactivated)
}

// SetBlacklisted toggles the blacklisted flag.
func (r *PostgresRepository) SetBlacklisted(ctx context.Context, id string, blacklisted bool) error {
	return r.exec(ctx, "set blacklisted", `UPDATE users SET blacklisted = $2, updated_at = now() WHERE id = $1`, id, blacklisted)
}

// MarkOnboarded sets onboarded only if it was not set yet.
func (r *PostgresRepository) MarkOnboarded(ctx context.Context, id, address string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET onboarded = true, wallet_address = $2, updated_at = now()
        WHERE id = $1 AND NOT onboarded`, id, address)
	if err != nil {
		if isInvalidID(err) {
			return false, ErrNotFound
		}
		return false, apperr.Transient("mark onboarded", err)
	}
	if cmd.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, query, args...).Scan(&u.ID, &u.DeviceID, &u.DeviceModel, &u.TimeZone, &u.OS, &u.AppVersion,
		&u.PushToken, &u.Phone, &u.WalletAddress, &u.PhoneVerified, &u.Onboarded, &u.Deactivated, &u.Blacklisted,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return User{}, ErrNotFound
		}
		return User{}, apperr.Transient("get user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *PostgresRepository) exec(ctx context.Context, op, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isInvalidID(err) {
			return ErrNotFound
		}
		return apperr.Transient(op, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isInvalidID reports a malformed uuid parameter, which can never match a row.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
