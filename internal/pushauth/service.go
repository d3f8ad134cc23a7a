package pushauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/metrics"
	"github.com/tippic/tippic_server/internal/notification"
)

// ErrWrongToken is returned when an acked token does not match the stored one.
var ErrWrongToken = apperr.Validation("wrong_token", "token does not match")

// Config holds the token policy.
type Config struct {
	// Enabled turns token delivery on.
	Enabled        bool
	ResendInterval time.Duration
	GraceWindow    time.Duration
	LockTTL        time.Duration
}

// Service drives the push authentication state machine.
type Service struct {
	store    Store
	scope    *lock.Scope
	notifier notification.Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService builds the push-auth service.
func NewService(store Store, scope *lock.Scope, notifier notification.Notifier, cfg Config, logger *zap.Logger) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, scope: scope, notifier: notifier, cfg: cfg, logger: logger.With(zap.String("component", "pushauth")), now: time.Now}
}

func lockName(userID string) string {
	return lock.Name("push_auth", userID)
}

func newTokenValue() string {
	return uuid.NewString()
}

// IssueOrRefreshToken returns the user's current token, issuing one on first
// need and refreshing it when the resend interval has elapsed since the last
// send.
func (s *Service) IssueOrRefreshToken(ctx context.Context, userID string) (Token, error) {
	var tok Token
	err := s.scope.WithLock(ctx, lockName(userID), s.cfg.LockTTL, func(ctx context.Context) error {
		var err error
		tok, _, err = s.issueOrRefresh(ctx, userID)
		return err
	})
	return tok, err
}

func (s *Service) issueOrRefresh(ctx context.Context, userID string) (Token, bool, error) {
	now := s.now().UTC()
	tok, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		tok, err = s.store.Create(ctx, userID, newTokenValue(), now)
		if err == nil {
			metrics.ObservePushAuth("issued")
		}
		return tok, false, err
	}
	if err != nil {
		return Token{}, false, err
	}
	if !tok.Sent() || now.Sub(tok.SentAt) <= s.cfg.ResendInterval {
		return tok, false, nil
	}
	tok, err = s.store.Replace(ctx, userID, newTokenValue(), now)
	if err != nil {
		return Token{}, false, err
	}
	metrics.ObservePushAuth("refreshed")
	s.logger.Info("refreshed push token", zap.String("user_id", userID))
	return tok, true, nil
}

// Refresh invalidates the current token and issues a new one.
func (s *Service) Refresh(ctx context.Context, userID string) (Token, error) {
	var tok Token
	err := s.scope.WithLock(ctx, lockName(userID), s.cfg.LockTTL, func(ctx context.Context) error {
		var err error
		tok, err = s.store.Replace(ctx, userID, newTokenValue(), s.now().UTC())
		return err
	})
	if err == nil {
		metrics.ObservePushAuth("refreshed")
	}
	return tok, err
}

// Send pushes the token to the device when the policy calls for it and
// reports whether a message went out. Delivery is skipped while the user is
// authenticated within the resend interval.
func (s *Service) Send(ctx context.Context, userID string) (bool, error) {
	if !s.cfg.Enabled {
		return false, nil
	}
	sent := false
	err := s.scope.WithLock(ctx, lockName(userID), s.cfg.LockTTL, func(ctx context.Context) error {
		tok, refreshed, err := s.issueOrRefresh(ctx, userID)
		if err != nil {
			return err
		}
		if tok.Sent() && tok.Authenticated && !refreshed {
			return nil
		}
		// stamped before delivery so that an ack racing the push call is
		// never older than the send it answers
		sentAt := s.now().UTC()
		if err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindAuthToken,
			Destination: userID,
			Data:        map[string]string{"type": "auth_token", "token": tok.Value},
		}); err != nil {
			return apperr.Transient("send push token", err)
		}
		if err := s.store.MarkSent(ctx, userID, sentAt); err != nil {
			return err
		}
		sent = true
		return nil
	})
	if sent {
		metrics.ObservePushAuth("sent")
	}
	return sent, err
}

// Ack authenticates the user when token matches the stored value exactly.
func (s *Service) Ack(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Validation("bad_request", "token is required")
	}
	ok, err := s.store.Ack(ctx, userID, token, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		metrics.ObservePushAuth("ack_rejected")
		s.logger.Info("push token ack rejected", zap.String("user_id", userID))
		return ErrWrongToken
	}
	metrics.ObservePushAuth("acked")
	return nil
}

// IsAuthenticated reads the committed authentication flag.
func (s *Service) IsAuthenticated(ctx context.Context, userID string) (bool, error) {
	tok, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tok.Authenticated, nil
}

// Sweep de-authenticates users who were sent a token more than the grace
// window before now and have not acked since.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.Sweep(ctx, now.Add(-s.cfg.GraceWindow))
	if err != nil {
		return 0, err
	}
	metrics.ObserveSweep(len(ids))
	if len(ids) > 0 {
		s.logger.Info("deauthenticated users", zap.Int("count", len(ids)), zap.Strings("user_ids", ids))
	}
	return len(ids), nil
}

// Deauthenticate revokes authentication for an explicit list of users.
func (s *Service) Deauthenticate(ctx context.Context, userIDs []string) (int64, error) {
	n, err := s.store.Deauthenticate(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	s.logger.Info("operator deauthenticated users", zap.Int64("count", n))
	return n, nil
}

// Unauthenticated lists users that were sent a token and are not authenticated.
func (s *Service) Unauthenticated(ctx context.Context, limit int) ([]string, error) {
	return s.store.ListUnauthenticated(ctx, limit)
}
