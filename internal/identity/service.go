package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/tippic/tippic_server/internal/apperr"
)

// Policy holds the registration and eligibility rules.
type Policy struct {
	MinVersionAndroid        string
	MinVersionIOS            string
	MaxRegistrationsPerPhone int
	BlockedPhonePrefixes     []string
}

// Service manages identity lifecycle.
type Service struct {
	repo   Repository
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, policy: policy, logger: logger, now: time.Now}
}

// Register creates the user on first call and refreshes device fields on
// later calls. It reports whether a new user was created.
func (s *Service) Register(ctx context.Context, reg Registration) (User, bool, error) {
	id, err := uuid.Parse(strings.TrimSpace(reg.UserID))
	if err != nil {
		return User{}, false, apperr.Validation("bad_request", "user_id must be a uuid")
	}
	reg.UserID = id.String()
	if reg.OS != OSAndroid && reg.OS != OSIOS {
		return User{}, false, apperr.Validation("bad_request", "unsupported os")
	}
	if reg.DeviceModel == "" || reg.TimeZone == "" || reg.AppVersion == "" {
		return User{}, false, apperr.Validation("bad_request", "device_model, time_zone and app_ver are required")
	}
	// emulator registrations are refused outright
	if strings.Contains(strings.ToUpper(reg.DeviceModel), "GENYMOTION") {
		s.logger.Info("refusing emulator registration", zap.String("user_id", reg.UserID))
		return User{}, false, apperr.Validation("bad_request", "unsupported device")
	}

	user := User{
		ID:          reg.UserID,
		DeviceID:    reg.DeviceID,
		DeviceModel: reg.DeviceModel,
		TimeZone:    reg.TimeZone,
		OS:          reg.OS,
		AppVersion:  reg.AppVersion,
		PushToken:   reg.PushToken,
		CreatedAt:   s.now().UTC(),
	}
	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return User{}, false, err
	}
	if !created {
		if err := s.repo.UpdateDevice(ctx, reg); err != nil {
			return User{}, false, err
		}
	}

	stored, err := s.repo.Get(ctx, reg.UserID)
	if err != nil {
		return User{}, false, err
	}
	if created {
		s.logger.Info("user registered", zap.String("user_id", stored.ID), zap.String("os", stored.OS))
	}
	return stored, created, nil
}

// Get returns the user or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.Get(ctx, id)
}

// FindByAddress returns the user bound to address or ErrNotFound.
func (s *Service) FindByAddress(ctx context.Context, address string) (User, error) {
	return s.repo.FindByAddress(ctx, address)
}

// Launch records the client version reported at app start.
func (s *Service) Launch(ctx context.Context, id, appVersion string) (User, error) {
	if appVersion != "" {
		if err := s.repo.SetAppVersion(ctx, id, appVersion); err != nil {
			return User{}, err
		}
	}
	return s.repo.Get(ctx, id)
}

// UpdatePushToken replaces the device push token.
func (s *Service) UpdatePushToken(ctx context.Context, id, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Validation("bad_request", "token is required")
	}
	return s.repo.SetPushToken(ctx, id, token)
}

// VerifyPhone binds a verified phone number to the user, enforcing the
// blocked-prefix list and the per-phone registration cap.
func (s *Service) VerifyPhone(ctx context.Context, id, phone string) error {
	phone = strings.ReplaceAll(strings.TrimSpace(phone), "-", "")
	if phone == "" {
		return apperr.Validation("no_phone_number", "phone number is required")
	}
	for _, prefix := range s.policy.BlockedPhonePrefixes {
		if prefix != "" && strings.HasPrefix(phone, prefix) {
			s.logger.Info("blocked phone prefix", zap.String("user_id", id), zap.String("prefix", prefix))
			return apperr.Validation("blocked_phone_prefix", "phone number prefix is blocked")
		}
	}

	if s.policy.MaxRegistrationsPerPhone > 0 {
		ids, err := s.repo.IDsByPhone(ctx, phone)
		if err != nil {
			return err
		}
		others := 0
		for _, other := range ids {
			if other != id {
				others++
			}
		}
		if others >= s.policy.MaxRegistrationsPerPhone {
			s.logger.Info("too many registrations for phone", zap.String("user_id", id), zap.Int("count", others))
			return apperr.Validation("too_many_registrations", "phone number registered too many times")
		}
	}

	return s.repo.SetPhone(ctx, id, phone)
}

// AssociatedIDs returns the other identities sharing the user's phone number.
func (s *Service) AssociatedIDs(ctx context.Context, user User) ([]string, error) {
	if user.Phone == "" {
		return nil, nil
	}
	ids, err := s.repo.IDsByPhone(ctx, user.Phone)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != user.ID {
			out = append(out, id)
		}
	}
	return out, nil
}

// SiblingOnboarded reports whether another identity with the same phone is onboarded.
func (s *Service) SiblingOnboarded(ctx context.Context, user User) (bool, error) {
	if user.Phone == "" {
		return false, nil
	}
	return s.repo.OnboardedByPhone(ctx, user.Phone, user.ID)
}

// MarkOnboarded sets the onboarded flag once; false means it was already set.
func (s *Service) MarkOnboarded(ctx context.Context, id, address string) (bool, error) {
	return s.repo.MarkOnboarded(ctx, id, address)
}

// Deactivate flags the user as deactivated.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.SetDeactivated(ctx, id, true); err != nil {
		return err
	}
	s.logger.Info("user deactivated", zap.String("user_id", id))
	return nil
}

// SetBlacklisted toggles the blacklist flag.
func (s *Service) SetBlacklisted(ctx context.Context, id string, blacklisted bool) error {
	if err := s.repo.SetBlacklisted(ctx, id, blacklisted); err != nil {
		return err
	}
	s.logger.Info("user blacklist updated", zap.String("user_id", id), zap.Bool("blacklisted", blacklisted))
	return nil
}

// VersionAllowed reports whether the user's client meets the minimum version
// for its OS. Unparseable versions are not allowed.
func (s *Service) VersionAllowed(user User) bool {
	minimum := s.policy.MinVersionAndroid
	if user.OS == OSIOS {
		minimum = s.policy.MinVersionIOS
	}
	if minimum == "" {
		return true
	}
	have, want := canonicalVersion(user.AppVersion), canonicalVersion(minimum)
	if !semver.IsValid(have) || !semver.IsValid(want) {
		return false
	}
	return semver.Compare(have, want) >= 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsNotFound reports whether err means the identity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
