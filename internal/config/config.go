package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"Tippic"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	MigrationsDir  string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	OperatorToken  string        `env:"OPERATOR_TOKEN"`

	Rewards  Rewards
	PushAuth PushAuth
	TON      TON
}

// Rewards holds onboarding and payout policy.
type Rewards struct {
	RewardAmountNano          uint64        `env:"REWARD_AMOUNT_NANO" envDefault:"15000000000"`
	InitialAccountBalanceNano uint64        `env:"INITIAL_ACCOUNT_BALANCE_NANO" envDefault:"0"`
	LockTTL                   time.Duration `env:"LOCK_TTL" envDefault:"75s"`
	SubmitTimeout             time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`
	CorrelationTTL            time.Duration `env:"CORRELATION_TTL" envDefault:"24h"`
	MemoPrefix                string        `env:"MEMO_PREFIX" envDefault:"1-tpc-"`
	PhoneVerificationRequired bool          `env:"PHONE_VERIFICATION_REQUIRED" envDefault:"false"`
	MinClientVersionAndroid   string        `env:"MIN_CLIENT_VERSION_ANDROID" envDefault:"0.1"`
	MinClientVersionIOS       string        `env:"MIN_CLIENT_VERSION_IOS" envDefault:"0.1"`
	P2PMinAmount              int64         `env:"P2P_MIN_AMOUNT" envDefault:"300"`
	P2PMaxAmount              int64         `env:"P2P_MAX_AMOUNT" envDefault:"12500"`
	MaxRegistrationsPerPhone  int           `env:"MAX_REGISTRATIONS_PER_PHONE" envDefault:"3"`
	BlockedPhonePrefixes      []string      `env:"BLOCKED_PHONE_PREFIXES" envSeparator:","`
}

// PushAuth holds the push-authentication token policy.
type PushAuth struct {
	Enabled         bool          `env:"AUTH_TOKEN_ENABLED" envDefault:"false"`
	Enforced        bool          `env:"AUTH_TOKEN_ENFORCED" envDefault:"false"`
	ResendInterval  time.Duration `env:"AUTH_TOKEN_RESEND_INTERVAL" envDefault:"24h"`
	GraceWindow     time.Duration `env:"AUTH_TOKEN_GRACE_WINDOW" envDefault:"10m"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE" envDefault:"@every 10s"`
	AckRateLimitMin int           `env:"ACK_RATE_LIMIT_PER_MIN" envDefault:"10"`
}

// TON holds the payment network connection settings.
type TON struct {
	Network       string        `env:"TON_NETWORK" envDefault:"testnet"`
	LiteConfigURL string        `env:"TON_LITE_CONFIG_URL"`
	WalletSeed    []string      `env:"TON_WALLET_SEED" envSeparator:" "`
	PollInterval  time.Duration `env:"SETTLEMENT_POLL_INTERVAL" envDefault:"5s"`
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
		if c.OperatorToken == "" {
			return fmt.Errorf("OPERATOR_TOKEN must be set")
		}
	}
	// onboarding makes two submissions under one address lock and keeps a
	// tenth of the TTL in reserve
	if c.Rewards.LockTTL-c.Rewards.LockTTL/10 <= 2*c.Rewards.SubmitTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed twice SUBMIT_TIMEOUT (%s) plus a 10%% margin", c.Rewards.LockTTL, c.Rewards.SubmitTimeout)
	}
	if c.Rewards.CorrelationTTL <= 0 {
		return fmt.Errorf("CORRELATION_TTL must be positive")
	}
	if c.PushAuth.GraceWindow <= 0 {
		return fmt.Errorf("AUTH_TOKEN_GRACE_WINDOW must be positive")
	}
	if c.Rewards.P2PMinAmount > c.Rewards.P2PMaxAmount {
		return fmt.Errorf("P2P_MIN_AMOUNT must not exceed P2P_MAX_AMOUNT")
	}
	return nil
}

// IsDev reports whether the service runs in a local/dev environment where
// in-memory backends are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// EnvLetter returns the one-letter environment tag embedded in memos.
func (c Config) EnvLetter() string {
	if c.AppEnv == "" {
		return "t"
	}
	return strings.ToLower(c.AppEnv[:1])
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
