package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/chain"
	"github.com/tippic/tippic_server/internal/chain/ton"
	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/correlation"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/notification"
	"github.com/tippic/tippic_server/internal/onboarding"
	"github.com/tippic/tippic_server/internal/payments"
	"github.com/tippic/tippic_server/internal/pushauth"
	"github.com/tippic/tippic_server/internal/settlement"
)

const devWalletAddress = "EQ-dev-hot-wallet"

// Services holds the wired domain services shared by the API and the worker.
type Services struct {
	Identity   *identity.Service
	Ledger     ledger.Ledger
	Onboarding *onboarding.Coordinator
	Correlator *settlement.Correlator
	Payouts    *settlement.Payouts
	Watcher    *settlement.Watcher
	PushAuth   *pushauth.Service
	Payments   *payments.Service
	Scope      *lock.Scope
	Network    chain.Network
	Notifier   notification.Notifier
}

// BuildServices wires every service against Postgres and Redis when they are
// available, and against in-memory backends otherwise (development only).
func BuildServices(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *zap.Logger) (*Services, error) {
	if !cfg.IsDev() && (db == nil || cache == nil) {
		return nil, fmt.Errorf("postgres and redis are required when APP_ENV=%s", cfg.AppEnv)
	}

	var (
		ledgerBackend ledger.Ledger
		identityRepo  identity.Repository
		tokenStore    pushauth.Store
		locker        lock.Locker
		memos         correlation.Cache
		cursor        settlement.Cursor
	)
	if db != nil {
		ledgerBackend = ledger.NewPostgresLedger(db)
		identityRepo = identity.NewPostgresRepository(db)
		tokenStore = pushauth.NewPostgresStore(db)
	} else {
		ledgerBackend = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
		tokenStore = pushauth.NewMemoryStore()
	}
	if cache != nil {
		locker = lock.NewRedisLocker(cache)
		memos = correlation.NewRedisCache(cache)
		cursor = settlement.NewRedisCursor(cache)
	} else {
		locker = lock.NewMemoryLocker()
		memos = correlation.NewMemoryCache()
		cursor = &settlement.MemoryCursor{}
	}

	network, source, err := buildNetwork(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	scope := lock.NewScope(locker, logger)
	notifier := notification.NewLoggerNotifier(logger)
	rewards := cfg.Rewards

	ids := identity.NewService(identityRepo, identity.Policy{
		MinVersionAndroid:        rewards.MinClientVersionAndroid,
		MinVersionIOS:            rewards.MinClientVersionIOS,
		MaxRegistrationsPerPhone: rewards.MaxRegistrationsPerPhone,
		BlockedPhonePrefixes:     rewards.BlockedPhonePrefixes,
	}, logger)

	coord, err := onboarding.NewCoordinator(ids, ledgerBackend, scope, network, memos, onboarding.Config{
		RewardAmount:              rewards.RewardAmountNano,
		InitialAccountBalance:     rewards.InitialAccountBalanceNano,
		LockTTL:                   rewards.LockTTL,
		SubmitTimeout:             rewards.SubmitTimeout,
		CorrelationTTL:            rewards.CorrelationTTL,
		PhoneVerificationRequired: rewards.PhoneVerificationRequired,
		MemoPrefix:                rewards.MemoPrefix,
		EnvLetter:                 cfg.EnvLetter(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build onboarding coordinator: %w", err)
	}

	correlator := settlement.NewCorrelator(memos, ledgerBackend, locker, notifier, logger)
	payouts := settlement.NewPayouts(ids, locker, network, memos, settlement.PayoutConfig{
		LockTTL:        rewards.CorrelationTTL,
		SubmitTimeout:  rewards.SubmitTimeout,
		CorrelationTTL: rewards.CorrelationTTL,
		MemoPrefix:     rewards.MemoPrefix,
		EnvLetter:      cfg.EnvLetter(),
	}, logger)

	return &Services{
		Identity:   ids,
		Ledger:     ledgerBackend,
		Onboarding: coord,
		Correlator: correlator,
		Payouts:    payouts,
		Watcher:    settlement.NewWatcher(source, correlator, cursor, cfg.TON.PollInterval, logger),
		PushAuth: pushauth.NewService(tokenStore, scope, notifier, pushauth.Config{
			Enabled:        cfg.PushAuth.Enabled,
			ResendInterval: cfg.PushAuth.ResendInterval,
			GraceWindow:    cfg.PushAuth.GraceWindow,
		}, logger),
		Payments: payments.NewService(ledgerBackend, ids, notifier, payments.Policy{
			PhoneVerificationRequired: rewards.PhoneVerificationRequired,
			P2PMinAmount:              rewards.P2PMinAmount,
			P2PMaxAmount:              rewards.P2PMaxAmount,
		}, logger),
		Scope:    scope,
		Network:  network,
		Notifier: notifier,
	}, nil
}

func buildNetwork(ctx context.Context, cfg config.Config, logger *zap.Logger) (chain.Network, chain.Source, error) {
	if len(cfg.TON.WalletSeed) == 0 {
		if !cfg.IsDev() {
			return nil, nil, fmt.Errorf("TON_WALLET_SEED must be set when APP_ENV=%s", cfg.AppEnv)
		}
		logger.Warn("no wallet seed configured, using simulated payment network")
		static := chain.NewStaticNetwork(devWalletAddress)
		return static, static, nil
	}
	client, err := ton.Connect(ctx, cfg.TON, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect ton: %w", err)
	}
	return client, client, nil
}
