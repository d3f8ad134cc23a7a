package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "d", cfg.EnvLetter())
	assert.Equal(t, 75*time.Second, cfg.Rewards.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.Rewards.SubmitTimeout)
	assert.Equal(t, "@every 10s", cfg.PushAuth.SweepSchedule)
}

func TestLoadRequiresStoresOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsLockTTLBelowSubmitTimeout(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOCK_TTL", "5s")
	t.Setenv("SUBMIT_TIMEOUT", "10s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_TTL")
}

func TestLoadRejectsLockTTLWithoutRoomForTwoSubmissions(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOCK_TTL", "60s")
	t.Setenv("SUBMIT_TIMEOUT", "30s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice SUBMIT_TIMEOUT")
}

func TestLoadParsesWalletSeed(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TON_WALLET_SEED", "alpha beta gamma")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.TON.WalletSeed)
}
