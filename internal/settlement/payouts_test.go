package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/chain"
	"github.com/tippic/tippic_server/internal/correlation"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/logging"
	"github.com/tippic/tippic_server/internal/notification"
)

type payoutFixture struct {
	payouts    *Payouts
	correlator *Correlator
	ids        *identity.Service
	network    *chain.StaticNetwork
	memos      *correlation.MemoryCache
	locker     *lock.MemoryLocker
	ledger     ledger.Ledger
}

func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()
	f := &payoutFixture{
		ids:     identity.NewService(identity.NewMemoryRepository(), identity.Policy{}, logging.Discard()),
		network: chain.NewStaticNetwork("EQ-hot"),
		memos:   correlation.NewMemoryCache(),
		locker:  lock.NewMemoryLocker(),
		ledger:  ledger.NewInMemory(),
	}
	f.payouts = NewPayouts(f.ids, f.locker, f.network, f.memos, PayoutConfig{
		LockTTL:        time.Minute,
		SubmitTimeout:  5 * time.Second,
		CorrelationTTL: time.Hour,
		MemoPrefix:     "1-tpc-",
		EnvLetter:      "t",
	}, logging.Discard())
	f.correlator = NewCorrelator(f.memos, f.ledger, f.locker, &notification.Recorder{}, logging.Discard())
	return f
}

func (f *payoutFixture) onboardedUser(t *testing.T, addr string) identity.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.ids.Register(ctx, identity.Registration{
		UserID:      uuid.NewString(),
		OS:          identity.OSAndroid,
		DeviceModel: "Pixel",
		TimeZone:    "+00:00",
		AppVersion:  "1.0",
	})
	require.NoError(t, err)
	if addr != "" {
		_, err = f.ids.MarkOnboarded(ctx, u.ID, addr)
		require.NoError(t, err)
	}
	return u
}

func TestPayouts_SubmitHoldsLockUntilSettled(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	u := f.onboardedUser(t, "EQ-user")

	res, err := f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "task-1", Amount: 250})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Memo, "1-tpc-t"))
	assert.NotEmpty(t, res.TxHash)

	_, err = f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "task-1", Amount: 250})
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	rec, ok, err := f.memos.Get(ctx, res.Memo, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, LockName(u.ID, "task-1"), rec.LockName)
	assert.Equal(t, ledger.PurposePayout, rec.Purpose)

	out, err := f.correlator.OnCallback(ctx, Callback{Memo: res.Memo, TxHash: res.TxHash, Amount: 250, Status: StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, out)

	_, err = f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "task-1", Amount: 250})
	assert.NoError(t, err)
}

func TestPayouts_SubmitFailureReleasesLockAndMemo(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	u := f.onboardedUser(t, "EQ-user")

	var memo string
	f.network.OnSubmit(func(_ context.Context, _ string, _ uint64, m string) error {
		memo = m
		return errors.New("liteserver unavailable")
	})
	_, err := f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "task-2", Amount: 10, Manual: true})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.True(t, strings.HasPrefix(memo, "1-tpc-m"))

	_, ok, _ := f.memos.Get(ctx, memo, false)
	assert.False(t, ok)
	_, err = f.locker.TryAcquire(ctx, LockName(u.ID, "task-2"), time.Minute)
	assert.NoError(t, err)
}

func TestPayouts_RejectsIneligible(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	u := f.onboardedUser(t, "")

	_, err := f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "x", Amount: 10})
	assert.Equal(t, "not_onboarded", apperr.CodeOf(err))

	_, err = f.payouts.Submit(ctx, PayoutRequest{IdentityID: uuid.NewString(), ItemID: "x", Amount: 10})
	assert.Equal(t, "unknown_identity", apperr.CodeOf(err))

	_, err = f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "x"})
	assert.Equal(t, "invalid_amount", apperr.CodeOf(err))
	assert.Empty(t, f.network.Submitted())
}
