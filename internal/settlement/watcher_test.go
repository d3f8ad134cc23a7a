package settlement

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/logging"
)

func TestWatcher_FeedsOutgoingMemosAndAdvancesCursor(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()
	u := f.onboardedUser(t, "EQ-user")

	res, err := f.payouts.Submit(ctx, PayoutRequest{IdentityID: u.ID, ItemID: "task-7", Amount: 40})
	require.NoError(t, err)
	_, err = f.network.SubmitPayment(ctx, "EQ-other", 3, "")
	require.NoError(t, err)

	cursor := &MemoryCursor{}
	w := NewWatcher(f.network, f.correlator, cursor, time.Second, logging.Discard())

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, err := f.ledger.Get(ctx, res.TxHash)
	require.NoError(t, err)
	assert.Equal(t, u.ID, entry.IdentityID)
	assert.Equal(t, int64(40), entry.Amount)

	lt, ok, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), lt)

	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisCursor_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCursor(client)
	ctx := context.Background()

	_, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Save(ctx, 4242))
	lt, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4242), lt)

	mr.Close()
	_, _, err = c.Load(ctx)
	assert.Error(t, err)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	f := newPayoutFixture(t)
	w := NewWatcher(f.network, f.correlator, &MemoryCursor{}, 10*time.Millisecond, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
