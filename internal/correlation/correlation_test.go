package correlation

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/ledger"
)

func TestNewMemoFormat(t *testing.T) {
	memo := NewMemo("1-tpc-", "p")
	require.True(t, strings.HasPrefix(memo, "1-tpc-p"))
	assert.Len(t, memo, len("1-tpc-p")+memoIDLen)
	assert.NotEqual(t, memo, NewMemo("1-tpc-", "p"))
}

func TestRedisCache_PutGetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedisCache(client)
	ctx := context.Background()

	rec := Record{Memo: "1-tpc-dabc", IdentityID: "u1", Purpose: ledger.PurposeOnboardReward, Amount: 15, CreatedAt: time.Now().UTC()}
	require.NoError(t, c.Put(ctx, rec, time.Minute))
	assert.ErrorIs(t, c.Put(ctx, rec, time.Minute), ErrMemoExists)

	got, ok, err := c.Get(ctx, rec.Memo, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", got.IdentityID)
	assert.Equal(t, ledger.PurposeOnboardReward, got.Purpose)

	_, ok, err = c.Get(ctx, rec.Memo, true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.Get(ctx, rec.Memo, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Record{Memo: "m1", IdentityID: "u1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "m1", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Record{Memo: "m1"}, time.Minute))
	_, ok, _ := c.Get(ctx, "m1", false)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "m1", false)
	assert.False(t, ok)
}
