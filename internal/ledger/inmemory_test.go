package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/apperr"
)

func entry(hash, identity string, amount int64, purpose Purpose) Entry {
	return Entry{
		TxHash:       hash,
		IdentityID:   identity,
		Counterparty: "EQ-" + identity,
		Amount:       amount,
		Purpose:      purpose,
	}
}

func TestInMemoryLedger_RecordDuplicateKeepsFirst(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	out, err := l.Record(ctx, entry("tx-1", "alice", 100, PurposePayout))
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	second := entry("tx-1", "alice", 999, PurposePayout)
	out, err = l.Record(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	stored, err := l.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.Amount)
}

func TestInMemoryLedger_ConcurrentRecordSingleInsert(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const workers = 16
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := l.Record(ctx, entry("same-hash", "alice", 50, PurposeOnboardReward))
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if out == Inserted {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
}

func TestInMemoryLedger_RecordValidation(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	cases := map[string]Entry{
		"missing hash":     entry("", "alice", 10, PurposeTip),
		"missing identity": entry("tx", "", 10, PurposeTip),
		"zero amount":      entry("tx", "alice", 0, PurposeTip),
		"missing purpose":  entry("tx", "alice", 10, ""),
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Record(ctx, e)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestInMemoryLedger_Totals(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	_, _ = l.Record(ctx, entry("a", "alice", 15, PurposeOnboardReward))
	_, _ = l.Record(ctx, entry("b", "bob", 40, PurposePayout))
	_, _ = l.Record(ctx, entry("c", "bob", -25, PurposeTip))
	_, _ = l.Record(ctx, entry("c", "bob", -25, PurposeTip))

	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{ToPublic: 55, FromPublic: 25}, totals)
}

func TestInMemoryLedger_ListForIdentityNewestFirst(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := entry(fmt.Sprintf("tx-%d", i), "alice", 10, PurposePayout)
		e.SettledAt = base.Add(time.Duration(i) * time.Minute)
		_, err := l.Record(ctx, e)
		require.NoError(t, err)
	}
	_, _ = l.Record(ctx, entry("other", "bob", 10, PurposePayout))

	list, err := l.ListForIdentity(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tx-2", list[0].TxHash)
	assert.Equal(t, "tx-1", list[1].TxHash)
}

func TestInMemoryLedger_ListIncomingForAddressExcludesSelf(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	tip := func(hash, from string) Entry {
		e := entry(hash, from, -20, PurposeTip)
		e.Counterparty = "EQ-creator"
		return e
	}
	_, _ = l.Record(ctx, tip("t1", "bob"))
	_, _ = l.Record(ctx, tip("t2", "creator"))
	_, _ = l.Record(ctx, tip("t3", "carol"))

	list, err := l.ListIncomingForAddress(ctx, "EQ-creator", "creator", PurposeTip, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, e := range list {
		assert.NotEqual(t, "creator", e.IdentityID)
	}
}

func TestInMemoryLedger_ClaimRewardSingleHolder(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	claim, err := l.ClaimReward(ctx, "phone:+100", "alice")
	require.NoError(t, err)
	assert.Equal(t, Claim{Outcome: Inserted, HolderID: "alice"}, claim)

	claim, err = l.ClaimReward(ctx, "phone:+100", "bob")
	require.NoError(t, err)
	assert.Equal(t, Claim{Outcome: Duplicate, HolderID: "alice"}, claim)

	// only the holder may release
	require.NoError(t, l.ReleaseClaim(ctx, "phone:+100", "bob"))
	claim, _ = l.ClaimReward(ctx, "phone:+100", "bob")
	assert.Equal(t, Duplicate, claim.Outcome)

	require.NoError(t, l.ReleaseClaim(ctx, "phone:+100", "alice"))
	claim, _ = l.ClaimReward(ctx, "phone:+100", "bob")
	assert.Equal(t, Claim{Outcome: Inserted, HolderID: "bob"}, claim)
}

func TestInMemoryLedger_HasPurpose(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	has, err := l.HasPurpose(ctx, "alice", PurposeOnboardReward)
	require.NoError(t, err)
	assert.False(t, has)

	_, _ = l.Record(ctx, entry("r", "alice", 15, PurposeOnboardReward))
	has, _ = l.HasPurpose(ctx, "alice", PurposeOnboardReward)
	assert.True(t, has)
}
