package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticNetwork_SubmitSettlesImmediately(t *testing.T) {
	n := NewStaticNetwork("EQ-hot")
	ctx := context.Background()

	hash, err := n.SubmitPayment(ctx, "EQ-user", 15, "1-tpc-dabc")
	require.NoError(t, err)

	bal, err := n.QueryBalance(ctx, "EQ-user")
	require.NoError(t, err)
	assert.Equal(t, uint64(15), bal)

	tx, err := n.QueryTransaction(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "1-tpc-dabc", tx.Memo)
	assert.Equal(t, "EQ-hot", tx.From)

	_, err = n.QueryTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestStaticNetwork_HookRejects(t *testing.T) {
	n := NewStaticNetwork("EQ-hot")
	boom := errors.New("rejected")
	n.OnSubmit(func(context.Context, string, uint64, string) error { return boom })

	_, err := n.SubmitPayment(context.Background(), "EQ-user", 1, "m")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, n.Submitted())
}

func TestStaticNetwork_CreateAccountAndOutgoing(t *testing.T) {
	n := NewStaticNetwork("EQ-hot")
	ctx := context.Background()

	exists, _ := n.AccountExists(ctx, "EQ-new")
	assert.False(t, exists)
	_, err := n.CreateAccount(ctx, "EQ-new", 0)
	require.NoError(t, err)
	exists, _ = n.AccountExists(ctx, "EQ-new")
	assert.True(t, exists)

	_, _ = n.SubmitPayment(ctx, "EQ-new", 1, "a")
	_, _ = n.SubmitPayment(ctx, "EQ-new", 2, "b")
	txs, err := n.Outgoing(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "b", txs[0].Memo)

	_, err = n.SubmitPayment(ctx, "bad address", 1, "c")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
