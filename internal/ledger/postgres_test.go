package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/infra"
	"github.com/tippic/tippic_server/internal/logging"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, dsn, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.RunMigrations(ctx, pool, "../../migrations", logging.Discard()))
	return pool
}

func insertUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `INSERT INTO users (id) VALUES ($1)`, id)
	require.NoError(t, err)
	return id
}

func TestPostgresLedger_ConcurrentRecord(t *testing.T) {
	pool := newTestPool(t)
	l := NewPostgresLedger(pool)
	ctx := context.Background()
	user := insertUser(t, pool)
	hash := "pg-" + uuid.NewString()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := l.Record(ctx, Entry{TxHash: hash, IdentityID: user, Counterparty: "EQ-x", Amount: 5, Purpose: PurposePayout})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if out == Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)

	got, err := l.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, user, got.IdentityID)
}

func TestPostgresLedger_ClaimReward(t *testing.T) {
	pool := newTestPool(t)
	l := NewPostgresLedger(pool)
	ctx := context.Background()
	alice, bob := insertUser(t, pool), insertUser(t, pool)
	key := "phone:" + uuid.NewString()

	claim, err := l.ClaimReward(ctx, key, alice)
	require.NoError(t, err)
	assert.Equal(t, Inserted, claim.Outcome)

	claim, err = l.ClaimReward(ctx, key, bob)
	require.NoError(t, err)
	assert.Equal(t, Claim{Outcome: Duplicate, HolderID: alice}, claim)
}
