// Package correlation maps server-generated memos to the context of the
// in-flight operation that embedded them in an outbound payment.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/ledger"
)

const (
	keyPrefix = "memo:v1:"
	memoIDLen = 21
	// ManualEnvLetter tags memos created by operator-initiated payments.
	ManualEnvLetter = "m"
)

// ErrMemoExists is returned by Put when the memo is already registered.
var ErrMemoExists = apperr.Conflict("memo_exists", "correlation record already exists")

// Record is the context stored for a submitted payment.
type Record struct {
	Memo        string         `json:"memo"`
	IdentityID  string         `json:"identity_id"`
	Purpose     ledger.Purpose `json:"purpose"`
	ItemID      string         `json:"item_id,omitempty"`
	Destination string         `json:"destination"`
	Amount      int64          `json:"amount"`
	Notify      bool           `json:"notify"`
	LockName    string         `json:"lock_name,omitempty"`
	LockToken   string         `json:"lock_token,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Cache is the correlation store contract.
type Cache interface {
	Put(ctx context.Context, rec Record, ttl time.Duration) error
	// Get returns the record and whether it was present; with del set the
	// record is removed atomically with the read.
	Get(ctx context.Context, memo string, del bool) (Record, bool, error)
	Delete(ctx context.Context, memo string) error
}

// NewMemo builds "<prefix><env letter><21 hex chars>".
func NewMemo(prefix, envLetter string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + envLetter + id[:memoIDLen]
}

// RedisCache stores records as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache returns a Redis-backed cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	if rec.Memo == "" {
		return apperr.Validation("invalid_memo", "memo is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := c.client.SetNX(ctx, keyPrefix+rec.Memo, payload, ttl).Result()
	if err != nil {
		return apperr.Transient("put correlation record", err)
	}
	if !ok {
		return ErrMemoExists
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, memo string, del bool) (Record, bool, error) {
	var (
		raw string
		err error
	)
	if del {
		raw, err = c.client.GetDel(ctx, keyPrefix+memo).Result()
	} else {
		raw, err = c.client.Get(ctx, keyPrefix+memo).Result()
	}
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, apperr.Transient("get correlation record", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, apperr.Invariant("decode correlation record "+memo, err)
	}
	return rec, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, memo string) error {
	if err := c.client.Del(ctx, keyPrefix+memo).Err(); err != nil {
		return apperr.Transient("delete correlation record", err)
	}
	return nil
}

type memoryItem struct {
	rec     Record
	expires time.Time
}

// MemoryCache is an in-process Cache for development and tests.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock func() time.Time
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), clock: time.Now}
}

// SetClock replaces the time source; used by tests to simulate expiry.
func (c *MemoryCache) SetClock(clock func() time.Time) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

func (c *MemoryCache) Put(_ context.Context, rec Record, ttl time.Duration) error {
	if rec.Memo == "" {
		return apperr.Validation("invalid_memo", "memo is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if it, ok := c.items[rec.Memo]; ok && now.Before(it.expires) {
		return ErrMemoExists
	}
	c.items[rec.Memo] = memoryItem{rec: rec, expires: now.Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, memo string, del bool) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[memo]
	if !ok {
		return Record{}, false, nil
	}
	if !c.clock().Before(it.expires) {
		delete(c.items, memo)
		return Record{}, false, nil
	}
	if del {
		delete(c.items, memo)
	}
	return it.rec, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, memo string) error {
	c.mu.Lock()
	delete(c.items, memo)
	c.mu.Unlock()
	return nil
}
