// Package lock provides named, non-blocking, TTL-bounded mutual exclusion
// shared by every worker process through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
)

const keyPrefix = "lock:v1:"

// ErrBusy is returned when another holder owns the lock. Callers treat it as
// "try again later".
var ErrBusy = apperr.Conflict("lock_busy", "lock is held by another operation")

// releaseScript deletes the key only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Handle identifies an acquired lock.
type Handle struct {
	Name  string
	Token string
}

// Locker is the lock provider contract.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker returns a Redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire never waits: it returns ErrBusy if the name is already held.
func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	if name == "" {
		return Handle{}, apperr.Validation("invalid_lock_name", "lock name is required")
	}
	if ttl <= 0 {
		return Handle{}, apperr.Validation("invalid_lock_ttl", "lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return Handle{}, apperr.Transient("acquire lock "+name, err)
	}
	if !ok {
		return Handle{}, ErrBusy
	}
	return Handle{Name: name, Token: token}, nil
}

// Release is idempotent: releasing an expired or foreign lock is a no-op.
func (l *RedisLocker) Release(ctx context.Context, h Handle) error {
	if h.Name == "" || h.Token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + h.Name}, h.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Transient("release lock "+h.Name, err)
	}
	return nil
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker used in development and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

// NewMemoryLocker returns an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (Handle, error) {
	if name == "" {
		return Handle{}, apperr.Validation("invalid_lock_name", "lock name is required")
	}
	if ttl <= 0 {
		return Handle{}, apperr.Validation("invalid_lock_ttl", "lock ttl must be positive")
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[name]; ok && now.Before(cur.expires) {
		return Handle{}, ErrBusy
	}
	token := uuid.NewString()
	l.held[name] = memoryEntry{token: token, expires: now.Add(ttl)}
	return Handle{Name: name, Token: token}, nil
}

func (l *MemoryLocker) Release(_ context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[h.Name]; ok && cur.token == h.Token {
		delete(l.held, h.Name)
	}
	return nil
}

// Scope runs operations under a single named lock and guarantees release on
// every exit path, including panics.
type Scope struct {
	locker Locker
	logger *zap.Logger
}

// NewScope wraps a Locker.
func NewScope(locker Locker, logger *zap.Logger) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{locker: locker, logger: logger}
}

// Locker exposes the underlying provider for callers that must hand a lock
// over to another component instead of releasing it on return.
func (s *Scope) Locker() Locker {
	return s.locker
}

// WithLock acquires name, runs fn and releases the lock. ErrBusy is returned
// without running fn.
func (s *Scope) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	h, err := s.locker.TryAcquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// release must survive a cancelled request context
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, h); err != nil {
			s.logger.Warn("lock release failed", zap.String("lock", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}

// Name builds a lock name from a namespace and key, e.g. Name("address", addr).
func Name(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}
