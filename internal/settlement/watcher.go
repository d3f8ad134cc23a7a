package settlement

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/chain"
)

const cursorKey = "settlement:cursor:lt"

// Cursor persists the logical time of the last processed transfer.
type Cursor interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lt uint64) error
}

// RedisCursor stores the cursor in Redis so restarted workers resume.
type RedisCursor struct {
	client *redis.Client
}

// NewRedisCursor returns a Redis-backed cursor.
func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

func (c *RedisCursor) Load(ctx context.Context) (uint64, bool, error) {
	val, err := c.client.Get(ctx, cursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Transient("load cursor", err)
	}
	lt, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return lt, true, nil
}

func (c *RedisCursor) Save(ctx context.Context, lt uint64) error {
	if err := c.client.Set(ctx, cursorKey, strconv.FormatUint(lt, 10), 0).Err(); err != nil {
		return apperr.Transient("save cursor", err)
	}
	return nil
}

// MemoryCursor is an in-process Cursor.
type MemoryCursor struct {
	mu  sync.Mutex
	lt  uint64
	set bool
}

func (c *MemoryCursor) Load(context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lt, c.set, nil
}

func (c *MemoryCursor) Save(_ context.Context, lt uint64) error {
	c.mu.Lock()
	c.lt, c.set = lt, true
	c.mu.Unlock()
	return nil
}

// Watcher polls the service wallet's outgoing transfers and feeds their memos
// to the correlator as successful settlements.
type Watcher struct {
	source     chain.Source
	correlator *Correlator
	cursor     Cursor
	interval   time.Duration
	logger     *zap.Logger
}

// NewWatcher builds a settlement watcher.
func NewWatcher(source chain.Source, correlator *Correlator, cursor Cursor, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{source: source, correlator: correlator, cursor: cursor, interval: interval, logger: logger.With(zap.String("component", "watcher"))}
}

// Poll processes one batch and returns how many transfers were handled. The
// cursor only advances past transfers whose callback did not fail transiently.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	lt, _, err := w.cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	txs, err := w.source.Outgoing(ctx, lt)
	if err != nil {
		return 0, apperr.Transient("list outgoing transfers", err)
	}

	handled := 0
	for _, tx := range txs {
		if tx.Memo != "" {
			_, err := w.correlator.OnCallback(ctx, Callback{
				Memo:        tx.Memo,
				TxHash:      tx.Hash,
				Amount:      int64(tx.Amount),
				Status:      StatusSuccess,
				Destination: tx.To,
				SettledAt:   tx.SettledAt,
			})
			if err != nil && !apperr.IsInvariant(err) {
				return handled, err
			}
		}
		if tx.LT > lt {
			lt = tx.LT
			if err := w.cursor.Save(ctx, lt); err != nil {
				return handled, err
			}
		}
		handled++
	}
	return handled, nil
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("settlement watcher started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settlement watcher stopped")
			return nil
		case <-ticker.C:
			n, err := w.Poll(ctx)
			if err != nil {
				w.logger.Error("poll cycle failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Debug("poll cycle processed transfers", zap.Int("count", n))
			}
		}
	}
}
