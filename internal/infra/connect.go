package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/config"
)

// Backends holds the optional store connections. In development either may be
// nil, in which case services fall back to in-memory implementations.
type Backends struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Connect opens the configured stores and applies pending migrations.
func Connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		b.DB = db
		if err := RunMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			b.Close(logger)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.Cache = cache
	} else {
		logger.Warn("REDIS_URL not set, using in-memory locks and caches")
	}

	return b, nil
}

// Close releases whatever connections were opened.
func (b *Backends) Close(logger *zap.Logger) {
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	if b.DB != nil {
		b.DB.Close()
	}
}
