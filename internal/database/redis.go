package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
)

// RedisDB owns the client shared by the config snapshot mirror and the
// entitlement cache. Both callers fail open, so the timeouts are tight:
// a slow Redis should degrade a resolution, never stall it.
type RedisDB struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisDB connects and verifies the cache is reachable.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache unreachable: %w", err)
	}

	logger.Info("cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisDB{Client: client, logger: logger}, nil
}

// Close releases the client and its pool.
func (r *RedisDB) Close() error {
	if r.Client == nil {
		return nil
	}
	r.logger.Info("cache connection closed")
	return r.Client.Close()
}

// Health pings with its own deadline, independent of the caller's.
func (r *RedisDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}
