package helium

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EntitlementCache tracks which users hold an active entitlement,
// backing the dontShowIfAlreadyEntitled presentation option. Redis is
// the source of truth when available; otherwise an in-process map is
// used. Lookups fail open to "not entitled" so a cache outage shows a
// paywall rather than suppressing one silently.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]map[string]time.Time // userID -> productID -> granted at
}

// NewEntitlementCache constructs a cache. The Redis client is optional.
func NewEntitlementCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *EntitlementCache {
	return &EntitlementCache{
		client: client,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]map[string]time.Time),
	}
}

func entitlementKey(userID string) string {
	return fmt.Sprintf("helium:entitlements:%s", userID)
}

// IsEntitled reports whether the user holds any active entitlement.
func (c *EntitlementCache) IsEntitled(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	if c.client != nil {
		n, err := c.client.SCard(ctx, entitlementKey(userID)).Result()
		if err != nil && err != redis.Nil {
			c.logger.Warn("entitlement lookup failed, treating as not entitled",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return false
		}
		return n > 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.local[userID]) > 0
}

// Grant records an entitlement after a successful purchase or restore.
func (c *EntitlementCache) Grant(ctx context.Context, userID, productID string) error {
	if userID == "" || productID == "" {
		return nil
	}

	if c.client != nil {
		key := entitlementKey(userID)
		pipe := c.client.Pipeline()
		pipe.SAdd(ctx, key, productID)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to record entitlement: %w", err)
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local[userID] == nil {
		c.local[userID] = make(map[string]time.Time)
	}
	c.local[userID][productID] = time.Now().UTC()
	return nil
}
