package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// RedisDedup implements Dedup with SETNX keys, giving cross-process
// idempotency when several workers consume the same event stream. Keys
// expire after the retention window; providers do not redeliver events
// older than that.
type RedisDedup struct {
	redis     *redis.Client
	retention time.Duration
}

// NewRedisDedup creates a Redis-backed dedup store. retention <= 0
// defaults to 30 days.
func NewRedisDedup(client *redis.Client, retention time.Duration) *RedisDedup {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisDedup{redis: client, retention: retention}
}

// MarkProcessed implements Dedup.
func (d *RedisDedup) MarkProcessed(ctx context.Context, trackingID string, t domain.EventType) (bool, error) {
	key := fmt.Sprintf("analytics:seen:%s:%s", trackingID, t)
	ok, err := d.redis.SetNX(ctx, key, 1, d.retention).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
