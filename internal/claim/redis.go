package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "permit-registry:claim:"

// RedisClaimer takes claims with SET NX + TTL, so scans running in separate
// processes (or on separate hosts) still dispatch each record at most once at
// a time. Used whenever Redis is configured; deployments without Redis fall
// back to MemoryClaimer.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClaimer creates a Redis-backed claimer. ttl <= 0 uses DefaultTTL.
func NewRedisClaimer(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisClaimer{client: client, ttl: ttl}
}

// Claim implements Claimer.
func (r *RedisClaimer) Claim(ctx context.Context, recordID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+recordID, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", recordID, err)
	}
	return ok, nil
}

// Release implements Claimer.
func (r *RedisClaimer) Release(ctx context.Context, recordID string) error {
	if err := r.client.Del(ctx, keyPrefix+recordID).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", recordID, err)
	}
	return nil
}
