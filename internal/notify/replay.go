package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "wh:delivery:"

// RedisReplayGuard claims delivery keys with SETNX so a webhook event reaches
// an endpoint at most once within the TTL, even when several workers race on
// the same queue task. A nil client disables the guard and every claim wins.
type RedisReplayGuard struct {
	Client *redis.Client
}

// Claim reports whether this worker owns the delivery for the key.
func (g RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, replayKeyPrefix+key, "1", ttl).Result()
}

// Forget drops the claim so a failed delivery can be retried before the TTL
// lapses.
func (g RedisReplayGuard) Forget(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, replayKeyPrefix+key).Err()
}
