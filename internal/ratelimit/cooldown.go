package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown enforces a minimum interval between occurrences of a keyed action
// across processes, backed by Redis SETNX. The engine carries its own
// in-process cooldown; this guard covers multi-instance deployments sharing
// one Redis.
type Cooldown struct {
	Client *redis.Client
	Prefix string
}

// Guard attempts to claim the cooldown slot for the key. When the slot is
// already held the remaining wait is returned.
func (c Cooldown) Guard(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error) {
	if c.Client == nil || interval <= 0 {
		return true, 0, nil
	}
	redisKey := c.Prefix + key
	ok, err := c.Client.SetNX(ctx, redisKey, "1", interval).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := c.Client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = interval
	}
	return false, ttl, nil
}
