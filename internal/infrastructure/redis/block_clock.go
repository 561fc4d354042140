package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisBlockClock keeps the shared block height under a single key. Every
// instance reads it; only the leader advances it.
type RedisBlockClock struct {
	client *redis.Client
	key    string
}

func NewRedisBlockClock(client *redis.Client, key string) *RedisBlockClock {
	return &RedisBlockClock{client: client, key: key}
}

func (c *RedisBlockClock) CurrentStep(ctx context.Context) (uint64, error) {
	result, err := c.client.Get(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read block height: %w", err)
	}

	step, err := strconv.ParseUint(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block height %q: %w", result, err)
	}
	return step, nil
}

func (c *RedisBlockClock) Advance(ctx context.Context) (uint64, error) {
	step, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("advance block height: %w", err)
	}
	return uint64(step), nil
}
