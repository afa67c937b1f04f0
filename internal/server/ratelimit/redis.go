package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps counters in Redis so that limits hold across replicas.
type RedisLimiter struct {
	client redis.Cmdable
	rule   Rule
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, rule Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule, now: time.Now}
}

func (l *RedisLimiter) Name() string { return l.rule.Name }

func (l *RedisLimiter) key(k string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.rule.Name, k)
}

// Allow increments the counter for key. The window starts at the first hit
// and is not extended by later ones.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.key(key)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if err := l.client.PExpire(ctx, k, l.rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		remaining = l.rule.Window
	}

	return decide(l.rule, incr.Val(), l.now().Add(remaining)), nil
}

// Release decrements the counter for key if it still exists.
func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	k := l.key(key)

	n, err := l.client.Exists(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if n == 0 {
		return nil
	}
	if err := l.client.Decr(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
