package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another sign-in attempt for a key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts attempts per key in fixed windows.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter connects to redisURL. An empty URL yields a nil limiter,
// which allows everything.
func NewRedisLimiter(redisURL string, limit int64, window time.Duration) (*RedisLimiter, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client: redis.NewClient(opt),
		limit:  limit,
		window: window,
		prefix: "prestador:signin:",
	}, nil
}

// Allow increments the attempt counter for key and reports whether it is
// still within the limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, l.prefix+strings.ToLower(key))
	pipe.Expire(ctx, l.prefix+strings.ToLower(key), l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= l.limit, nil
}

// Close releases the Redis connection pool.
func (l *RedisLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
