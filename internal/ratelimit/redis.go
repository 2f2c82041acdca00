package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters between processes. Windows are fixed: the TTL
// is set on the first hit and never extended.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "rl:"}
}

func (s *RedisStore) Increment(ctx context.Context, key string, length time.Duration, now time.Time) (int, time.Time, error) {
	k := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := ttl.Val()

	// A negative TTL means the key has no expiry yet: either this was the
	// first hit, or a previous PEXPIRE never landed.
	if count == 1 || remaining < 0 {
		if err := s.client.PExpire(ctx, k, length).Err(); err != nil {
			return 0, time.Time{}, err
		}
		remaining = length
	}

	return int(count), now.Add(remaining), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
