package auth

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisBlacklist shares revocations across processes. Keys expire with the
// token so no pruning is needed.
type RedisBlacklist struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisBlacklist(client redis.UniversalClient, prefix string) *RedisBlacklist {
	return &RedisBlacklist{client: client, prefix: prefix + "bl:", now: time.Now}
}

func (b *RedisBlacklist) Add(ctx context.Context, token models.RevokedToken) (bool, error) {
	ttl := token.ExpiresAt.Sub(b.now())
	if ttl <= 0 {
		// Already expired; verification rejects it without a blacklist entry.
		return false, nil
	}

	set, err := b.client.SetNX(ctx, b.prefix+token.JTI, token.Reason, ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Lookup reads the reason stored as the key's value.
func (b *RedisBlacklist) Lookup(ctx context.Context, jti string) (string, bool, error) {
	reason, err := b.client.Get(ctx, b.prefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return reason, true, nil
}
