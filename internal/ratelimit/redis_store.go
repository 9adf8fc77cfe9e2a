package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:did:"

// RedisStore keeps last-call timestamps in Redis so several API replicas
// share one view of each actor's cooldown.
type RedisStore struct {
	cache *redis.Client
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(cache *redis.Client) *RedisStore {
	return &RedisStore{cache: cache}
}

// LastCall reads the stored unix timestamp for actor.
func (s *RedisStore) LastCall(ctx context.Context, actor string) (time.Time, bool, error) {
	v, err := s.cache.Get(ctx, keyPrefix+actor).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

// Record writes at with an expiry of ttl.
func (s *RedisStore) Record(ctx context.Context, actor string, at time.Time, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.cache.Set(ctx, keyPrefix+actor, strconv.FormatInt(at.Unix(), 10), ttl).Err()
}
