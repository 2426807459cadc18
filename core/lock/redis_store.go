package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implements Store with SETNX. Entries self-expire via TTL, so no
// sweep is needed.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed lock store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func redisLockKey(key string) string {
	return "lock:acquire:" + key
}

func (s *redisStore) TryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisLockKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create lock %s: %w", key, err)
	}
	return ok, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisLockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete lock %s: %w", key, err)
	}
	return nil
}
