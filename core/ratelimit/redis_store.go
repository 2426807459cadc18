package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// takeScript runs the whole sliding-window cycle server-side so concurrent
// requests cannot both pass the count check before either records itself.
// KEYS[1] window set; ARGV: window start score, limit, now score, member,
// expiry ms. Scores are unix milliseconds.
var takeScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return 1
end
return 0
`)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates the shared Redis window store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Take(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString()[:8])

	res, err := takeScript.Run(ctx, s.client, []string{key},
		windowStart, limit, nowMs, member, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed for %s: %w", key, err)
	}
	return res == 1, nil
}
