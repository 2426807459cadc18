package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job results expire an hour after the last state write.
const statusTTL = time.Hour

// revokeTTL keeps a revoke flag alive long enough to outlast any backoff
// chain (3 retries at 60/120/240s plus execution time).
const revokeTTL = 24 * time.Hour

type redisStatusStore struct {
	client *redis.Client
}

// NewRedisStatusStore creates the job status/revocation store.
func NewRedisStatusStore(client *redis.Client) StatusStore {
	return &redisStatusStore{client: client}
}

func jobKey(jobID string) string    { return "job:" + jobID }
func revokeKey(jobID string) string { return "job:revoke:" + jobID }

func (s *redisStatusStore) SetState(ctx context.Context, jobID string, state JobState, message string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"state":     string(state),
		"message":   message,
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, jobKey(jobID), statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set job state %s: %w", jobID, err)
	}
	return nil
}

func (s *redisStatusStore) GetState(ctx context.Context, jobID string) (JobState, string, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return "", "", fmt.Errorf("failed to get job state %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return "", "", nil
	}
	return JobState(vals["state"]), vals["message"], nil
}

func (s *redisStatusStore) Revoke(ctx context.Context, jobID string) error {
	if err := s.client.Set(ctx, revokeKey(jobID), "1", revokeTTL).Err(); err != nil {
		return fmt.Errorf("failed to revoke job %s: %w", jobID, err)
	}
	return nil
}

// Revoked fails closed on store errors: an unreadable flag means the job
// keeps running rather than being silently dropped.
func (s *redisStatusStore) Revoked(ctx context.Context, jobID string) bool {
	n, err := s.client.Exists(ctx, revokeKey(jobID)).Result()
	return err == nil && n > 0
}
