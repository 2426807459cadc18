package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisQueue is a durable queue on a Redis list, with a sorted set holding
// delayed retries until they come due.
type redisQueue struct {
	client *redis.Client
	name   string
}

// NewRedisQueue creates a queue named name on the given client.
func NewRedisQueue(client *redis.Client, name string) Queue {
	return &redisQueue{client: client, name: name}
}

func (q *redisQueue) listKey() string    { return "queue:" + q.name }
func (q *redisQueue) delayedKey() string { return "queue:" + q.name + ":delayed" }

// pumpScript moves every due job from the delayed set onto the list in one
// atomic step, so a job is never delivered twice by racing workers.
var pumpScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

func (q *redisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, q.listKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *redisQueue) EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := pumpScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.listKey()},
		time.Now().UnixMilli()).Err(); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to pump delayed jobs: %w", err)
	}

	res, err := q.client.BRPop(ctx, time.Second, q.listKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	job := &Job{}
	if err := json.Unmarshal([]byte(res[1]), job); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return job, nil
}
