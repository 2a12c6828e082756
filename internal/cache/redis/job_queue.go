package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/snipekit/sniperbot/internal/domain"
)

// jobQueueKey is the sorted set holding pending snipe jobs. The score encodes
// priority first and enqueue time second, so lower priority numbers are
// served first and jobs with equal priority keep FIFO order.
const jobQueueKey = "snipequeue:jobs"

// popLua atomically removes and returns the head of the queue. Atomicity is
// what gives each job single-delivery semantics across a pool of workers:
// two concurrent pops can never both see the same member.
const popLua = `
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
    return false
end
redis.call('ZREM', KEYS[1], head[1])
return head[1]
`

// JobQueue implements domain.JobQueue as a durable priority queue on a Redis
// sorted set. Jobs survive process restarts; delivery happens exactly once
// per job, and everything past delivery is the worker's responsibility
// (protected by the execution locks, not the queue).
type JobQueue struct {
	rdb   *redis.Client
	popSc *redis.Script
}

// NewJobQueue creates a JobQueue backed by the given Client.
func NewJobQueue(c *Client) *JobQueue {
	return &JobQueue{
		rdb:   c.Underlying(),
		popSc: redis.NewScript(popLua),
	}
}

// score packs (priority, queuedAt) into a single float score. Priority is a
// small integer; the millisecond timestamp fits well inside float64 precision
// when scaled down.
func score(job domain.SnipeJob) float64 {
	return float64(job.Priority)*1e13 + float64(job.QueuedAt.UnixMilli())
}

// Push enqueues a job.
func (q *JobQueue) Push(ctx context.Context, job domain.SnipeJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.ID, err)
	}

	if err := q.rdb.ZAdd(ctx, jobQueueKey, redis.Z{
		Score:  score(job),
		Member: payload,
	}).Err(); err != nil {
		return fmt.Errorf("redis: push job %s: %w", job.ID, err)
	}
	return nil
}

// Pop atomically removes and returns the highest-priority job. It returns
// domain.ErrQueueEmpty when no jobs are pending.
func (q *JobQueue) Pop(ctx context.Context) (domain.SnipeJob, error) {
	res, err := q.popSc.Run(ctx, q.rdb, []string{jobQueueKey}).Result()
	if err == redis.Nil {
		return domain.SnipeJob{}, domain.ErrQueueEmpty
	}
	if err != nil {
		return domain.SnipeJob{}, fmt.Errorf("redis: pop job: %w", err)
	}

	raw, ok := res.(string)
	if !ok {
		return domain.SnipeJob{}, fmt.Errorf("redis: pop job: unexpected result type %T", res)
	}

	var job domain.SnipeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.SnipeJob{}, fmt.Errorf("redis: unmarshal job: %w", err)
	}
	return job, nil
}

// Len returns the number of pending jobs.
func (q *JobQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, jobQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: queue len: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.JobQueue = (*JobQueue)(nil)
