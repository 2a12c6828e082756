package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// JobQueue is a durable priority queue of snipe jobs. Pop removes and returns
// the lowest-priority-number job atomically, so a job is delivered to exactly
// one worker; ErrQueueEmpty signals nothing is pending.
type JobQueue interface {
	Push(ctx context.Context, job SnipeJob) error
	Pop(ctx context.Context) (SnipeJob, error)
	Len(ctx context.Context) (int64, error)
}

// BalanceCache is a read-through cache of wallet lamport balances with a
// short TTL that bounds RPC call volume from the worker pool.
type BalanceCache interface {
	Get(ctx context.Context, publicKey string) (lamports uint64, err error)
	Invalidate(ctx context.Context, publicKey string) error
}
