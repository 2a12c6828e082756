package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snipekit/sniperbot/internal/domain"
)

// BalanceCache implements domain.BalanceCache as a read-through cache in
// front of a domain.BalanceReader. The short TTL bounds RPC call volume from
// the worker pool; Invalidate is called after every confirmed buy so the next
// job sees the post-spend balance.
//
// A failed read-through is returned to the caller rather than served stale:
// treating an unverifiable balance as anything but an error is the worker's
// decision to make, and it always aborts.
type BalanceCache struct {
	rdb    *redis.Client
	reader domain.BalanceReader
	ttl    time.Duration
}

// NewBalanceCache creates a BalanceCache with the given TTL.
func NewBalanceCache(c *Client, reader domain.BalanceReader, ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		rdb:    c.Underlying(),
		reader: reader,
		ttl:    ttl,
	}
}

func balanceKey(publicKey string) string {
	return "balance:" + publicKey
}

// Get returns the wallet's lamport balance, serving from cache when fresh and
// reading through otherwise.
func (bc *BalanceCache) Get(ctx context.Context, publicKey string) (uint64, error) {
	key := balanceKey(publicKey)

	val, err := bc.rdb.Get(ctx, key).Result()
	if err == nil {
		lamports, parseErr := strconv.ParseUint(val, 10, 64)
		if parseErr == nil {
			return lamports, nil
		}
		// Corrupt entry; fall through to a fresh read.
	} else if err != redis.Nil {
		return 0, fmt.Errorf("redis: get balance %s: %w", publicKey, err)
	}

	lamports, err := bc.reader.GetBalance(ctx, publicKey)
	if err != nil {
		return 0, fmt.Errorf("redis: balance read-through %s: %w", publicKey, err)
	}

	if err := bc.rdb.Set(ctx, key, strconv.FormatUint(lamports, 10), bc.ttl).Err(); err != nil {
		// Cache write failure is not a read failure; the balance is valid.
		return lamports, nil
	}
	return lamports, nil
}

// Invalidate drops the cached balance for a wallet.
func (bc *BalanceCache) Invalidate(ctx context.Context, publicKey string) error {
	if err := bc.rdb.Del(ctx, balanceKey(publicKey)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balance %s: %w", publicKey, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
