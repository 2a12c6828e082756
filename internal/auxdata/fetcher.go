// Package auxdata fetches external token analysis once per migration event
// and shares the snapshot across every sniper config evaluating that event,
// bounding provider fan-out to O(1) per data source instead of O(configs).
package auxdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snipekit/sniperbot/internal/domain"
)

// fetchAttempts bounds retries per provider section on transient failure.
const fetchAttempts = 3

// retryBackoff is the pause between provider retry attempts.
const retryBackoff = 200 * time.Millisecond

// Fetcher resolves TokenSnapshots through a TokenAnalyzer, caching one
// snapshot per event. The cache is scoped to an event's fan-out: entries are
// evicted explicitly when dispatch finishes with an event, or by TTL if a
// dispatch dies mid-flight.
type Fetcher struct {
	analyzer domain.TokenAnalyzer
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by event token mint
}

type entry struct {
	snap      domain.TokenSnapshot
	ready     chan struct{}
	createdAt time.Time
}

// NewFetcher creates a Fetcher with the given snapshot TTL.
func NewFetcher(analyzer domain.TokenAnalyzer, ttl time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		analyzer: analyzer,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "auxdata")),
		entries:  make(map[string]*entry),
	}
}

// Snapshot returns the aux data snapshot for the event's token, fetching it
// on first call and serving the cached copy to every later caller for the
// same event. Concurrent first callers share a single fetch.
func (f *Fetcher) Snapshot(ctx context.Context, tokenMint string) domain.TokenSnapshot {
	f.mu.Lock()
	e, ok := f.entries[tokenMint]
	if ok && time.Since(e.createdAt) < f.ttl {
		f.mu.Unlock()
		select {
		case <-e.ready:
			return e.snap
		case <-ctx.Done():
			return domain.TokenSnapshot{TokenMint: tokenMint}
		}
	}

	e = &entry{ready: make(chan struct{}), createdAt: time.Now()}
	f.entries[tokenMint] = e
	f.mu.Unlock()

	e.snap = f.fetch(ctx, tokenMint)
	close(e.ready)
	return e.snap
}

// Evict drops the snapshot for a token once its event's fan-out completed.
func (f *Fetcher) Evict(tokenMint string) {
	f.mu.Lock()
	delete(f.entries, tokenMint)
	f.mu.Unlock()
}

// Sweep removes expired entries. The dispatch orchestrator calls it
// periodically so a crashed fan-out cannot leak entries.
func (f *Fetcher) Sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mint, e := range f.entries {
		if time.Since(e.createdAt) >= f.ttl {
			delete(f.entries, mint)
		}
	}
}

// fetch pulls all three provider sections concurrently. Each section fails
// independently: an unavailable provider leaves that section's OK flag false
// and the filter policy table decides what that means per filter.
func (f *Fetcher) fetch(ctx context.Context, tokenMint string) domain.TokenSnapshot {
	snap := domain.TokenSnapshot{
		TokenMint: tokenMint,
		FetchedAt: time.Now().UTC(),
	}

	var g errgroup.Group

	g.Go(func() error {
		md, err := f.withRetry(ctx, tokenMint, "market_data", func(ctx context.Context) (any, error) {
			return f.analyzer.GetMarketData(ctx, tokenMint)
		})
		if err == nil {
			m := md.(domain.MarketData)
			snap.MarketDataOK = true
			snap.VolumeUsd = m.VolumeUsd
			snap.MarketCapUsd = m.MarketCapUsd
			snap.PriceUsd = m.PriceUsd
		}
		return nil
	})

	g.Go(func() error {
		ha, err := f.withRetry(ctx, tokenMint, "holder_analysis", func(ctx context.Context) (any, error) {
			return f.analyzer.GetHolderAnalysis(ctx, tokenMint)
		})
		if err == nil {
			h := ha.(domain.HolderAnalysis)
			snap.HoldersOK = true
			snap.HolderCount = h.HolderCount
			snap.DevHoldingPct = h.DevHoldingPct
			snap.Top10HoldingPct = h.Top10HoldingPct
		}
		return nil
	})

	g.Go(func() error {
		tm, err := f.withRetry(ctx, tokenMint, "token_metadata", func(ctx context.Context) (any, error) {
			return f.analyzer.GetTokenMetadata(ctx, tokenMint)
		})
		if err == nil {
			t := tm.(domain.TokenMetadata)
			snap.MetadataOK = true
			snap.HasTwitter = t.HasTwitter
			snap.HasTelegram = t.HasTelegram
			snap.HasWebsite = t.HasWebsite
			snap.LiquidityLocked = t.LiquidityLocked
		}
		return nil
	})

	_ = g.Wait()
	return snap
}

// withRetry runs fn up to fetchAttempts times with a fixed backoff. The
// retry budget covers transient provider failures only; on exhaustion the
// section is simply marked unavailable.
func (f *Fetcher) withRetry(ctx context.Context, tokenMint, section string, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt < fetchAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}

	f.logger.Warn("provider section unavailable",
		slog.String("token", tokenMint),
		slog.String("section", section),
		slog.String("error", lastErr.Error()),
	)
	return nil, lastErr
}
