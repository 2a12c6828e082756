package auxdata

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipekit/sniperbot/internal/domain"
)

// fakeAnalyzer counts calls per section and can fail sections on demand.
type fakeAnalyzer struct {
	marketCalls   atomic.Int64
	holderCalls   atomic.Int64
	metadataCalls atomic.Int64

	failMarket   bool
	failHolders  bool
	failMetadata bool
}

func (f *fakeAnalyzer) GetMarketData(_ context.Context, _ string) (domain.MarketData, error) {
	f.marketCalls.Add(1)
	if f.failMarket {
		return domain.MarketData{}, domain.ErrUnavailable
	}
	return domain.MarketData{VolumeUsd: 42_000, MarketCapUsd: 300_000, PriceUsd: 0.003}, nil
}

func (f *fakeAnalyzer) GetHolderAnalysis(_ context.Context, _ string) (domain.HolderAnalysis, error) {
	f.holderCalls.Add(1)
	if f.failHolders {
		return domain.HolderAnalysis{}, domain.ErrUnavailable
	}
	return domain.HolderAnalysis{HolderCount: 250, DevHoldingPct: 3, Top10HoldingPct: 18}, nil
}

func (f *fakeAnalyzer) GetTokenMetadata(_ context.Context, _ string) (domain.TokenMetadata, error) {
	f.metadataCalls.Add(1)
	if f.failMetadata {
		return domain.TokenMetadata{}, domain.ErrUnavailable
	}
	return domain.TokenMetadata{HasTwitter: true, LiquidityLocked: true}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotFetchesOncePerEvent(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	f := NewFetcher(analyzer, time.Minute, discardLogger())

	snap := f.Snapshot(context.Background(), "mintA")
	require.True(t, snap.MarketDataOK)
	require.True(t, snap.HoldersOK)
	require.True(t, snap.MetadataOK)
	assert.Equal(t, 42_000.0, snap.VolumeUsd)
	assert.Equal(t, 250, snap.HolderCount)
	assert.True(t, snap.LiquidityLocked)

	// Later callers for the same event are served from cache.
	for range 10 {
		f.Snapshot(context.Background(), "mintA")
	}
	assert.EqualValues(t, 1, analyzer.marketCalls.Load())
	assert.EqualValues(t, 1, analyzer.holderCalls.Load())
	assert.EqualValues(t, 1, analyzer.metadataCalls.Load())
}

func TestSnapshotConcurrentCallersShareOneFetch(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	f := NewFetcher(analyzer, time.Minute, discardLogger())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := f.Snapshot(context.Background(), "mintA")
			assert.True(t, snap.MarketDataOK)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, analyzer.marketCalls.Load())
}

func TestSnapshotSectionsFailIndependently(t *testing.T) {
	analyzer := &fakeAnalyzer{failHolders: true}
	f := NewFetcher(analyzer, time.Minute, discardLogger())

	snap := f.Snapshot(context.Background(), "mintA")
	assert.True(t, snap.MarketDataOK)
	assert.False(t, snap.HoldersOK)
	assert.True(t, snap.MetadataOK)

	// The failing section was retried before giving up.
	assert.EqualValues(t, fetchAttempts, analyzer.holderCalls.Load())
}

func TestEvictForcesRefetch(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	f := NewFetcher(analyzer, time.Minute, discardLogger())

	f.Snapshot(context.Background(), "mintA")
	f.Evict("mintA")
	f.Snapshot(context.Background(), "mintA")

	assert.EqualValues(t, 2, analyzer.marketCalls.Load())
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	f := NewFetcher(analyzer, 10*time.Millisecond, discardLogger())

	f.Snapshot(context.Background(), "mintA")
	time.Sleep(20 * time.Millisecond)
	f.Sweep()

	f.Snapshot(context.Background(), "mintA")
	assert.EqualValues(t, 2, analyzer.marketCalls.Load())
}
