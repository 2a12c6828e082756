package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipekit/sniperbot/internal/domain"
)

func ptrF(v float64) *float64 { return &v }

func ptrI(v int) *int { return &v }

func ptrD(v time.Duration) *time.Duration { return &v }

func freshEvent(now time.Time) domain.MigrationEvent {
	return domain.MigrationEvent{
		TokenMint:      "MintA",
		TokenName:      "Good Dog",
		TokenSymbol:    "DOG",
		TokenCreatedAt: now.Add(-10 * time.Minute),
		DetectedAt:     now.Add(-2 * time.Second),
	}
}

func fullSnapshot() domain.TokenSnapshot {
	return domain.TokenSnapshot{
		TokenMint:       "MintA",
		MarketDataOK:    true,
		VolumeUsd:       50_000,
		MarketCapUsd:    200_000,
		HoldersOK:       true,
		HolderCount:     300,
		DevHoldingPct:   4,
		Top10HoldingPct: 22,
		MetadataOK:      true,
		HasTwitter:      true,
		HasTelegram:     true,
		HasWebsite:      true,
		LiquidityLocked: true,
	}
}

func TestMatchesNoFiltersPasses(t *testing.T) {
	now := time.Now()
	res := Matches(domain.SniperConfig{}, freshEvent(now), domain.TokenSnapshot{}, now)
	assert.True(t, res.Match)
}

func TestMatchesStaleEventRejected(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)
	event.DetectedAt = now.Add(-MaxEventAge - time.Second)

	res := Matches(domain.SniperConfig{}, event, domain.TokenSnapshot{}, now)
	require.False(t, res.Match)
	assert.Equal(t, KindFreshness, res.RejectedBy)
}

func TestMatchesNamePatterns(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)

	t.Run("exclude vetoes even when include matches", func(t *testing.T) {
		cfg := domain.SniperConfig{
			NameIncludes: []string{"dog"},
			NameExcludes: []string{"good"},
		}
		res := Matches(cfg, event, domain.TokenSnapshot{}, now)
		require.False(t, res.Match)
		assert.Equal(t, KindNamePattern, res.RejectedBy)
	})

	t.Run("include matches symbol case-insensitively", func(t *testing.T) {
		cfg := domain.SniperConfig{NameIncludes: []string{"dOg"}}
		res := Matches(cfg, event, domain.TokenSnapshot{}, now)
		assert.True(t, res.Match)
	})

	t.Run("no include match rejects", func(t *testing.T) {
		cfg := domain.SniperConfig{NameIncludes: []string{"cat"}}
		res := Matches(cfg, event, domain.TokenSnapshot{}, now)
		require.False(t, res.Match)
		assert.Equal(t, KindNamePattern, res.RejectedBy)
	})
}

func TestMatchesMigrationSpeed(t *testing.T) {
	now := time.Now()
	event := freshEvent(now) // created 10m before detection

	cfg := domain.SniperConfig{MaxMigrationAge: ptrD(5 * time.Minute)}
	res := Matches(cfg, event, domain.TokenSnapshot{}, now)
	require.False(t, res.Match)
	assert.Equal(t, KindMigrationAge, res.RejectedBy)

	cfg.MaxMigrationAge = ptrD(time.Hour)
	assert.True(t, Matches(cfg, event, domain.TokenSnapshot{}, now).Match)
}

func TestMatchesThresholds(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)
	snap := fullSnapshot()

	cases := []struct {
		name string
		cfg  domain.SniperConfig
		want Kind
	}{
		{"volume too low", domain.SniperConfig{MinVolumeUsd: ptrF(100_000)}, KindVolume},
		{"market cap too high", domain.SniperConfig{MaxMarketCapUsd: ptrF(100_000)}, KindMarketCap},
		{"holders too few", domain.SniperConfig{MinHolders: ptrI(500)}, KindHolders},
		{"dev holding too high", domain.SniperConfig{MaxDevHoldingPct: ptrF(2)}, KindDevHolding},
		{"top10 too concentrated", domain.SniperConfig{MaxTop10HoldingPct: ptrF(10)}, KindTop10Holding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Matches(tc.cfg, event, snap, now)
			require.False(t, res.Match)
			assert.Equal(t, tc.want, res.RejectedBy)
		})
	}

	// All thresholds satisfied together.
	cfg := domain.SniperConfig{
		MinVolumeUsd:       ptrF(10_000),
		MaxMarketCapUsd:    ptrF(1_000_000),
		MinHolders:         ptrI(100),
		MaxDevHoldingPct:   ptrF(5),
		MaxTop10HoldingPct: ptrF(30),
	}
	assert.True(t, Matches(cfg, event, snap, now).Match)
}

func TestMatchesNumericFiltersFailOpen(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)

	// No provider data at all: numeric thresholds pass through.
	cfg := domain.SniperConfig{
		MinVolumeUsd:       ptrF(100_000),
		MaxMarketCapUsd:    ptrF(1),
		MinHolders:         ptrI(1_000_000),
		MaxDevHoldingPct:   ptrF(0.1),
		MaxTop10HoldingPct: ptrF(0.1),
	}
	res := Matches(cfg, event, domain.TokenSnapshot{}, now)
	assert.True(t, res.Match)
}

func TestMatchesPresenceFiltersFailClosed(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)

	t.Run("socials missing data rejects", func(t *testing.T) {
		cfg := domain.SniperConfig{RequireTwitter: true}
		res := Matches(cfg, event, domain.TokenSnapshot{}, now)
		require.False(t, res.Match)
		assert.Equal(t, KindSocials, res.RejectedBy)
	})

	t.Run("liquidity lock missing data rejects", func(t *testing.T) {
		cfg := domain.SniperConfig{RequireLiquidityLock: true}
		res := Matches(cfg, event, domain.TokenSnapshot{}, now)
		require.False(t, res.Match)
		assert.Equal(t, KindLiquidityLock, res.RejectedBy)
	})

	t.Run("socials present passes", func(t *testing.T) {
		cfg := domain.SniperConfig{
			RequireTwitter:       true,
			RequireTelegram:      true,
			RequireWebsite:       true,
			RequireLiquidityLock: true,
		}
		assert.True(t, Matches(cfg, event, fullSnapshot(), now).Match)
	})

	t.Run("one missing social rejects", func(t *testing.T) {
		snap := fullSnapshot()
		snap.HasTelegram = false
		cfg := domain.SniperConfig{RequireTelegram: true}
		res := Matches(cfg, event, snap, now)
		require.False(t, res.Match)
		assert.Equal(t, KindSocials, res.RejectedBy)
	})
}

func TestMatchesPartialSnapshotMixedPolicy(t *testing.T) {
	now := time.Now()
	event := freshEvent(now)

	// Market data came back, holder analysis did not.
	snap := domain.TokenSnapshot{
		MarketDataOK: true,
		VolumeUsd:    50_000,
	}

	cfg := domain.SniperConfig{
		MinVolumeUsd: ptrF(10_000), // satisfiable from available data
		MinHolders:   ptrI(500),    // unavailable, fails open
	}
	assert.True(t, Matches(cfg, event, snap, now).Match)

	// The available section still enforces its threshold.
	cfg.MinVolumeUsd = ptrF(100_000)
	res := Matches(cfg, event, snap, now)
	require.False(t, res.Match)
	assert.Equal(t, KindVolume, res.RejectedBy)
}

func TestPolicyTable(t *testing.T) {
	assert.Equal(t, FailOpen, PolicyFor(KindVolume))
	assert.Equal(t, FailOpen, PolicyFor(KindMarketCap))
	assert.Equal(t, FailOpen, PolicyFor(KindHolders))
	assert.Equal(t, FailOpen, PolicyFor(KindDevHolding))
	assert.Equal(t, FailOpen, PolicyFor(KindTop10Holding))
	assert.Equal(t, FailClosed, PolicyFor(KindSocials))
	assert.Equal(t, FailClosed, PolicyFor(KindLiquidityLock))
}

func TestNeedsSnapshot(t *testing.T) {
	assert.False(t, NeedsSnapshot(domain.SniperConfig{}))
	assert.False(t, NeedsSnapshot(domain.SniperConfig{
		NameIncludes:    []string{"dog"},
		MaxMigrationAge: ptrD(time.Minute),
	}))
	assert.True(t, NeedsSnapshot(domain.SniperConfig{MinVolumeUsd: ptrF(1)}))
	assert.True(t, NeedsSnapshot(domain.SniperConfig{RequireLiquidityLock: true}))
}
