package filter

import (
	"strings"
	"time"

	"github.com/snipekit/sniperbot/internal/domain"
)

// MaxEventAge is the staleness bound for migration events. A stale event is a
// race already lost; acting on it buys the top of someone else's exit.
const MaxEventAge = 30 * time.Second

// Result is the outcome of evaluating one config against one event.
type Result struct {
	Match      bool
	RejectedBy Kind
}

// Matches evaluates the config's filters against the event in order,
// short-circuiting on the first failure. snap may be zero-valued when no
// provider data could be fetched; each section's availability flag plus the
// policy table decides what that means.
func Matches(cfg domain.SniperConfig, event domain.MigrationEvent, snap domain.TokenSnapshot, now time.Time) Result {
	// 1. Freshness. Never configurable and never fail-open.
	if event.Age(now) > MaxEventAge {
		return rejected(KindFreshness)
	}

	// 2. Name / symbol patterns.
	if !nameMatches(cfg, event) {
		return rejected(KindNamePattern)
	}

	// 3. Migration speed.
	if cfg.MaxMigrationAge != nil && event.MigrationSpeed() > *cfg.MaxMigrationAge {
		return rejected(KindMigrationAge)
	}

	// 4. Threshold filters against the aux snapshot.
	if cfg.MinVolumeUsd != nil {
		if !snap.MarketDataOK {
			if !allowOnUnavailable(KindVolume) {
				return rejected(KindVolume)
			}
		} else if snap.VolumeUsd < *cfg.MinVolumeUsd {
			return rejected(KindVolume)
		}
	}

	if cfg.MaxMarketCapUsd != nil {
		if !snap.MarketDataOK {
			if !allowOnUnavailable(KindMarketCap) {
				return rejected(KindMarketCap)
			}
		} else if snap.MarketCapUsd > *cfg.MaxMarketCapUsd {
			return rejected(KindMarketCap)
		}
	}

	if cfg.MinHolders != nil {
		if !snap.HoldersOK {
			if !allowOnUnavailable(KindHolders) {
				return rejected(KindHolders)
			}
		} else if snap.HolderCount < *cfg.MinHolders {
			return rejected(KindHolders)
		}
	}

	if cfg.MaxDevHoldingPct != nil {
		if !snap.HoldersOK {
			if !allowOnUnavailable(KindDevHolding) {
				return rejected(KindDevHolding)
			}
		} else if snap.DevHoldingPct > *cfg.MaxDevHoldingPct {
			return rejected(KindDevHolding)
		}
	}

	if cfg.MaxTop10HoldingPct != nil {
		if !snap.HoldersOK {
			if !allowOnUnavailable(KindTop10Holding) {
				return rejected(KindTop10Holding)
			}
		} else if snap.Top10HoldingPct > *cfg.MaxTop10HoldingPct {
			return rejected(KindTop10Holding)
		}
	}

	// 5. Presence requirements.
	if cfg.RequireTwitter || cfg.RequireTelegram || cfg.RequireWebsite {
		if !snap.MetadataOK {
			if !allowOnUnavailable(KindSocials) {
				return rejected(KindSocials)
			}
		} else if (cfg.RequireTwitter && !snap.HasTwitter) ||
			(cfg.RequireTelegram && !snap.HasTelegram) ||
			(cfg.RequireWebsite && !snap.HasWebsite) {
			return rejected(KindSocials)
		}
	}

	if cfg.RequireLiquidityLock {
		if !snap.MetadataOK {
			if !allowOnUnavailable(KindLiquidityLock) {
				return rejected(KindLiquidityLock)
			}
		} else if !snap.LiquidityLocked {
			return rejected(KindLiquidityLock)
		}
	}

	return Result{Match: true}
}

func rejected(kind Kind) Result {
	return Result{Match: false, RejectedBy: kind}
}

// nameMatches applies the include/exclude substring patterns against the
// token's name and symbol, case-insensitively. An empty include list matches
// everything; any exclude hit rejects.
func nameMatches(cfg domain.SniperConfig, event domain.MigrationEvent) bool {
	haystack := strings.ToLower(event.TokenName + " " + event.TokenSymbol)

	for _, pat := range cfg.NameExcludes {
		if pat != "" && strings.Contains(haystack, strings.ToLower(pat)) {
			return false
		}
	}

	if len(cfg.NameIncludes) == 0 {
		return true
	}
	for _, pat := range cfg.NameIncludes {
		if pat != "" && strings.Contains(haystack, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// NeedsSnapshot reports whether any of the config's filters consult external
// token analysis. The orchestrator uses it to skip the aux fetch entirely
// when no active config needs it.
func NeedsSnapshot(cfg domain.SniperConfig) bool {
	return cfg.MinVolumeUsd != nil ||
		cfg.MaxMarketCapUsd != nil ||
		cfg.MinHolders != nil ||
		cfg.MaxDevHoldingPct != nil ||
		cfg.MaxTop10HoldingPct != nil ||
		cfg.RequireTwitter || cfg.RequireTelegram || cfg.RequireWebsite ||
		cfg.RequireLiquidityLock
}
