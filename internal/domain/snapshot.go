package domain

import "time"

// TokenSnapshot is a pre-fetched snapshot of external token analysis, shared
// by every sniper config evaluating the same migration event. Each section
// carries its own availability flag; the filter policy table decides whether
// a missing section allows or rejects.
type TokenSnapshot struct {
	TokenMint string
	FetchedAt time.Time

	// Volume / market data.
	MarketDataOK bool
	VolumeUsd    float64
	MarketCapUsd float64
	PriceUsd     float64

	// Holder analysis.
	HoldersOK       bool
	HolderCount     int
	DevHoldingPct   float64
	Top10HoldingPct float64

	// Metadata and socials.
	MetadataOK      bool
	HasTwitter      bool
	HasTelegram     bool
	HasWebsite      bool
	LiquidityLocked bool
}

// MarketData is the volume/market-cap slice returned by an analysis provider.
type MarketData struct {
	VolumeUsd    float64
	MarketCapUsd float64
	PriceUsd     float64
}

// HolderAnalysis is the concentration slice returned by an analysis provider.
type HolderAnalysis struct {
	HolderCount     int
	DevHoldingPct   float64
	Top10HoldingPct float64
}

// TokenMetadata is the socials/lock slice returned by an analysis provider.
type TokenMetadata struct {
	HasTwitter      bool
	HasTelegram     bool
	HasWebsite      bool
	LiquidityLocked bool
}
