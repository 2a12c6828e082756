package domain

import "time"

// SniperConfig is one user's automated trading rule set, bound to a single
// wallet. The orchestrator reads every active config on each migration event;
// only counter updates and the IsActive flag are ever written back.
type SniperConfig struct {
	ID       string
	UserID   string
	WalletID string
	Name     string
	IsActive bool

	// Trade parameters.
	BuyAmountSol  float64
	SlippageBps   int
	PriorityFee   float64
	MevProtection bool

	// Entry filters. A nil pointer means the filter is not configured.
	MaxMarketCapUsd      *float64
	MinVolumeUsd         *float64
	MinHolders           *int
	MaxDevHoldingPct     *float64
	MaxTop10HoldingPct   *float64
	RequireTwitter       bool
	RequireTelegram      bool
	RequireWebsite       bool
	RequireLiquidityLock bool
	NameIncludes         []string
	NameExcludes         []string
	MaxMigrationAge      *time.Duration

	// Exit rules. A nil pointer disables the rule.
	TakeProfitPct   *float64
	StopLossPct     *float64
	TrailingStopPct *float64

	// Lifetime counters, updated fire-and-forget.
	SnipesAttempted int
	SnipesSucceeded int
	SnipesFailed    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasExitRules reports whether any position automation rule is configured.
func (c SniperConfig) HasExitRules() bool {
	return c.TakeProfitPct != nil || c.StopLossPct != nil || c.TrailingStopPct != nil
}

// WalletType distinguishes server-custodied wallets (the bot holds the
// encrypted signing key and may spend) from watch-only imports.
type WalletType string

const (
	WalletTypeCustodial WalletType = "custodial"
	WalletTypeWatchOnly WalletType = "watch_only"
)

// Wallet is the binding record between a user and a Solana keypair. The core
// never touches private key material; signing happens inside the external
// trade executor.
type Wallet struct {
	ID        string
	UserID    string
	PublicKey string
	Type      WalletType
	CreatedAt time.Time
}
