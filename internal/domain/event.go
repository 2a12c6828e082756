package domain

import "time"

// MigrationEvent is the immutable fact that a token's liquidity migrated from
// its bonding-curve market to an open pool. It is produced once by the
// external detector and never mutated by this system.
type MigrationEvent struct {
	TokenMint        string    `json:"token_mint"`
	PoolAddress      string    `json:"pool_address"`
	CreatorAddress   string    `json:"creator_address,omitempty"`
	TokenName        string    `json:"token_name,omitempty"`
	TokenSymbol      string    `json:"token_symbol,omitempty"`
	TokenCreatedAt   time.Time `json:"token_created_at"`
	DetectedAt       time.Time `json:"detected_at"`
	InitialLiquidity float64   `json:"initial_liquidity"`
}

// Age returns how long ago the migration was detected.
func (e MigrationEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.DetectedAt)
}

// MigrationSpeed returns the time between token creation and migration
// detection. Fast migrations are a common pump signal; snipers can bound it.
func (e MigrationEvent) MigrationSpeed() time.Duration {
	return e.DetectedAt.Sub(e.TokenCreatedAt)
}
