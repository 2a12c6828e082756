// Package filter decides whether a migration event satisfies one sniper
// config's rule set. Evaluation is pure: all external data arrives through a
// pre-fetched domain.TokenSnapshot shared by every config evaluating the same
// event.
package filter

// Kind identifies one filter for the availability policy table and for
// rejection reasons.
type Kind string

const (
	KindFreshness     Kind = "freshness"
	KindNamePattern   Kind = "name_pattern"
	KindMigrationAge  Kind = "migration_age"
	KindVolume        Kind = "volume"
	KindMarketCap     Kind = "market_cap"
	KindHolders       Kind = "holders"
	KindDevHolding    Kind = "dev_holding"
	KindTop10Holding  Kind = "top10_holding"
	KindSocials       Kind = "socials"
	KindLiquidityLock Kind = "liquidity_lock"
)

// Policy says what a filter does when the data it needs is unavailable.
type Policy int

const (
	// FailOpen allows the trade on missing data. Numeric threshold filters
	// fail open so a provider outage cannot starve every sniper.
	FailOpen Policy = iota
	// FailClosed rejects on missing data. Presence-requirement filters fail
	// closed: a false negative only costs a missed trade, not a bad one.
	FailClosed
)

// availabilityPolicy is the single auditable table of missing-data behavior.
// Filters that do not consult external data never look it up.
var availabilityPolicy = map[Kind]Policy{
	KindVolume:        FailOpen,
	KindMarketCap:     FailOpen,
	KindHolders:       FailOpen,
	KindDevHolding:    FailOpen,
	KindTop10Holding:  FailOpen,
	KindSocials:       FailClosed,
	KindLiquidityLock: FailClosed,
}

// PolicyFor returns the missing-data policy for a filter kind.
func PolicyFor(kind Kind) Policy {
	return availabilityPolicy[kind]
}

// allowOnUnavailable reports whether a filter of the given kind passes when
// its data is unavailable.
func allowOnUnavailable(kind Kind) bool {
	return availabilityPolicy[kind] == FailOpen
}
