package domain

import (
	"fmt"
	"time"
)

// SnipeJob is one buy attempt queued by the dispatch orchestrator for the
// execution worker pool. The sniper configuration is embedded as a frozen
// snapshot so that filter and amount edits made after dispatch cannot change
// what gets executed.
type SnipeJob struct {
	ID       string         `json:"id"`
	Sniper   SniperConfig   `json:"sniper"`
	Event    MigrationEvent `json:"event"`
	Priority int            `json:"priority"`
	QueuedAt time.Time      `json:"queued_at"`
}

// JobID builds the deterministic job identity for a dispatch. Including the
// dispatch timestamp keeps redelivered copies of the same event
// distinguishable in logs while the locking layer enforces uniqueness.
func JobID(sniperID, tokenMint string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", sniperID, tokenMint, at.UnixMilli())
}

// JobPriority maps a priority fee to a queue priority. Lower numbers are
// served first, so a higher fee buys a lower number. The coefficients are
// tunable policy, not a contract.
func JobPriority(priorityFee float64, base, perSolFee int) int {
	p := base - int(priorityFee*float64(perSolFee))
	if p < 0 {
		return 0
	}
	if p > base {
		return base
	}
	return p
}
