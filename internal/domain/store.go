package domain

import (
	"context"
	"time"
)

// SniperStore persists sniper configurations.
type SniperStore interface {
	GetByID(ctx context.Context, id string) (SniperConfig, error)
	ListActive(ctx context.Context) ([]SniperConfig, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Deactivate flips IsActive off and records the reason. Used by the
	// worker's funding fail-safe.
	Deactivate(ctx context.Context, id, reason string) error
	// IncrCounters bumps lifetime attempt/success/failure counters. Callers
	// treat it as fire-and-forget.
	IncrCounters(ctx context.Context, id string, attempted, succeeded, failed int) error
}

// WalletStore persists wallet binding records.
type WalletStore interface {
	GetByID(ctx context.Context, id string) (Wallet, error)
}

// PositionStore persists positions. All status changes are conditional
// updates keyed on the expected prior status; a zero-rows result surfaces as
// ErrStaleTransition so concurrent claimants lose cleanly.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// FindActive returns the non-terminal (pending/open/selling) position for
	// the wallet+mint pair, or ErrNotFound.
	FindActive(ctx context.Context, walletID, tokenMint string) (Position, error)
	// ListAutomated returns open positions with at least one exit rule.
	ListAutomated(ctx context.Context) ([]Position, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Position, error)
	// MarkSelling transitions open -> selling.
	MarkSelling(ctx context.Context, id string) error
	// CloseSelling transitions selling -> closed, recording the exit.
	CloseSelling(ctx context.Context, id string, exitPrice, solReceived float64, sellSig string) error
	// RevertToOpen transitions selling -> open after a failed sell.
	RevertToOpen(ctx context.Context, id string) error
	// ReclaimStuckSelling reverts selling rows older than olderThan back to
	// open. Rows only age like that when a process died between the selling
	// claim and its resolution.
	ReclaimStuckSelling(ctx context.Context, olderThan time.Duration) (int64, error)
	// UpdateHighWater raises highest_price_seen, never lowers it.
	UpdateHighWater(ctx context.Context, id string, price float64) error
}
