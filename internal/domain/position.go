package domain

import "time"

// PositionStatus tracks a position through its sell lifecycle.
//
// Transitions: open -> selling -> closed, with selling -> open allowed on a
// failed sell so the position stays eligible for later triggers. "pending" is
// reserved for a pre-buy reservation write; no code path creates it today,
// but it is treated as non-terminal everywhere so introducing it later cannot
// break the duplicate-buy guard.
type PositionStatus string

const (
	PositionStatusPending PositionStatus = "pending"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusSelling PositionStatus = "selling"
	PositionStatusClosed  PositionStatus = "closed"
)

// Terminal reports whether the status can never change again.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed
}

// Position is one open (or historical) exposure to one token for one wallet.
// It is created by the execution worker only after a confirmed buy and is
// never deleted, only closed. All status changes go through conditional
// store updates keyed on the expected prior status.
type Position struct {
	ID        string `json:"id"`
	SniperID  string `json:"sniper_id"`
	WalletID  string `json:"wallet_id"`
	TokenMint string `json:"token_mint"`

	EntryPrice         float64 `json:"entry_price"`
	EntryAmountSol     float64 `json:"entry_amount_sol"`
	CurrentTokenAmount float64 `json:"current_token_amount"`

	TakeProfitPrice  *float64 `json:"take_profit_price,omitempty"`
	StopLossPrice    *float64 `json:"stop_loss_price,omitempty"`
	TrailingStopPct  *float64 `json:"trailing_stop_pct,omitempty"`
	HighestPriceSeen *float64 `json:"highest_price_seen,omitempty"`

	Status    PositionStatus `json:"status"`
	BuySig    string         `json:"buy_sig"`
	SellSig   *string        `json:"sell_sig,omitempty"`
	ExitPrice *float64       `json:"exit_price,omitempty"`
	ExitSol   *float64       `json:"exit_sol,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// Automated reports whether the position carries at least one exit rule the
// automation engine should evaluate.
func (p Position) Automated() bool {
	return p.TakeProfitPrice != nil || p.StopLossPrice != nil || p.TrailingStopPct != nil
}

// TrailingArmed reports whether the trailing stop is live. The trailing rule
// only arms once the position has been profitable at least once; otherwise a
// token that never moved into profit would trail straight into a sell and
// defeat the separate stop-loss.
func (p Position) TrailingArmed() bool {
	return p.TrailingStopPct != nil &&
		p.HighestPriceSeen != nil &&
		*p.HighestPriceSeen > p.EntryPrice
}
