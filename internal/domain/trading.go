package domain

import "context"

// BuyResult is the outcome of a confirmed on-chain buy.
type BuyResult struct {
	Signature   string
	TokenAmount float64
	SolSpent    float64
	EntryPrice  float64
}

// SellResult is the outcome of a confirmed on-chain sell.
type SellResult struct {
	Signature   string
	SolReceived float64
	ExitPrice   float64
}

// BuyParams carries the frozen trade parameters for one buy attempt.
type BuyParams struct {
	Wallet        Wallet
	TokenMint     string
	PoolAddress   string
	AmountSol     float64
	SlippageBps   int
	PriorityFee   float64
	MevProtection bool
}

// SellParams carries the trade parameters for one sell attempt.
type SellParams struct {
	Wallet      Wallet
	TokenMint   string
	TokenAmount float64
	SlippageBps int
	PriorityFee float64
}

// TradeExecutor is the external transaction-construction and submission
// layer. Signing happens entirely inside it; the core never sees key
// material. Errors are terminal for the attempt and are never retried here:
// retrying a failed trade risks double execution.
type TradeExecutor interface {
	ExecuteBuy(ctx context.Context, p BuyParams) (BuyResult, error)
	ExecuteSell(ctx context.Context, p SellParams) (SellResult, error)
}

// BalanceReader reads a wallet's on-chain lamport balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, publicKey string) (uint64, error)
}

// PriceSource resolves current token prices. GetPrices performs one batched
// round of lookups; tokens it cannot resolve are absent from the result.
type PriceSource interface {
	GetPrice(ctx context.Context, tokenMint string) (float64, error)
	GetPrices(ctx context.Context, tokenMints []string) (map[string]float64, error)
}

// TokenAnalyzer exposes the external token-analysis providers. Each call
// returns ErrUnavailable when the provider cannot serve; the filter policy
// table decides what that means per filter.
type TokenAnalyzer interface {
	GetMarketData(ctx context.Context, tokenMint string) (MarketData, error)
	GetHolderAnalysis(ctx context.Context, tokenMint string) (HolderAnalysis, error)
	GetTokenMetadata(ctx context.Context, tokenMint string) (TokenMetadata, error)
}
