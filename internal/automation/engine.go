// Package automation polls live prices for open positions and drives each
// one through its sell lifecycle exactly once per trigger. There is no lock
// here: the open->selling conditional store update is the whole mechanism,
// and the manual close path goes through the identical transition so the
// poll loop and a user can never race each other into a double sell.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snipekit/sniperbot/internal/domain"
	"github.com/snipekit/sniperbot/internal/notify"
)

// Trigger identifies what fired a sell.
type Trigger string

const (
	TriggerTakeProfit   Trigger = "take_profit"
	TriggerStopLoss     Trigger = "stop_loss"
	TriggerTrailingStop Trigger = "trailing_stop"
	TriggerManual       Trigger = "manual"
)

// Default sell parameters used when the owning sniper config is gone.
const (
	defaultSellSlippageBps = 500
	defaultSellPriorityFee = 0.0005
)

// reclaimInterval is how often selling rows stranded by a crash are swept
// back to open.
const reclaimInterval = 30 * time.Second

// Options configures an Engine.
type Options struct {
	PollInterval time.Duration
	// SellCooldown backs a position off after a failed sell so a position
	// stuck in a failing state is not hot-looped.
	SellCooldown time.Duration
	// PriceTimeout bounds the batched price lookup per tick.
	PriceTimeout time.Duration
	// SellConcurrency bounds how many sells run at once. Sells execute in the
	// background so one slow venue call cannot stall trigger evaluation for
	// the other positions.
	SellConcurrency int
	// ReclaimAfter is how long a position may sit in selling before the sweep
	// reverts it to open. Must exceed the trade client's request timeout.
	ReclaimAfter time.Duration
}

// Engine is the position automation loop.
type Engine struct {
	positions domain.PositionStore
	snipers   domain.SniperStore
	wallets   domain.WalletStore
	prices    domain.PriceSource
	trader    domain.TradeExecutor
	notifier  *notify.Notifier
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time // position ID -> eligible again at

	sellSlots chan struct{}
	sellWG    sync.WaitGroup
}

// New creates an Engine.
func New(
	positions domain.PositionStore,
	snipers domain.SniperStore,
	wallets domain.WalletStore,
	prices domain.PriceSource,
	trader domain.TradeExecutor,
	notifier *notify.Notifier,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.SellCooldown <= 0 {
		opts.SellCooldown = 30 * time.Second
	}
	if opts.PriceTimeout <= 0 {
		opts.PriceTimeout = 3 * time.Second
	}
	if opts.SellConcurrency <= 0 {
		opts.SellConcurrency = 8
	}
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = 5 * time.Minute
	}
	return &Engine{
		positions: positions,
		snipers:   snipers,
		wallets:   wallets,
		prices:    prices,
		trader:    trader,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With(slog.String("component", "automation")),
		cooldowns: make(map[string]time.Time),
		sellSlots: make(chan struct{}, opts.SellConcurrency),
	}
}

// Run executes the poll loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("automation engine started",
		slog.Duration("poll_interval", e.opts.PollInterval),
	)
	defer e.logger.Info("automation engine stopped")
	defer e.sellWG.Wait()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	reclaim := time.NewTicker(reclaimInterval)
	defer reclaim.Stop()

	// Positions stranded in selling by a previous crash rejoin the automated
	// set before the first pass rather than after the first sweep interval.
	e.reclaimStuck(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		case <-reclaim.C:
			e.reclaimStuck(ctx)
		}
	}
}

// Tick runs one full poll pass. Failures are per-position; a bad position or
// a missing price never stops the rest of the pass.
func (e *Engine) Tick(ctx context.Context) {
	positions, err := e.positions.ListAutomated(ctx)
	if err != nil {
		e.logger.Error("list automated positions failed", slog.String("error", err.Error()))
		return
	}
	if len(positions) == 0 {
		return
	}

	prices := e.resolvePrices(ctx, positions)
	now := time.Now()

	for _, pos := range positions {
		price, ok := prices[pos.TokenMint]
		if !ok {
			continue
		}
		trigger, fire := e.evaluate(ctx, pos, price, now)
		if !fire {
			continue
		}
		e.startSell(ctx, pos, trigger)
	}
}

// startSell runs the sell in the background. Evaluation stays on the tick
// loop while execution does not: one slow venue call must never stall
// trigger checks for the remaining positions or the next poll pass. While
// the sell is in flight the position sits in selling, which later ticks do
// not list, so the claim itself keeps the loop from re-dispatching it.
func (e *Engine) startSell(ctx context.Context, pos domain.Position, trigger Trigger) {
	e.sellWG.Add(1)
	go func() {
		defer e.sellWG.Done()
		select {
		case e.sellSlots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.sellSlots }()
		e.sell(ctx, pos, trigger)
	}()
}

// reclaimStuck reverts positions stranded in selling by a crash between the
// claim and its resolution, so they become eligible for triggers again.
func (e *Engine) reclaimStuck(ctx context.Context) {
	n, err := e.positions.ReclaimStuckSelling(ctx, e.opts.ReclaimAfter)
	if err != nil {
		e.logger.Error("reclaim stuck selling positions failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		e.logger.Warn("reclaimed stuck selling positions",
			slog.Int64("count", n),
			slog.Duration("older_than", e.opts.ReclaimAfter),
		)
	}
}

// resolvePrices performs one batched round of price lookups for the distinct
// mints in this tick, bounding external-call volume to one round per tick
// instead of one call per position.
func (e *Engine) resolvePrices(ctx context.Context, positions []domain.Position) map[string]float64 {
	seen := make(map[string]bool, len(positions))
	mints := make([]string, 0, len(positions))
	for _, pos := range positions {
		if !seen[pos.TokenMint] {
			seen[pos.TokenMint] = true
			mints = append(mints, pos.TokenMint)
		}
	}

	priceCtx, cancel := context.WithTimeout(ctx, e.opts.PriceTimeout)
	defer cancel()

	prices, err := e.prices.GetPrices(priceCtx, mints)
	if err != nil {
		e.logger.Warn("price batch lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return prices
}

// evaluate updates the trailing high-water mark and reports which trigger,
// if any, should fire for the position.
func (e *Engine) evaluate(ctx context.Context, pos domain.Position, price float64, now time.Time) (Trigger, bool) {
	// Track the peak before evaluating: the trailing stop computes drawdown
	// from the same peak this tick observed.
	if pos.TrailingStopPct != nil && (pos.HighestPriceSeen == nil || price > *pos.HighestPriceSeen) {
		if err := e.positions.UpdateHighWater(ctx, pos.ID, price); err != nil {
			e.logger.Warn("high-water update failed",
				slog.String("position", pos.ID),
				slog.String("error", err.Error()),
			)
		} else {
			p := price
			pos.HighestPriceSeen = &p
		}
	}

	trigger, ok := e.firedTrigger(pos, price)
	if !ok {
		return "", false
	}

	if e.inCooldown(pos.ID, now) {
		return "", false
	}

	return trigger, true
}

// firedTrigger evaluates triggers in priority order: take-profit, stop-loss,
// trailing-stop.
func (e *Engine) firedTrigger(pos domain.Position, price float64) (Trigger, bool) {
	if pos.TakeProfitPrice != nil && price >= *pos.TakeProfitPrice {
		return TriggerTakeProfit, true
	}
	if pos.StopLossPrice != nil && price <= *pos.StopLossPrice {
		return TriggerStopLoss, true
	}
	if pos.TrailingArmed() {
		peak := *pos.HighestPriceSeen
		if peak > 0 && (peak-price)/peak >= *pos.TrailingStopPct/100 {
			return TriggerTrailingStop, true
		}
	}
	return "", false
}

// sell claims the position and executes the sell. The conditional
// open->selling transition is what makes "exactly one sell attempt per open
// position" true: every concurrent claimant but one observes zero rows
// updated and walks away silently.
func (e *Engine) sell(ctx context.Context, pos domain.Position, trigger Trigger) {
	log := e.logger.With(
		slog.String("position", pos.ID),
		slog.String("token", pos.TokenMint),
		slog.String("trigger", string(trigger)),
	)

	if err := e.positions.MarkSelling(ctx, pos.ID); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// Another trigger or a manual close claimed it first.
			return
		}
		log.Error("mark selling failed", slog.String("error", err.Error()))
		return
	}

	wallet, err := e.wallets.GetByID(ctx, pos.WalletID)
	if err != nil {
		log.Error("wallet lookup failed, reverting", slog.String("error", err.Error()))
		e.revert(ctx, pos.ID, log)
		return
	}

	slippageBps := defaultSellSlippageBps
	priorityFee := defaultSellPriorityFee
	if sniper, err := e.snipers.GetByID(ctx, pos.SniperID); err == nil {
		slippageBps = sniper.SlippageBps
		priorityFee = sniper.PriorityFee
	}

	result, err := e.trader.ExecuteSell(ctx, domain.SellParams{
		Wallet:      wallet,
		TokenMint:   pos.TokenMint,
		TokenAmount: pos.CurrentTokenAmount,
		SlippageBps: slippageBps,
		PriorityFee: priorityFee,
	})
	if err != nil {
		log.Error("sell failed, reverting", slog.String("error", err.Error()))
		e.revert(ctx, pos.ID, log)
		e.setCooldown(pos.ID)
		e.notify(ctx, notify.EventSellFailed, "Sell failed",
			fmt.Sprintf("Sell of %s failed (%s): %v", pos.TokenMint, trigger, err))
		return
	}

	if err := e.positions.CloseSelling(ctx, pos.ID, result.ExitPrice, result.SolReceived, result.Signature); err != nil {
		// The sell went through but the close did not record. Surface it;
		// never re-sell.
		log.Error("close after sell failed", slog.String("error", err.Error()))
		return
	}

	e.clearCooldown(pos.ID)
	log.Info("position closed",
		slog.Float64("exit_price", result.ExitPrice),
		slog.Float64("sol_received", result.SolReceived),
	)
	e.notify(ctx, notify.EventPositionClosed, "Position closed",
		fmt.Sprintf("Sold %s at %.6f (%s), received %.4f SOL", pos.TokenMint, result.ExitPrice, trigger, result.SolReceived))
}

// CloseNow is the manual close path. It uses the identical open->selling
// conditional transition and identical revert-on-failure handling as the
// poll loop, so the two cannot race into a double sell. It returns
// domain.ErrStaleTransition when another claimant got there first.
func (e *Engine) CloseNow(ctx context.Context, positionID string) error {
	pos, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusOpen {
		return domain.ErrStaleTransition
	}

	e.sell(ctx, pos, TriggerManual)

	// Report the fresh status so the caller knows whether this call won.
	after, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if after.Status != domain.PositionStatusClosed {
		return fmt.Errorf("automation: manual close of %s did not complete", positionID)
	}
	return nil
}

func (e *Engine) revert(ctx context.Context, positionID string, log *slog.Logger) {
	if err := e.positions.RevertToOpen(ctx, positionID); err != nil {
		log.Error("revert to open failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) inCooldown(positionID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[positionID]
	return ok && now.Before(until)
}

func (e *Engine) setCooldown(positionID string) {
	e.mu.Lock()
	e.cooldowns[positionID] = time.Now().Add(e.opts.SellCooldown)
	e.mu.Unlock()
}

func (e *Engine) clearCooldown(positionID string) {
	e.mu.Lock()
	delete(e.cooldowns, positionID)
	e.mu.Unlock()
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Notify(ctx, event, title, message)
}
