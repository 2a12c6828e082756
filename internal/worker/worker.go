// Package worker drains the snipe job queue and executes buys exactly once.
// Dispatch-time locking prevents duplicate jobs; the worker's own
// execution-scoped locks prevent duplicate spends when a job is redelivered
// after a crash mid-execution.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/snipekit/sniperbot/internal/domain"
	"github.com/snipekit/sniperbot/internal/notify"
)

// rateLimitKey is the queue-wide jobs/minute limiter key, shared by every
// worker process to respect upstream transaction-submission limits.
const rateLimitKey = "snipe_jobs"

// positionLinkAttempts bounds retries when the freshly-written trade record
// is not yet durably visible. A benign race between write paths; uniqueness
// is already guaranteed by the execution lock.
const positionLinkAttempts = 3

// Options configures a worker Pool.
type Options struct {
	Concurrency         int
	JobsPerMinute       int
	LockTTL             time.Duration
	PlatformFeePct      float64
	NetworkFeeBufferSol float64
	BalanceReadRetries  int
	// PollInterval is the idle sleep between empty queue polls.
	PollInterval time.Duration
}

// Pool is a bounded pool of execution workers.
type Pool struct {
	queue     domain.JobQueue
	snipers   domain.SniperStore
	wallets   domain.WalletStore
	positions domain.PositionStore
	locks     domain.LockManager
	limiter   domain.RateLimiter
	balances  domain.BalanceCache
	trader    domain.TradeExecutor
	notifier  *notify.Notifier
	opts      Options
	logger    *slog.Logger
}

// NewPool creates a worker Pool.
func NewPool(
	queue domain.JobQueue,
	snipers domain.SniperStore,
	wallets domain.WalletStore,
	positions domain.PositionStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	balances domain.BalanceCache,
	trader domain.TradeExecutor,
	notifier *notify.Notifier,
	opts Options,
	logger *slog.Logger,
) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.JobsPerMinute <= 0 {
		opts.JobsPerMinute = 30
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.BalanceReadRetries <= 0 {
		opts.BalanceReadRetries = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Pool{
		queue:     queue,
		snipers:   snipers,
		wallets:   wallets,
		positions: positions,
		locks:     locks,
		limiter:   limiter,
		balances:  balances,
		trader:    trader,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With(slog.String("component", "worker")),
	}
}

// Run starts Concurrency worker loops and blocks until the context is
// cancelled. A panicking job fails only itself, never the pool.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		slog.Int("concurrency", p.opts.Concurrency),
		slog.Int("jobs_per_minute", p.opts.JobsPerMinute),
	)
	defer p.logger.Info("worker pool stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			return p.runSlot(ctx, slot)
		})
	}
	return g.Wait()
}

// runSlot is one worker's dequeue loop: wait for rate-limit headroom, pop a
// job, process it.
func (p *Pool) runSlot(ctx context.Context, slot int) error {
	log := p.logger.With(slog.Int("slot", slot))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueEmpty) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.opts.PollInterval):
				}
				continue
			}
			log.Error("queue pop failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		// The rate limit is consumed after the pop so an idle worker polling
		// an empty queue doesn't burn quota.
		if err := p.limiter.Wait(ctx, rateLimitKey, p.opts.JobsPerMinute, time.Minute); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("rate limiter failed", slog.String("error", err.Error()))
		}

		p.safeProcess(ctx, job, log)
	}
}

// safeProcess isolates one job: a panic fails the job, not the slot.
func (p *Pool) safeProcess(ctx context.Context, job domain.SnipeJob, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked",
				slog.String("job", job.ID),
				slog.Any("panic", r),
			)
		}
	}()
	p.process(ctx, job)
}

// process runs one job through the full validation and execution pipeline.
// Every abort is logged and final for this job; logical failures are never
// retried automatically.
func (p *Pool) process(ctx context.Context, job domain.SnipeJob) {
	log := p.logger.With(
		slog.String("job", job.ID),
		slog.String("sniper", job.Sniper.ID),
		slog.String("token", job.Event.TokenMint),
	)

	// 1. Re-validate: config and wallet state may have changed since
	// dispatch.
	sniper, err := p.snipers.GetByID(ctx, job.Sniper.ID)
	if err != nil {
		log.Warn("sniper gone, aborting", slog.String("error", err.Error()))
		return
	}
	if !sniper.IsActive {
		log.Info("sniper deactivated since dispatch, aborting")
		return
	}

	wallet, err := p.wallets.GetByID(ctx, job.Sniper.WalletID)
	if err != nil {
		log.Warn("wallet gone, aborting", slog.String("error", err.Error()))
		return
	}
	if wallet.UserID != job.Sniper.UserID || wallet.Type != domain.WalletTypeCustodial {
		// Integrity problem upstream. Hard abort, no side effects.
		log.Error("wallet binding invalid at execution time, aborting")
		return
	}

	// 2. Funding check. The job's config snapshot is authoritative for
	// amounts; it was frozen at dispatch time.
	if ok := p.checkFunding(ctx, job, wallet, log); !ok {
		return
	}

	// 3. Duplicate-position guard beneath the locking layer.
	if _, err := p.positions.FindActive(ctx, wallet.ID, job.Event.TokenMint); err == nil {
		log.Warn("active position already exists, aborting")
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Error("duplicate check failed, aborting", slog.String("error", err.Error()))
		return
	}

	// 4. Execution-scoped two-layer lock, independent from the dispatch
	// locks and longer-lived so it covers on-chain confirmation.
	unlock, err := domain.AcquirePair(ctx, p.locks, domain.LockScopeExecution,
		wallet.ID, job.Sniper.ID, job.Event.TokenMint, p.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Info("execution lock contended, aborting")
		} else {
			log.Error("execution lock failed, aborting", slog.String("error", err.Error()))
		}
		return
	}
	// The locks are not released on the buy path: if the process dies
	// between "trade attempted" and "lock released", an explicit unlock
	// could free the pair while the spend is still settling. TTL expiry
	// guarantees eventual availability either way.
	_ = unlock

	// 5. Buy.
	result, err := p.trader.ExecuteBuy(ctx, domain.BuyParams{
		Wallet:        wallet,
		TokenMint:     job.Event.TokenMint,
		PoolAddress:   job.Event.PoolAddress,
		AmountSol:     job.Sniper.BuyAmountSol,
		SlippageBps:   job.Sniper.SlippageBps,
		PriorityFee:   job.Sniper.PriorityFee,
		MevProtection: job.Sniper.MevProtection,
	})
	if err != nil {
		log.Error("buy failed", slog.String("error", err.Error()))
		if cErr := p.snipers.IncrCounters(ctx, job.Sniper.ID, 0, 0, 1); cErr != nil {
			log.Warn("failure counter update failed", slog.String("error", cErr.Error()))
		}
		p.notify(ctx, notify.EventSnipeFailed, "Snipe failed",
			fmt.Sprintf("Buy of %s for sniper %s failed: %v", job.Event.TokenMint, job.Sniper.Name, err))
		return
	}

	log.Info("buy confirmed",
		slog.String("signature", result.Signature),
		slog.Float64("sol_spent", result.SolSpent),
		slog.Float64("token_amount", result.TokenAmount),
	)

	p.recordPosition(ctx, job, wallet, result, log)

	if err := p.snipers.IncrCounters(ctx, job.Sniper.ID, 0, 1, 0); err != nil {
		log.Warn("success counter update failed", slog.String("error", err.Error()))
	}
	if err := p.balances.Invalidate(ctx, wallet.PublicKey); err != nil {
		log.Warn("balance cache invalidate failed", slog.String("error", err.Error()))
	}
	p.notify(ctx, notify.EventSnipeExecuted, "Snipe executed",
		fmt.Sprintf("Bought %s for %.4f SOL (sniper %s)", job.Event.TokenMint, result.SolSpent, job.Sniper.Name))
}

// checkFunding verifies the wallet can cover the buy plus fees. It retries
// transient read failures but never proceeds on an unverifiable balance:
// proceeding risks a doomed transaction and an orphaned position record. A
// confirmed shortfall deactivates the sniper so it stops bleeding fees.
func (p *Pool) checkFunding(ctx context.Context, job domain.SnipeJob, wallet domain.Wallet, log *slog.Logger) bool {
	requiredSol := job.Sniper.BuyAmountSol +
		job.Sniper.PriorityFee +
		job.Sniper.BuyAmountSol*p.opts.PlatformFeePct/100 +
		p.opts.NetworkFeeBufferSol
	requiredLamports := uint64(requiredSol * 1e9)

	var lamports uint64
	var err error
	for attempt := 1; attempt <= p.opts.BalanceReadRetries; attempt++ {
		lamports, err = p.balances.Get(ctx, wallet.PublicKey)
		if err == nil {
			break
		}
		if attempt < p.opts.BalanceReadRetries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}
	if err != nil {
		// Unverifiable balance is treated as insufficient, but without the
		// deactivation: the wallet may be perfectly funded.
		log.Error("balance unverifiable, aborting", slog.String("error", err.Error()))
		return false
	}

	if lamports >= requiredLamports {
		return true
	}

	log.Warn("insufficient funds, deactivating sniper",
		slog.Uint64("balance_lamports", lamports),
		slog.Uint64("required_lamports", requiredLamports),
	)
	reason := fmt.Sprintf("insufficient funds: have %d lamports, need %d", lamports, requiredLamports)
	if err := p.snipers.Deactivate(ctx, job.Sniper.ID, reason); err != nil {
		log.Error("auto-deactivation failed", slog.String("error", err.Error()))
	}
	if cErr := p.snipers.IncrCounters(ctx, job.Sniper.ID, 0, 0, 1); cErr != nil {
		log.Warn("failure counter update failed", slog.String("error", cErr.Error()))
	}
	p.notify(ctx, notify.EventSniperDeactivated, "Sniper deactivated",
		fmt.Sprintf("Sniper %s was deactivated: wallet %s cannot cover %.4f SOL", job.Sniper.Name, wallet.PublicKey, requiredSol))
	return false
}

// recordPosition persists the position in open state with exit prices
// derived from the frozen config. The insert is retried a few times in case
// the store is briefly behind the trade write; the execution lock already
// guarantees uniqueness, so the retry cannot double-create.
func (p *Pool) recordPosition(ctx context.Context, job domain.SnipeJob, wallet domain.Wallet, result domain.BuyResult, log *slog.Logger) {
	pos := domain.Position{
		ID:                 uuid.New().String(),
		SniperID:           job.Sniper.ID,
		WalletID:           wallet.ID,
		TokenMint:          job.Event.TokenMint,
		EntryPrice:         result.EntryPrice,
		EntryAmountSol:     result.SolSpent,
		CurrentTokenAmount: result.TokenAmount,
		Status:             domain.PositionStatusOpen,
		BuySig:             result.Signature,
		OpenedAt:           time.Now().UTC(),
	}

	if job.Sniper.TakeProfitPct != nil {
		tp := result.EntryPrice * (1 + *job.Sniper.TakeProfitPct/100)
		pos.TakeProfitPrice = &tp
	}
	if job.Sniper.StopLossPct != nil {
		sl := result.EntryPrice * (1 - *job.Sniper.StopLossPct/100)
		pos.StopLossPrice = &sl
	}
	if job.Sniper.TrailingStopPct != nil {
		pct := *job.Sniper.TrailingStopPct
		pos.TrailingStopPct = &pct
	}

	var err error
	for attempt := 1; attempt <= positionLinkAttempts; attempt++ {
		err = p.positions.Create(ctx, pos)
		if err == nil {
			log.Info("position opened", slog.String("position", pos.ID))
			return
		}
		if errors.Is(err, domain.ErrDuplicatePosition) {
			// The last-resort guard fired. The spend happened exactly once
			// under the lock; the duplicate row must be a prior write from
			// this same job's earlier delivery.
			log.Error("duplicate position on insert", slog.String("error", err.Error()))
			return
		}
		if attempt < positionLinkAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
	}
	// The buy succeeded but the position record did not persist. This needs
	// a human; say so loudly.
	log.Error("position record failed after buy",
		slog.String("signature", result.Signature),
		slog.String("error", err.Error()),
	)
}

func (p *Pool) notify(ctx context.Context, event, title, message string) {
	if p.notifier == nil {
		return
	}
	_ = p.notifier.Notify(ctx, event, title, message)
}
