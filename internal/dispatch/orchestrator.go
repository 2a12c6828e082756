// Package dispatch matches incoming migration events against every active
// sniper config and enqueues at most one buy job per match. Duplicate-job
// suppression is the two-layer dispatch lock: wallet-level first so configs
// sharing a wallet cannot both queue a buy for the same token, then
// sniper-level.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snipekit/sniperbot/internal/auxdata"
	"github.com/snipekit/sniperbot/internal/domain"
	"github.com/snipekit/sniperbot/internal/filter"
	"github.com/snipekit/sniperbot/internal/notify"
)

// sweepInterval is how often the aux snapshot cache is swept for leaks.
const sweepInterval = 30 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// MaxEventAge overrides the default event staleness bound.
	MaxEventAge time.Duration
	// FanoutLimit bounds concurrent filter evaluation per event.
	FanoutLimit int
	// LockTTL bounds dispatch-scope lock lifetime.
	LockTTL time.Duration
	// BasePriority / PriorityPerSolFee tune the fee-to-priority mapping.
	BasePriority      int
	PriorityPerSolFee int
}

// Orchestrator consumes migration events and fans them out across sniper
// configs. One Run loop per process; correctness across processes comes from
// the lock store, not from the orchestrator itself.
type Orchestrator struct {
	events   <-chan domain.MigrationEvent
	snipers  domain.SniperStore
	wallets  domain.WalletStore
	locks    domain.LockManager
	queue    domain.JobQueue
	aux      *auxdata.Fetcher
	notifier *notify.Notifier
	opts     Options
	logger   *slog.Logger
}

// New creates an Orchestrator reading from events.
func New(
	events <-chan domain.MigrationEvent,
	snipers domain.SniperStore,
	wallets domain.WalletStore,
	locks domain.LockManager,
	queue domain.JobQueue,
	aux *auxdata.Fetcher,
	notifier *notify.Notifier,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if opts.MaxEventAge <= 0 {
		opts.MaxEventAge = filter.MaxEventAge
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = 16
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.BasePriority <= 0 {
		opts.BasePriority = 100
	}
	return &Orchestrator{
		events:   events,
		snipers:  snipers,
		wallets:  wallets,
		locks:    locks,
		queue:    queue,
		aux:      aux,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With(slog.String("component", "dispatch")),
	}
}

// Run consumes events until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("dispatch orchestrator started")
	defer o.logger.Info("dispatch orchestrator stopped")

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-o.events:
			if !ok {
				return nil
			}
			o.Dispatch(ctx, event)

		case <-sweepTicker.C:
			o.aux.Sweep()
		}
	}
}

// Dispatch runs the full fan-out for a single event. Per-config failures are
// isolated; nothing here returns an error because there is no caller that
// could do better than log and move on.
func (o *Orchestrator) Dispatch(ctx context.Context, event domain.MigrationEvent) {
	log := o.logger.With(slog.String("token", event.TokenMint))
	now := time.Now().UTC()

	// Stale events are a race already lost; duplicates of an event the
	// detector redelivers also die here once they age out.
	if event.Age(now) > o.opts.MaxEventAge {
		log.Debug("event stale, dropping",
			slog.Duration("age", event.Age(now)),
		)
		return
	}

	configs, err := o.loadCandidates(ctx, log)
	if err != nil {
		log.Error("load sniper configs failed", slog.String("error", err.Error()))
		return
	}
	if len(configs) == 0 {
		return
	}

	// Fetch the aux snapshot once for the whole fan-out, and only if some
	// config actually consults it.
	var snap domain.TokenSnapshot
	snap.TokenMint = event.TokenMint
	for _, c := range configs {
		if filter.NeedsSnapshot(c.cfg) {
			snap = o.aux.Snapshot(ctx, event.TokenMint)
			break
		}
	}
	defer o.aux.Evict(event.TokenMint)

	var matched, dispatched, contended int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FanoutLimit)
	for _, c := range configs {
		g.Go(func() error {
			res := filter.Matches(c.cfg, event, snap, now)
			if !res.Match {
				return nil
			}
			atomic.AddInt64(&matched, 1)

			switch o.dispatchOne(gctx, c, event, now) {
			case dispatchOK:
				atomic.AddInt64(&dispatched, 1)
			case dispatchContended:
				atomic.AddInt64(&contended, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("event dispatched",
		slog.Int("configs", len(configs)),
		slog.Int64("matched", matched),
		slog.Int64("queued", dispatched),
		slog.Int64("lock_contended", contended),
	)
}

type dispatchOutcome int

const (
	dispatchOK dispatchOutcome = iota
	dispatchContended
	dispatchFailed
)

// candidate pairs a sniper config with its screened wallet.
type candidate struct {
	cfg    domain.SniperConfig
	wallet domain.Wallet
}

// loadCandidates loads every active config and screens its wallet binding.
// A config whose wallet is missing, owned by someone else, or not
// server-custodied is discarded: a misconfigured sniper must never spend
// from a wallet it does not control.
func (o *Orchestrator) loadCandidates(ctx context.Context, log *slog.Logger) ([]candidate, error) {
	configs, err := o.snipers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list active snipers: %w", err)
	}

	candidates := make([]candidate, 0, len(configs))
	for _, cfg := range configs {
		wallet, err := o.wallets.GetByID(ctx, cfg.WalletID)
		if err != nil {
			log.Warn("sniper wallet missing, skipping",
				slog.String("sniper", cfg.ID),
				slog.String("wallet", cfg.WalletID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if wallet.UserID != cfg.UserID || wallet.Type != domain.WalletTypeCustodial {
			log.Warn("sniper wallet binding invalid, skipping",
				slog.String("sniper", cfg.ID),
				slog.String("wallet", cfg.WalletID),
			)
			continue
		}
		candidates = append(candidates, candidate{cfg: cfg, wallet: wallet})
	}
	return candidates, nil
}

// dispatchOne acquires the two-layer dispatch lock and enqueues the job. The
// locks are deliberately left to expire via TTL rather than released after a
// successful enqueue: the job is now in flight and the TTL window is what
// suppresses duplicate dispatches from event redelivery.
func (o *Orchestrator) dispatchOne(ctx context.Context, c candidate, event domain.MigrationEvent, now time.Time) dispatchOutcome {
	log := o.logger.With(
		slog.String("sniper", c.cfg.ID),
		slog.String("token", event.TokenMint),
	)

	unlock, err := domain.AcquirePair(ctx, o.locks, domain.LockScopeDispatch,
		c.wallet.ID, c.cfg.ID, event.TokenMint, o.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Debug("dispatch lock contended, skipping")
			return dispatchContended
		}
		log.Error("dispatch lock acquisition failed", slog.String("error", err.Error()))
		return dispatchFailed
	}

	job := domain.SnipeJob{
		ID:       domain.JobID(c.cfg.ID, event.TokenMint, now),
		Sniper:   c.cfg,
		Event:    event,
		Priority: domain.JobPriority(c.cfg.PriorityFee, o.opts.BasePriority, o.opts.PriorityPerSolFee),
		QueuedAt: now,
	}

	if err := o.queue.Push(ctx, job); err != nil {
		// The job never made it onto the queue; release the pair so a
		// redelivered event can retry.
		unlock()
		log.Error("enqueue failed", slog.String("error", err.Error()))
		return dispatchFailed
	}

	log.Info("snipe job queued",
		slog.String("job", job.ID),
		slog.Int("priority", job.Priority),
	)

	// Counter and notification updates are fire-and-forget: they must never
	// block or fail the dispatch path.
	if err := o.snipers.IncrCounters(ctx, c.cfg.ID, 1, 0, 0); err != nil {
		log.Warn("counter update failed", slog.String("error", err.Error()))
	}
	if o.notifier != nil {
		_ = o.notifier.Notify(ctx, notify.EventSnipeDispatched,
			"Snipe dispatched",
			fmt.Sprintf("Sniper %s queued a buy for token %s", c.cfg.Name, event.TokenMint),
		)
	}
	return dispatchOK
}
