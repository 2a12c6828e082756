package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snipekit/sniperbot/internal/archive"
	"github.com/snipekit/sniperbot/internal/automation"
	"github.com/snipekit/sniperbot/internal/auxdata"
	"github.com/snipekit/sniperbot/internal/dispatch"
	"github.com/snipekit/sniperbot/internal/feed"
	"github.com/snipekit/sniperbot/internal/server"
	"github.com/snipekit/sniperbot/internal/server/handler"
	"github.com/snipekit/sniperbot/internal/worker"
)

// feedBuffer absorbs migration bursts between the WebSocket read loop and the
// dispatch loop.
const feedBuffer = 128

// serverShutdownTimeout bounds how long in-flight operator requests may run
// after the context is cancelled.
const serverShutdownTimeout = 10 * time.Second

// SniperMode runs the complete pipeline in one process: migration feed,
// dispatch orchestrator, execution workers, position automation, and the
// operator API.
func (a *App) SniperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sniper mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startDispatch(ctx, g, deps)
	a.startWorkers(ctx, g, deps)
	engine := a.startAutomation(ctx, g, deps)
	a.startArchive(ctx, g, deps)
	a.startServer(ctx, g, deps, engine)

	return g.Wait()
}

// DispatchMode runs only the migration feed and the dispatch orchestrator.
func (a *App) DispatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dispatch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startDispatch(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs only the execution worker pool.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	return g.Wait()
}

// AutomationMode runs the position automation engine plus the operator API,
// which needs the engine for manual closes.
func (a *App) AutomationMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting automation mode")

	g, ctx := errgroup.WithContext(ctx)
	engine := a.startAutomation(ctx, g, deps)
	a.startArchive(ctx, g, deps)
	a.startServer(ctx, g, deps, engine)
	return g.Wait()
}

// startDispatch launches the migration WebSocket feed and the orchestrator
// consuming it.
func (a *App) startDispatch(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	wsFeed := feed.NewMigrationWS(a.cfg.Feed.WsURL, feedBuffer, a.logger)

	aux := auxdata.NewFetcher(deps.Analyzer, a.cfg.Dispatch.SnapshotTTL.Duration, a.logger)

	orch := dispatch.New(
		wsFeed.Events(),
		deps.SniperStore,
		deps.WalletStore,
		deps.LockManager,
		deps.JobQueue,
		aux,
		deps.Notifier,
		dispatch.Options{
			MaxEventAge:       a.cfg.Dispatch.MaxEventAge.Duration,
			FanoutLimit:       a.cfg.Dispatch.FanoutLimit,
			LockTTL:           a.cfg.Dispatch.LockTTL.Duration,
			BasePriority:      a.cfg.Dispatch.BasePriority,
			PriorityPerSolFee: a.cfg.Dispatch.PriorityPerSolFee,
		},
		a.logger,
	)

	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startWorkers launches the execution worker pool.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	pool := worker.NewPool(
		deps.JobQueue,
		deps.SniperStore,
		deps.WalletStore,
		deps.PositionStore,
		deps.LockManager,
		deps.RateLimiter,
		deps.BalanceCache,
		deps.Trader,
		deps.Notifier,
		worker.Options{
			Concurrency:         a.cfg.Worker.Concurrency,
			JobsPerMinute:       a.cfg.Worker.JobsPerMinute,
			LockTTL:             a.cfg.Worker.LockTTL.Duration,
			PlatformFeePct:      a.cfg.Worker.PlatformFeePct,
			NetworkFeeBufferSol: a.cfg.Worker.NetworkFeeBufferSol,
			BalanceReadRetries:  a.cfg.Worker.BalanceReadRetries,
			PollInterval:        a.cfg.Worker.PollInterval.Duration,
		},
		a.logger,
	)

	g.Go(func() error {
		return pool.Run(ctx)
	})
}

// startAutomation launches the position automation engine and returns it so
// the operator API can share its manual close path.
func (a *App) startAutomation(ctx context.Context, g *errgroup.Group, deps *Dependencies) *automation.Engine {
	engine := automation.New(
		deps.PositionStore,
		deps.SniperStore,
		deps.WalletStore,
		deps.Prices,
		deps.Trader,
		deps.Notifier,
		automation.Options{
			PollInterval:    a.cfg.Automation.PollInterval.Duration,
			SellCooldown:    a.cfg.Automation.SellCooldown.Duration,
			PriceTimeout:    a.cfg.Automation.PriceTimeout.Duration,
			SellConcurrency: a.cfg.Automation.SellConcurrency,
			ReclaimAfter:    a.cfg.Automation.ReclaimAfter.Duration,
		},
		a.logger,
	)

	g.Go(func() error {
		return engine.Run(ctx)
	})
	return engine
}

// startArchive launches the cold storage export loop when configured.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	runner := archive.New(
		deps.Archiver,
		archive.Options{
			Interval:      a.cfg.Archive.Interval.Duration,
			RetentionDays: a.cfg.Archive.RetentionDays,
		},
		a.logger,
	)

	g.Go(func() error {
		return runner.Run(ctx)
	})
}

// startServer launches the operator API when enabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, closer handler.Closer) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(
		server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Positions: handler.NewPositionHandler(deps.PositionStore, closer, a.logger),
			Snipers:   handler.NewSniperHandler(deps.SniperStore, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
