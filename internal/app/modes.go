package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/zkdca/internal/executor"
	"github.com/alanyoungcy/zkdca/internal/feed"
	"github.com/alanyoungcy/zkdca/internal/notify"
	"github.com/alanyoungcy/zkdca/internal/platform/aleo"
	"github.com/alanyoungcy/zkdca/internal/server"
	"github.com/alanyoungcy/zkdca/internal/server/handler"
	"github.com/alanyoungcy/zkdca/internal/service"
)

// EngineMode runs the height feed, the executor sweep, and the reconciliation
// loop. The HTTP API is started too when enabled so operators can create and
// inspect positions on the same instance.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildPositionService(deps)
	exec := a.startHeightEngine(ctx, g, deps, svc)
	a.startReconciler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc, exec)
	}

	return g.Wait()
}

// ServeMode runs only the HTTP API. Positions created here are picked up by
// an engine instance sharing the same stores.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: serve mode requires server.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildPositionService(deps)
	a.startNotifyListener(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svc, nil)

	return g.Wait()
}

// ReconcileMode runs a single reconciliation sweep and exits. Useful after a
// crash or as a cron job in deployments that do not run a resident engine.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	rec := service.NewReconciler(
		deps.Executions, deps.Exchange, deps.Audit,
		a.cfg.Engine.ReconcileGrace.Duration, a.logger,
	)
	settled, err := rec.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("app: reconcile sweep: %w", err)
	}
	a.logger.InfoContext(ctx, "reconcile sweep finished", slog.Int("settled", settled))
	return nil
}

// FullMode runs everything: height feed, executor, reconciler, archiver,
// notifications, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildPositionService(deps)
	exec := a.startHeightEngine(ctx, g, deps, svc)
	a.startReconciler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc, exec)
	}

	return g.Wait()
}

// buildPositionService creates the lifecycle service on the wired stores.
func (a *App) buildPositionService(deps *Dependencies) *service.PositionService {
	return service.NewPositionService(
		deps.Positions, deps.Executions, deps.Journal, deps.Audit, deps.Bus, a.logger,
	)
}

// startHeightEngine starts the height feed and the executor sweep, and
// returns the executor so the HTTP server can use it for manual triggers.
func (a *App) startHeightEngine(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.PositionService,
) *executor.Executor {
	var ws *aleo.WSClient
	if a.cfg.Aleo.WsURL != "" {
		ws = aleo.NewWSClient(a.cfg.Aleo.WsURL, a.logger)
	}

	heightFeed := feed.NewHeightFeed(
		deps.Observer, ws, a.cfg.Aleo.PollInterval.Duration, a.logger,
	)

	exec := executor.New(svc, deps.Exchange, deps.Locks, deps.Heights, executor.Config{
		LockTTL:       a.cfg.Engine.LockTTL.Duration,
		DedupTTL:      a.cfg.Engine.DedupTTL.Duration,
		MaxConcurrent: a.cfg.Engine.MaxConcurrent,
		SubmitRetries: a.cfg.Engine.SubmitRetries,
		SubmitBackoff: a.cfg.Engine.SubmitBackoff.Duration,
	}, a.logger)

	g.Go(func() error {
		return heightFeed.Run(ctx)
	})
	g.Go(func() error {
		return exec.Run(ctx, heightFeed.Heights())
	})

	return exec
}

// startReconciler starts the periodic pending-execution sweep.
func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	rec := service.NewReconciler(
		deps.Executions, deps.Exchange, deps.Audit,
		a.cfg.Engine.ReconcileGrace.Duration, a.logger,
	)
	interval := a.cfg.Engine.ReconcileInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	g.Go(func() error {
		return rec.Run(ctx, interval)
	})
}

// startArchiver starts the retention loop exporting settled executions and
// old audit rows to blob storage. No-op when archival is not wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retentionDays := a.cfg.S3.ArchiveRetentionDays

	runOnce := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

		if path, count, err := deps.Archiver.ArchiveExecutions(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "execution archive failed", slog.String("error", err.Error()))
		} else if count > 0 {
			a.logger.InfoContext(ctx, "executions archived",
				slog.String("path", path), slog.Int("count", count))
		}

		if path, count, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "audit archive failed", slog.String("error", err.Error()))
		} else if count > 0 {
			a.logger.InfoContext(ctx, "audit rows archived",
				slog.String("path", path), slog.Int("count", count))
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startNotifyListener bridges bus events to the configured notification
// channels. Skipped when no channel is configured.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !deps.Notifier.HasSenders() {
		return
	}
	listener := notify.NewListener(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return listener.Run(ctx)
	})
}

// startHTTPServer registers the API handlers and runs the server until the
// context is cancelled. trigger may be nil (serve-only mode disables the
// manual execute endpoint).
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.PositionService,
	trigger handler.Trigger,
) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(svc, deps.Executions, trigger, deps.Observer, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
