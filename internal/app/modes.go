package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scorepeers/settlement/internal/pipeline"
	"github.com/scorepeers/settlement/internal/server"
	"github.com/scorepeers/settlement/internal/server/handler"
	"github.com/scorepeers/settlement/internal/server/ws"
	"github.com/scorepeers/settlement/internal/service"
)

// services holds the application services shared by every mode.
type services struct {
	auth       *service.StaticAuthorizer
	settlement *service.SettlementService
	contests   *service.ContestService
	entries    *service.EntryService
	outcomes   *service.OutcomeService
	lifecycle  *service.LifecycleService
}

func (a *App) buildServices(deps *Dependencies) *services {
	auth := service.NewStaticAuthorizer(a.cfg.Auth.Grants())

	settlement := service.NewSettlementService(deps.UnitOfWork, auth, deps.LockManager, service.SettlementConfig{
		LockTTL:   a.cfg.Settlement.LockTTL.Duration,
		LockWait:  a.cfg.Settlement.LockWait.Duration,
		LockPoll:  a.cfg.Settlement.LockPoll.Duration,
		TxTimeout: a.cfg.Settlement.TxTimeout.Duration,
	}, a.logger).
		WithEvents(deps.SignalBus).
		WithCache(deps.ContestCache).
		WithNotifier(deps.Notifier)

	contests := service.NewContestService(
		deps.UnitOfWork, auth, deps.Contests, deps.Props, deps.Ledger, deps.Audit, a.logger,
	).WithCache(deps.ContestCache)

	// Receipts is a pointer; only hand it over when set so the services see a
	// nil interface otherwise.
	if deps.Receipts != nil {
		settlement.WithReceipts(deps.Receipts)
		contests.WithReceipts(deps.Receipts)
	}

	return &services{
		auth:       auth,
		settlement: settlement,
		contests:   contests,
		entries:    service.NewEntryService(deps.UnitOfWork, deps.ContestCache, a.logger),
		outcomes:   service.NewOutcomeService(deps.UnitOfWork, auth, a.logger),
		lifecycle: service.NewLifecycleService(deps.UnitOfWork, deps.Contests, settlement, deps.Notifier, service.LifecycleConfig{
			AutoRefund:   a.cfg.Lifecycle.AutoRefund,
			BatchSize:    a.cfg.Lifecycle.BatchSize,
			RealertAfter: a.cfg.Lifecycle.RealertAfter.Duration,
		}, a.logger),
	}
}

// ServerMode serves the HTTP API and the WebSocket event hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// WorkerMode runs the lifecycle sweeper and, when enabled, the ledger archiver.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// FullMode runs the API and the background jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startPipeline(ctx, g, deps, svcs)
	return g.Wait()
}

// startHTTPServer adds the WebSocket hub and the HTTP server to the group.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Pingers, a.logger),
		Contests:   handler.NewContestHandler(svcs.contests, svcs.entries, a.logger),
		Settlement: handler.NewSettlementHandler(svcs.settlement, a.logger),
		Props:      handler.NewPropHandler(svcs.contests, svcs.outcomes, a.logger),
		Audit:      handler.NewAuditHandler(svcs.contests, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Auth.APIKeys(),
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Authorizer:  svcs.auth,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPipeline adds the background job orchestrator to the group.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	var sweeper pipeline.Sweeper
	if a.cfg.Lifecycle.Enabled {
		sweeper = svcs.lifecycle
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	if sweeper == nil && archiver == nil {
		a.logger.WarnContext(ctx, "lifecycle and archive both disabled, no background jobs to run")
		return
	}

	orch := pipeline.NewOrchestrator(sweeper, archiver, a.cfg.Lifecycle.SweepInterval.Duration, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}
