package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/positionbot/internal/pipeline"
	"github.com/alanyoungcy/positionbot/internal/server"
	"github.com/alanyoungcy/positionbot/internal/server/handler"
	"github.com/alanyoungcy/positionbot/internal/server/ws"
	"github.com/alanyoungcy/positionbot/internal/service"
)

// dedupSweepInterval is how often expired idempotency keys are dropped.
const dedupSweepInterval = time.Minute

// APIMode serves the HTTP API and the WebSocket hub.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startDedupSweeper(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// WorkerMode consumes the intents stream. With orchestrator.auto_trade set,
// OPEN and EXIT intents go through the venue; otherwise every intent is
// tracked directly in the position store.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode", slog.Bool("auto_trade", a.cfg.Orchestrator.AutoTrade))
	g, ctx := errgroup.WithContext(ctx)
	a.startIntentConsumer(ctx, g, deps)
	if a.cfg.Orchestrator.AutoTrade {
		a.startDedupSweeper(ctx, g, deps)
	}
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API, the intents worker and the archive job together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startIntentConsumer(ctx, g, deps)
	a.startDedupSweeper(ctx, g, deps)

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention.Duration, a.logger)
		g.Go(func() error {
			return archiver.RunEvery(ctx, a.cfg.Archive.Interval.Duration)
		})
	} else if a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive enabled but no archiver wired; skipping")
	}
	return ignoreCanceled(g.Wait())
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	ledgerTier := "none"
	if deps.Ledger != nil {
		ledgerTier = deps.Ledger.Tier().String()
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		Venue:     deps.Venue.Name(),
		Channels:  []string{service.PositionsChannel},
		StartedAt: time.Now(),
		OpenPositions: func(ctx context.Context) int {
			open, err := deps.Positions.ListOpen(ctx)
			if err != nil {
				return -1
			}
			return len(open)
		},
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Venue.Name(), ledgerTier, deps.Checks, a.logger),
		Signals:   handler.NewSignalHandler(deps.Signals, a.logger),
		Trades:    handler.NewTradeHandler(deps.Orchestrator, a.logger),
		Positions: handler.NewPositionHandler(deps.Positions, deps.LedgerReader, a.logger),
		Prices:    handler.NewPriceHandler(deps.PriceCache, a.logger),
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		APIKey:       a.cfg.Server.APIKey,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, h, hub, deps.RateLimiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) startIntentConsumer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var router pipeline.IntentRouter = pipeline.NewTrackRouter(deps.Signals)
	if a.cfg.Orchestrator.AutoTrade {
		router = pipeline.NewTradeRouter(deps.Classifier, deps.Orchestrator, deps.Positions)
	}
	consumer := pipeline.NewIntentConsumer(deps.SignalBus, router, a.logger)
	g.Go(func() error { return consumer.Run(ctx) })
}

func (a *App) startDedupSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	dedup := deps.Orchestrator.Dedup()
	g.Go(func() error {
		ticker := time.NewTicker(dedupSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				dedup.Cleanup()
			}
		}
	})
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
