package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradewatch/internal/alert"
	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/evaluator"
	"github.com/alanyoungcy/tradewatch/internal/events"
	"github.com/alanyoungcy/tradewatch/internal/policy"
	"github.com/alanyoungcy/tradewatch/internal/server"
	"github.com/alanyoungcy/tradewatch/internal/server/handler"
	"github.com/alanyoungcy/tradewatch/internal/server/ws"
	"github.com/alanyoungcy/tradewatch/internal/settings"
	"github.com/alanyoungcy/tradewatch/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

// components are the long-lived domain objects built on top of Dependencies.
type components struct {
	settings *settings.Store
	events   *events.Publisher
	policy   *policy.Engine
	alerts   *alert.Dispatcher
	tracker  *tracker.Tracker
}

// buildComponents constructs the domain components and restores their
// persisted state. Load failures are logged and leave the state empty.
func (a *App) buildComponents(ctx context.Context, deps *Dependencies) *components {
	flushDelay := a.cfg.Tracker.FlushInterval.Duration

	st := settings.NewStore(deps.KV, a.logger)
	st.Load(ctx)

	pub := events.NewPublisher(deps.SignalBus, 0, a.logger)

	var opts []policy.Option
	if deps.Audit != nil {
		opts = append(opts, policy.WithAudit(deps.Audit))
	}
	engine := policy.NewEngine(policy.Config{
		QuietHoursBypass: domain.Severity(a.cfg.Policy.QuietHoursBypass),
		LegacyQuietHours: a.cfg.Policy.LegacyQuietHours,
		BatchInterval:    a.cfg.Policy.BatchInterval.Duration,
		QueueSize:        a.cfg.Policy.QueueSize,
		SendTimeout:      a.cfg.Policy.SendTimeout.Duration,
	}, st, deps.Notifier, a.logger, opts...)

	disp := alert.NewDispatcher(deps.KV, engine, alert.Config{
		FlushDelay: flushDelay,
		Events:     pub,
	}, a.logger)
	disp.Load(ctx)

	tr := tracker.New(tracker.Config{
		Trailing:   evaluator.TrailingMode(a.cfg.Tracker.TrailingMode),
		ExitAt:     evaluator.ExitAt(a.cfg.Tracker.ExitAt),
		FlushDelay: flushDelay,
		Archiver:   deps.Archiver,
		Events:     pub,
	}, deps.Feed, deps.KV, disp, st, a.logger)

	// Simulated walks start from the last observed price.
	if deps.SimFeed != nil {
		deps.SimFeed.SetPriceSource(tr.LastPrice)
	}
	tr.Load(ctx)

	return &components{
		settings: st,
		events:   pub,
		policy:   engine,
		alerts:   disp,
		tracker:  tr,
	}
}

// MonitorMode tracks positions and evaluates notification policy, but only
// logs the outcome: no external channel is contacted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode; notifications are logged only")
	return a.run(ctx, deps)
}

// FullMode tracks positions and delivers notifications to every configured
// channel, archiving closed positions when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Any("senders", deps.Notifier.Senders()),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return a.run(ctx, deps)
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	c := a.buildComponents(ctx, deps)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.tracker.Run(gctx) })
	g.Go(func() error { return c.policy.Run(gctx) })
	g.Go(func() error { return c.events.Run(gctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, c)
	}

	err := g.Wait()

	// The tracker has stopped; persist the final alert history.
	c.alerts.Stop()
	a.logger.Info("monitoring stopped",
		slog.Int("active_positions", len(c.tracker.ActivePositions())),
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startHTTPServer registers the API server and, when a signal bus is wired,
// the WebSocket event hub in g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Status: func() (int, int) {
				return len(c.tracker.ActivePositions()), len(c.tracker.Subscriptions())
			},
		})
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, a.logger),
		Positions: handler.NewPositionHandler(c.tracker, a.logger).WithHistory(deps.History),
		Alerts:    handler.NewAlertHandler(c.alerts, a.logger),
		Settings:  handler.NewSettingsHandler(c.settings, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
