package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/densityscalper/internal/crypto"
	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/executor"
	"github.com/alanyoungcy/densityscalper/internal/feed"
	"github.com/alanyoungcy/densityscalper/internal/liquidity"
	"github.com/alanyoungcy/densityscalper/internal/platform/broker"
	"github.com/alanyoungcy/densityscalper/internal/scalper"
	"github.com/alanyoungcy/densityscalper/internal/server"
	"github.com/alanyoungcy/densityscalper/internal/server/handler"
	"github.com/alanyoungcy/densityscalper/internal/server/ws"
	"github.com/alanyoungcy/densityscalper/internal/service"
)

// brokerSession is an authenticated broker connection.
type brokerSession struct {
	client    *broker.Client
	streams   *broker.Streams
	tokens    *broker.TokenProvider
	accountID string
}

// connectBroker loads the secret, authenticates, and resolves the account
// id from the token when none is configured.
func (a *App) connectBroker(ctx context.Context) (*brokerSession, error) {
	bc := a.cfg.Broker
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:      bc.Secret,
		FilePath: bc.SecretFile,
		Password: bc.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: broker secret: %w", err)
	}

	client := broker.NewClient(broker.Config{
		RESTHost:           bc.RestHost,
		RequestTimeout:     bc.RequestTimeout.Duration,
		OrderRatePerSec:    bc.OrderRatePerSec,
		OrderBurst:         bc.OrderBurst,
		BreakerMaxFailures: bc.BreakerMaxFailures,
		BreakerOpenTimeout: bc.BreakerOpenTimeout.Duration,
	}, a.logger)
	streams := broker.NewStreams(bc.WsHost, nil)
	tokens := broker.NewTokenProvider(client, streams, secret, a.logger)
	client.SetAuthorizer(tokens)
	streams.SetAuthorizer(tokens)

	accountID := strings.TrimSpace(bc.AccountID)
	if accountID == "" {
		accountID, err = tokens.AccountID(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: resolve account id: %w", err)
		}
		a.logger.InfoContext(ctx, "account id resolved from token", slog.String("account_id", accountID))
	}
	return &brokerSession{client: client, streams: streams, tokens: tokens, accountID: accountID}, nil
}

// TradeMode streams books and runs the scalper against the live account.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runScalper(ctx, deps, false)
}

// MonitorMode streams books and reports density signals without placing
// orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runScalper(ctx, deps, true)
}

func (a *App) runScalper(ctx context.Context, deps *Dependencies, signalOnly bool) error {
	bs, err := a.connectBroker(ctx)
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(a.cfg.Feed.Symbols))
	for _, s := range a.cfg.Feed.Symbols {
		symbols = append(symbols, liquidity.Normalize(s, a.cfg.Broker.DefaultBoard))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bs.tokens.RunRenewal(ctx) })

	journal := service.NewJournal(service.DefaultJournalQueue, service.JournalSinks{
		Bus:    deps.SignalBus,
		Audit:  deps.AuditStore,
		Alerts: deps.alerter(),
	}, deps.Metrics, a.logger)
	g.Go(func() error { return journal.Run(ctx) })

	books := feed.New(bs.streams, feed.Config{
		Symbols:         symbols,
		Depth:           a.cfg.Feed.Depth,
		PublishInterval: a.cfg.Feed.PublishInterval.Duration,
		ReconnectDelay:  a.cfg.Feed.ReconnectDelay.Duration,
	}, a.logger, deps.Metrics)

	liq := liquidity.NewProvider(broker.Instruments{Client: bs.client, Streams: bs.streams}, liquidity.Config{
		DefaultBoard:   a.cfg.Broker.DefaultBoard,
		ReconnectDelay: a.cfg.Feed.ReconnectDelay.Duration,
	}, a.logger)
	g.Go(func() error { return liq.Start(ctx, bs.accountID, symbols) })

	awaiter := executor.NewAwaiter(executor.DefaultEarlyTTL)
	var gateway domain.TradingGateway
	if !signalOnly {
		gw := broker.NewGateway(bs.client, bs.streams, bs.accountID, a.logger)
		gw.OnOrderUpdate(awaiter.OnOrderUpdate)
		gw.OnOrderUpdate(journal.OnOrderUpdate)
		gw.OnOrderUpdate(func(u domain.OrderUpdate) {
			a.logger.Info("order update",
				slog.String("symbol", u.Symbol),
				slog.String("order_id", u.OrderID),
				slog.String("status", string(u.Status)),
			)
		})
		gw.OnTrade(journal.OnTrade)
		gw.OnTrade(func(t domain.TradeUpdate) {
			a.logger.Info("trade",
				slog.String("symbol", t.Symbol),
				slog.String("trade_id", t.TradeID),
				slog.String("side", string(t.Side)),
				slog.String("price", t.Price.String()),
				slog.String("qty", t.Qty.String()),
			)
		})
		g.Go(func() error { return gw.RunOrderTradeStream(ctx) })
		gateway = gw
	}

	opts := scalper.Options{
		Sink:       journal,
		SignalOnly: signalOnly,
		Metrics:    deps.Metrics,
		LockTTL:    a.cfg.Scalper.LockTTL.Duration,
	}
	if a.cfg.Scalper.DistributedLock && deps.LockManager != nil {
		opts.Locks = deps.LockManager
	}
	engine := scalper.New(gateway, books, liq, awaiter, opts, a.logger)
	books.Subscribe(engine.HandleSnapshot)

	if deps.SignalBus != nil {
		mirror := feed.NewBusMirror(deps.SignalBus, deps.BookCache, 0, a.logger)
		books.Subscribe(mirror.Handle)
		g.Go(func() error { return mirror.Run(ctx) })
	}
	g.Go(func() error { return books.Run(ctx) })

	settings := a.cfg.ToScalperSettings()
	if a.cfg.Scalper.Autostart {
		if err := engine.Start(ctx, settings); err != nil {
			return fmt.Errorf("app: start scalper: %w", err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		if err := engine.Stop(); err == nil {
			a.logger.Info("scalper stopped for shutdown")
		}
		engine.Wait()
		return nil
	})

	if a.cfg.Server.Enabled {
		srv := a.buildServer(ctx, deps, engine, books, settings)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if deps.Notifier != nil {
		mode := "trade"
		if signalOnly {
			mode = "monitor"
		}
		msg := fmt.Sprintf("mode=%s symbols=%s autostart=%t", mode, strings.Join(symbols, ","), a.cfg.Scalper.Autostart)
		if err := deps.Notifier.NotifyAll(ctx, "density scalper started", msg); err != nil {
			a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) buildServer(ctx context.Context, deps *Dependencies, engine *scalper.Engine,
	books domain.BookSource, settings domain.ScalperSettings) *server.Server {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(engine, a.cfg.Mode),
		Control: handler.NewControlHandler(ctx, engine, func() domain.ScalperSettings { return settings },
			a.cfg.Broker.DefaultBoard, a.logger),
		Book:    handler.NewBookHandler(books, deps.BookCache, a.cfg.Feed.Depth, a.cfg.Broker.DefaultBoard, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, ws.Config{Status: func() any { return engine.Status() }}, a.logger)
		go func() { _ = hub.Run(ctx) }()
		h.Hub = hub
	}
	return server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, h, deps.RateLimiter, a.logger)
}
