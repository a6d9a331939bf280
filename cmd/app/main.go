package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"deribit_go/internal/app"
	"deribit_go/internal/cli"
	"deribit_go/internal/engine"
	"deribit_go/internal/event"
	"deribit_go/internal/execution"
	"deribit_go/internal/infra/deribit"
	"deribit_go/internal/server"
	"deribit_go/internal/strategy"

	"github.com/shopspring/decimal"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background Instrument Sync
	go bootstrap.SyncInstruments(ctx)

	// 5. Market-Data Engine (The Hotpath)
	event.Warmup()
	eng := engine.NewMarketData(engine.Options{
		Workers:        cfg.Engine.Workers,
		QueueCapacity:  cfg.Engine.QueueCapacity,
		LatencySamples: cfg.Engine.LatencySamples,
	})
	eng.Start()
	defer eng.Stop()
	slog.InfoContext(ctx, "✅ Market-data engine started",
		slog.Int("workers", cfg.Engine.Workers))

	// 6. Authentication + Order Routing (trading is optional; the gateway
	// keeps serving market data when credentials are absent or rejected)
	var orders *deribit.OrderClient
	if cfg.API.Deribit.ClientID != "" {
		auth := deribit.NewAuthenticator(
			cfg.API.Deribit.BaseURL,
			cfg.API.Deribit.ClientID,
			cfg.API.Deribit.ClientSecret,
		)
		if err := auth.Authenticate(ctx); err != nil {
			slog.Error("Authentication failed, trading disabled", slog.Any("error", err))
		} else {
			orders = deribit.NewOrderClient(
				cfg.API.Deribit.BaseURL, auth, bootstrap.Storage,
				cfg.Orders.Workers, cfg.Orders.QueueCapacity,
			)
			defer orders.Close()
			slog.InfoContext(ctx, "✅ Order routing ready")
		}
	} else {
		slog.Warn("No API credentials configured, trading disabled")
	}

	// 7. Feed Session
	feed := deribit.NewFeedSession(cfg.API.Deribit.WSURL, eng)
	for _, sym := range cfg.API.Deribit.Symbols {
		feed.Subscribe(sym)
	}
	if err := feed.Connect(ctx); err != nil {
		slog.Error("Feed connect failed", slog.Any("error", err))
	}
	defer feed.Disconnect()
	slog.InfoContext(ctx, "✅ Feed session started",
		slog.Int("symbols", len(cfg.API.Deribit.Symbols)))

	// 8. Local Fan-out Server
	srv := server.NewServer(cfg.Server.WebsocketPort, eng)
	srv.Start()
	defer srv.Stop()

	// 9. Optional Market-Making Strategy
	if cfg.Strategy.Enabled && orders != nil {
		maker := strategy.NewMarketMaker(strategy.MarketMakerConfig{
			Instrument:  cfg.Strategy.Instrument,
			SpreadBps:   decimal.NewFromFloat(cfg.Strategy.SpreadBps),
			QuoteAmount: decimal.NewFromFloat(cfg.Strategy.QuoteAmount),
			MaxPosition: decimal.NewFromFloat(cfg.Strategy.MaxPosition),
			TickSize:    decimal.NewFromFloat(cfg.Strategy.TickSize),
		})
		router := execution.NewRouter(maker, orders)
		router.SetPlacementHook(maker.OnOrderPlaced)
		eng.RegisterCallback(router.OnBookUpdate)
		slog.InfoContext(ctx, "✅ Market maker running",
			slog.String("instrument", cfg.Strategy.Instrument))
	}

	slog.InfoContext(ctx, "✨ Deribit gateway fully operational")

	// 10. Operator Console (blocks until exit or signal)
	var desk cli.OrderDesk
	if orders != nil {
		desk = orders
	}
	console := cli.NewConsole(os.Stdin, os.Stdout, eng, feed, desk)
	done := make(chan struct{})
	go func() {
		console.Run(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	slog.Info("👋 Shutting down gracefully...")
}
