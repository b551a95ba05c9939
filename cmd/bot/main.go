// Auction-theory trading core — a single-symbol perpetual futures bot built
// on Auction Market Theory: value areas, order-flow imbalance, and
// break-in/breakout/failed-breakout signals drive position entries and exits
// against Bybit v5 linear perpetuals.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go           — orchestrator: single-threaded event loop driving bar -> feature -> signal -> position
//	bar/aggregator.go,window.go — C1/C2: builds 1-minute bars from trades/quotes, keeps the rolling history
//	feature/engine.go          — C3: volatility, value area (POC/VAH/VAL), order-flow, QIMB EMA
//	signal/engine.go           — C4: acceptance sequencing, break-in/breakout/failed-breakout signals
//	position/manager.go        — C5: risk sizing, TP1/TP2 partials, stop/time exits, daily loss gate
//	exchange/client.go,paper.go — C6: live Bybit REST execution and paper simulation
//	collector/bybit.go         — C7: Bybit public WebSocket market data
//	store/store.go             — C9: SQLite persistence for bars, features, signals, positions, trades, orders
//	api/server.go              — read-only dashboard: snapshot, manual flatten, Prometheus metrics
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"auction-trader/internal/api"
	"auction-trader/internal/config"
	"auction-trader/internal/engine"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("auction trading core started",
		"symbol", cfg.Instrument.Symbol,
		"exchange", cfg.Instrument.Exchange,
		"timeframe", cfg.Instrument.Timeframe,
		"dry_run", cfg.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() {
		startErr <- eng.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-startErr:
		if err != nil {
			logger.Error("engine stopped with error", "error", err)
		}
	}

	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
