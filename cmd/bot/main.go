// Pair Farm — a delta-neutral pair execution bot for perpetual futures.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — cycle controller: IDLE → BUILD → MONITOR → UNWIND state machine
//	gate/spread.go        — pre-trade spread filter with optional bounded entry wait
//	sizing/estimator.go   — liquidity-aware order sizing within a slippage budget
//	execution/placer.go   — IOC / post-only order placement with fill verification
//	accounting/           — per-cycle PnL, fees, funding; append-only cycle + spread logs
//	marketdata/           — per-leg order book mirror fed by the WebSocket stream
//	exchange/client.go    — REST client for the perp venue (orders, positions, funding)
//	exchange/ws.go        — public market stream (depth + BBO) with auto-reconnect
//
// How it farms points:
//
//	The bot opens a delta-neutral pair — long one perp, short another of
//	equal notional — so directional exposure nets to ~zero while both legs
//	generate trading volume. Each cycle pays fees and crosses spreads, so
//	the gate only enters when the pair spread is wide enough to cover the
//	round trip, and sizing keeps per-order slippage inside a fixed budget.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pairfarm/internal/accounting"
	"pairfarm/internal/config"
	"pairfarm/internal/engine"
	"pairfarm/internal/exchange"
	"pairfarm/internal/execution"
	"pairfarm/internal/gate"
	"pairfarm/internal/marketdata"
	"pairfarm/internal/sizing"
	"pairfarm/pkg/types"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FARM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Venue clients
	var auth *exchange.Auth
	if !cfg.DryRun {
		auth, err = exchange.NewAuth(cfg.API.ApiKey, cfg.API.Secret)
		if err != nil {
			logger.Error("failed to initialize auth", "error", err)
			os.Exit(1)
		}
	}
	client := exchange.NewClient(cfg.API.RESTBaseURL, auth, cfg.DryRun, logger)
	feed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)

	legs := [types.Legs]types.LegSpec{
		{Ticker: cfg.Pair.LegATicker, ContractID: cfg.Pair.LegAContract, TickSize: cfg.Pair.LegATick},
		{Ticker: cfg.Pair.LegBTicker, ContractID: cfg.Pair.LegBContract, TickSize: cfg.Pair.LegBTick},
	}
	view := marketdata.NewView(legs, client, logger)

	// Logs and accounting
	cycleLog, err := accounting.OpenCycleLog(cfg.Log.CycleLog)
	if err != nil {
		logger.Error("failed to open cycle log", "error", err, "path", cfg.Log.CycleLog)
		os.Exit(1)
	}
	defer cycleLog.Close()

	spreadLog, err := accounting.OpenSpreadLog(cfg.Log.SpreadLog)
	if err != nil {
		logger.Error("failed to open spread log", "error", err, "path", cfg.Log.SpreadLog)
		os.Exit(1)
	}
	if spreadLog != nil {
		defer spreadLog.Close()
	}

	accountant := accounting.New(cfg.Fees, cycleLog, spreadLog, logger)

	// Decision and execution layers
	spreadGate := gate.New(cfg.Gate, view, logger)
	estimator := sizing.New(cfg.Sizing, logger)
	placer := execution.New(client, cfg.Execution, cfg.Pair.Leverage, logger)

	eng := engine.New(*cfg, client, view, spreadGate, estimator, placer, accountant, feed, logger)
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("pair farm started",
		"pair", cfg.Pair.LegATicker+"/"+cfg.Pair.LegBTicker,
		"notional_usd", cfg.Pair.NotionalUSD,
		"leverage", cfg.Pair.Leverage,
		"min_spread_bps", cfg.Gate.MinSpreadBps,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal or the engine finishing on its own
	// (iteration cap or halt).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.Done():
		logger.Info("engine finished")
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
