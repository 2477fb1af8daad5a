package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"metron-core/internal/backtest"
	"metron-core/internal/data"
	"metron-core/internal/gateway"
	"metron-core/internal/market"
	"metron-core/internal/strategy"
	"metron-core/pkg/config"
	"metron-core/pkg/db"
	"metron-core/pkg/logger"
)

// backtest replays one-minute candles through the live decision logic and
// prints a trade table plus summary metrics.
//
// Usage:
//   go run ./scripts/backtest -mode aggressive -timeframe 5m -limit 3000
//   go run ./scripts/backtest -fetch -symbol ETHUSDT
//
// Without -fetch it reads the configured store. With -fetch it downloads
// the most recent candles from Binance and saves them first.

func main() {
	var (
		symbol    = flag.String("symbol", "", "symbol (defaults to SYMBOL)")
		mode      = flag.String("mode", "balanced", "strategy mode")
		timeframe = flag.Duration("timeframe", 0, "analysis timeframe (defaults to ANALYSIS_TIMEFRAME)")
		limit     = flag.Int("limit", 1000, "one-minute candles to replay")
		fetch     = flag.Bool("fetch", false, "fetch candles from the exchange instead of the store")
		fee       = flag.Float64("fee", 0.001, "fee rate per side")
		slippage  = flag.Float64("slippage", 0.0005, "slippage fraction per fill")
		balance   = flag.Float64("balance", 1000, "initial balance")
		fraction  = flag.Float64("fraction", 0.95, "share of cash committed per entry")
		tp        = flag.Float64("tp", 0, "take profit percent (default 2)")
		sl        = flag.Float64("sl", 0, "stop loss percent (default 1)")
		warmup    = flag.Int("warmup", 50, "bars skipped before the first entry")
	)
	flag.Parse()

	if err := run(*symbol, *mode, *timeframe, *limit, *fetch, backtest.Params{
		FeeRate:          *fee,
		Slippage:         *slippage,
		InitialBalance:   *balance,
		PositionFraction: *fraction,
		TakeProfitPct:    *tp,
		StopLossPct:      *sl,
		Warmup:           *warmup,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(symbol, modeName string, tf time.Duration, limit int, fetch bool, params backtest.Params) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	if symbol == "" {
		symbol = cfg.Symbol
	}
	if tf == 0 {
		tf = cfg.AnalysisTimeframe
	}

	mode, err := strategy.ParseMode(modeName)
	if err != nil {
		return err
	}
	catalog, policy, err := strategy.LoadConfig(cfg.StrategiesFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var store db.Store
	if cfg.StoreDriver == "postgres" {
		store, err = db.NewPostgres(ctx, cfg.DatabaseURL)
	} else {
		store, err = db.Open(cfg.DBPath)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	gw := gateway.NewBinance(gateway.BinanceConfig{Testnet: cfg.BinanceTestnet, Timeout: cfg.GatewayTimeout, Logger: log})
	defer gw.Close()
	history := data.NewHistory(store, gw, log)

	var bars []market.Candle
	if fetch {
		bars, err = history.Fetch(ctx, symbol, limit, true)
	} else {
		bars, err = history.Recent(ctx, symbol, limit)
	}
	if err != nil {
		return err
	}

	params.Mode = mode
	params.Timeframe = tf
	params.Catalog = catalog
	params.Policy = &policy

	res, err := backtest.Run(bars, params)
	if err != nil {
		return err
	}
	res.Symbol = symbol
	return backtest.WriteReport(os.Stdout, res)
}
