package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/auth"
	"llm-crypto-trader/internal/broker/binance"
	"llm-crypto-trader/internal/broker/brokerobs"
	"llm-crypto-trader/internal/broker/paper"
	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/llm"
	"llm-crypto-trader/internal/llm/llamacpp"
	"llm-crypto-trader/internal/llm/llmobs"
	"llm-crypto-trader/internal/llm/noop"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/metrics"
	"llm-crypto-trader/internal/portfolio"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/tradelog"
	"llm-crypto-trader/internal/types"
	"llm-crypto-trader/internal/window"
)

// initializeSystem loads .env and starts logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeExchange builds the Binance client. Missing credentials only
// matter when orders are sent to the exchange.
func initializeExchange(ctx context.Context, cfg *store.Config) (*binance.Binance, error) {
	creds, err := auth.Load(cfg.Exchange.Name, cfg.Exchange.AuthLabel)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	sendsOrders := cfg.Trading.Mode == store.ModeLive && !cfg.Trading.DryRun && cfg.Exchange.Executor == store.ExecutorExchange
	if creds.Empty() {
		if sendsOrders {
			return nil, fmt.Errorf("no credentials for %s (label %q): live trading needs an API key", cfg.Exchange.Name, cfg.Exchange.AuthLabel)
		}
		logger.Info(ctx, "No exchange credentials, using public market data only", "exchange", cfg.Exchange.Name)
	}
	return binance.New(binance.ParamsFromConfig(cfg, creds)), nil
}

func initializeInference(ctx context.Context, cfg *store.Config) interfaces.Inference {
	var inf interfaces.Inference
	switch cfg.LLM.Provider {
	case store.ProviderLlamaCpp:
		inf = llamacpp.New(cfg)
		logger.Info(ctx, "Using llama.cpp inference", "endpoint", cfg.LLM.Endpoint, "model", cfg.LLM.Model)
	default:
		inf = noop.New()
		logger.Warn(ctx, "No LLM provider configured - using Noop inference (always HOLD)")
	}
	return llmobs.WrapInference(inf)
}

func initializeDecider(cfg *store.Config, inf interfaces.Inference) interfaces.Decider {
	return llmobs.Wrap(llm.NewContract(inf, llm.OptionsFromConfig(cfg)))
}

// initializeLedger books every fill into the trade log and the fill metrics.
func initializeLedger(cfg *store.Config, journal *tradelog.Log) *portfolio.Ledger {
	l := portfolio.NewLedger(decimal.NewFromFloat(cfg.Portfolio.StartingCash), portfolio.LimitsFromConfig(cfg))
	l.SetRecorder(portfolio.Tee(journal, metrics.FillRecorder{}))
	return l
}

func windowConfig(cfg *store.Config) window.Config {
	return window.Config{
		LookbackDays:     cfg.Trading.LookbackDays,
		MinHistoryBars:   cfg.Trading.MinHistoryBars,
		FetchPaddingDays: cfg.Exchange.FetchPaddingDays,
	}
}

// loadHistoricWindows backfills every symbol from lookback before start up to now.
func loadHistoricWindows(ctx context.Context, cfg *store.Config, md interfaces.MarketData, start time.Time) (*window.Manager, error) {
	var cache *store.CandleCache
	if cfg.Cache.Dir != "" {
		cache = store.NewCandleCache(cfg.Cache.Dir)
	}
	since := start.AddDate(0, 0, -(cfg.Trading.LookbackDays + cfg.Exchange.FetchPaddingDays))
	until := time.Now().UTC()

	series := make(map[string][]types.Candle, len(cfg.Trading.Symbols))
	for _, sym := range cfg.Trading.Symbols {
		candles, err := window.Backfill(ctx, md, cache, sym, since, until)
		if err != nil {
			return nil, err
		}
		series[sym] = candles
	}
	return window.NewHistoric(ctx, series, windowConfig(cfg)), nil
}

// initializeExecutor returns nil for dry runs; the engine then fills at the latest close.
func initializeExecutor(ctx context.Context, cfg *store.Config, ex *binance.Binance, wm *window.Manager) interfaces.Executor {
	if cfg.Trading.DryRun {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
		return nil
	}
	if cfg.Exchange.Executor == store.ExecutorPaper {
		logger.Warn(ctx, "Sending orders to the paper executor")
		return brokerobs.WrapExecutor(paper.New(func(asset string) (float64, bool) {
			return wm.LastClose(asset, time.Now().UTC())
		}))
	}
	logger.Warn(ctx, "LIVE trading enabled - orders go to the exchange", "exchange", cfg.Exchange.Name)
	return brokerobs.WrapExecutor(ex)
}
