package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-crypto-trader/internal/broker/brokerobs"
	"llm-crypto-trader/internal/engine"
	"llm-crypto-trader/internal/engine/engineobs"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/metrics"
	"llm-crypto-trader/internal/reconcile"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/tradelog"
	"llm-crypto-trader/internal/window"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	mode := flag.String("mode", "", "override trading.mode (historic|live)")
	start := flag.String("start", "", "override trading.historic_start (YYYY-MM-DD)")
	flag.Parse()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mode, *start); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorWithErr(ctx, "Trader exited with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, mode, start string) error {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	if mode != "" || start != "" {
		if mode != "" {
			cfg.Trading.Mode = mode
		}
		if start != "" {
			cfg.Trading.HistoricStart = start
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger.Info(ctx, "Configuration loaded",
		"mode", cfg.Trading.Mode,
		"symbols", cfg.Trading.Symbols,
		"dry_run", cfg.Trading.DryRun,
		"provider", cfg.LLM.Provider)

	ex, err := initializeExchange(ctx, cfg)
	if err != nil {
		return err
	}
	md := brokerobs.WrapMarketData(ex)

	journal := tradelog.New(cfg.Output.LogDir)
	if cfg.Output.RetentionDays > 0 {
		if err := journal.CompressOlder(cfg.Output.RetentionDays); err != nil {
			logger.Warn(ctx, "Failed to compress old trade logs", "error", err)
		}
	}

	var wm *window.Manager
	if cfg.Trading.Mode == store.ModeHistoric {
		startAt, err := cfg.HistoricStartTime()
		if err != nil {
			return err
		}
		if wm, err = loadHistoricWindows(ctx, cfg, md, startAt); err != nil {
			return err
		}
	} else {
		wm = window.NewLive(md, windowConfig(cfg))
	}

	deps := engine.Deps{
		Windows:    wm,
		Decider:    initializeDecider(cfg, initializeInference(ctx, cfg)),
		Reconciler: reconcile.New(reconcile.PolicyFromConfig(cfg)),
		Ledger:     initializeLedger(cfg, journal),
		Journal:    journal,
	}
	if cfg.Trading.Mode == store.ModeLive {
		deps.Executor = initializeExecutor(ctx, cfg, ex, wm)
	}
	e := engine.New(deps, engine.OptionsFromConfig(cfg))

	servers := startServers(ctx, cfg, e)
	defer shutdownServers(servers)

	if cfg.Trading.Mode == store.ModeHistoric {
		return runHistoric(ctx, cfg, e)
	}
	return engine.NewLive(engineobs.Wrap(e), cfg.PollInterval(), cfg.PollInterval()).Run(ctx)
}

func runHistoric(ctx context.Context, cfg *store.Config, e *engine.Engine) error {
	startAt, err := cfg.HistoricStartTime()
	if err != nil {
		return err
	}
	res, err := engine.NewHistoric(e, startAt, cfg.Output.EquityPath).Run(ctx)
	if res != nil {
		b, _ := json.MarshalIndent(res.Summary, "", "  ")
		fmt.Println(string(b))
	}
	return err
}

func startServers(ctx context.Context, cfg *store.Config, e *engine.Engine) []*http.Server {
	var servers []*http.Server
	if cfg.Metrics.Addr != "" {
		servers = append(servers, metrics.Serve(cfg.Metrics.Addr))
		logger.Info(ctx, "Serving metrics", "addr", cfg.Metrics.Addr)
	}
	if cfg.Status.Addr != "" {
		servers = append(servers, e.ServeStatus(cfg.Status.Addr))
		logger.Info(ctx, "Serving status", "addr", cfg.Status.Addr)
	}
	return servers
}

func shutdownServers(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(ctx)
	}
}
