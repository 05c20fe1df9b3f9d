// Package engine drives the decision loop: windows, decisions, reconciliation
// and ledger updates, step by step, in historic or live mode.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/metrics"
	"llm-crypto-trader/internal/portfolio"
	"llm-crypto-trader/internal/reconcile"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/tradelog"
	"llm-crypto-trader/internal/types"
	"llm-crypto-trader/internal/window"
)

// Deps are the collaborators of one run. Journal is optional.
type Deps struct {
	Windows    *window.Manager
	Decider    interfaces.Decider
	Reconciler *reconcile.Reconciler
	Ledger     *portfolio.Ledger
	// Executor places live orders; nil means every fill is simulated.
	Executor interfaces.Executor
	Journal  *tradelog.Log
}

type Options struct {
	Symbols []string
	DryRun  bool
	// ProgressEvery logs a progress line every n historic steps; 0 disables it.
	ProgressEvery int
	// StepTimeout bounds one live step; collaborator calls carry their own timeouts too.
	StepTimeout time.Duration
	Now         func() time.Time
}

func OptionsFromConfig(cfg *store.Config) Options {
	return Options{
		Symbols:       cfg.Trading.Symbols,
		DryRun:        cfg.Trading.DryRun,
		ProgressEvery: cfg.Trading.ProgressEvery,
	}
}

// Engine owns the ledger. Steps run one at a time on the caller's goroutine;
// Latest and Snapshot may be called from any goroutine.
type Engine struct {
	d    Deps
	opts Options
	exec *orderExecutor
	// primary is the first configured symbol; its bars form the historic timeline.
	primary string

	mu     sync.RWMutex
	latest *types.StepReport
	snap   portfolio.Snapshot
}

func New(d Deps, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{d: d, opts: opts}
	if len(opts.Symbols) > 0 {
		e.primary = opts.Symbols[0]
	}
	symbols := append([]string(nil), opts.Symbols...)
	sort.Strings(symbols)
	e.opts.Symbols = symbols

	e.exec = newOrderExecutor(d.Ledger, d.Executor, opts.DryRun || d.Executor == nil, opts.Now)
	e.snap = d.Ledger.Snapshot()
	return e
}

// pricing tells a step where fills and marks come from.
type pricing struct {
	// fill returns the fill price and time for an order on asset.
	fill   func(asset string) (float64, time.Time, bool)
	mark   portfolio.PriceLookup
	markTs time.Time
	// tradable reports whether asset can be decided on at all this step.
	tradable func(asset string) (string, bool)
}

// step runs one full decision cycle as of asOf.
func (e *Engine) step(ctx context.Context, asOf time.Time, p pricing) *types.StepReport {
	start := time.Now()
	defer func() { metrics.StepDuration.Observe(time.Since(start).Seconds()) }()

	rep := &types.StepReport{AsOf: asOf, MarkTs: p.markTs}

	windows := make(map[string]types.Window, len(e.opts.Symbols))
	refPrices := make(map[string]float64, len(e.opts.Symbols))
	for _, asset := range e.opts.Symbols {
		if p.tradable != nil {
			if reason, ok := p.tradable(asset); !ok {
				e.skip(ctx, rep, asset, reason, nil)
				continue
			}
		}
		w, err := e.d.Windows.GetWindow(ctx, asset, asOf)
		if err != nil {
			reason := "data_unavailable"
			if errors.Is(err, types.ErrInsufficientHistory) {
				reason = "insufficient_history"
			}
			e.skip(ctx, rep, asset, reason, err)
			continue
		}
		windows[asset] = w
		refPrices[asset] = w.Last().Close
	}

	if len(windows) > 0 {
		sd := e.d.Decider.Decide(ctx, windows)
		rep.Decisions, rep.Pairs = sd.Decisions, sd.Pairs
		e.journalDecisions(ctx, asOf, sd)

		batch := e.d.Reconciler.Reconcile(sd.Decisions, sd.Pairs, e.d.Ledger, refPrices)
		rep.Orders, rep.Diagnostics = batch.Orders, batch.Diagnostics
		for _, dg := range batch.Diagnostics {
			metrics.Diagnostics.WithLabelValues(string(dg.Kind)).Inc()
			logger.Risk(ctx, dg.Asset, string(dg.Kind), "detail", dg.Detail)
		}

		for _, o := range batch.Orders {
			metrics.OrdersTotal.WithLabelValues(o.Asset, string(o.Side), string(o.Origin)).Inc()
			e.exec.execute(ctx, rep, o, p.fill)
		}
	}

	rep.Equity = e.d.Ledger.MarkToEquity(p.mark, p.markTs)
	metrics.Equity.Set(rep.Equity.Equity.InexactFloat64())
	metrics.Cash.Set(rep.Equity.Cash.InexactFloat64())

	e.publish(rep)
	return rep
}

func (e *Engine) skip(ctx context.Context, rep *types.StepReport, asset, reason string, err error) {
	rep.Skipped = append(rep.Skipped, types.Skipped{Asset: asset, Reason: reason})
	metrics.SkippedAssets.WithLabelValues(reason).Inc()
	if err != nil {
		logger.Warn(ctx, "Skipping asset for step", "asset", asset, "reason", reason, "error", err)
		return
	}
	logger.Debug(ctx, "Skipping asset for step", "asset", asset, "reason", reason)
}

func (e *Engine) journalDecisions(ctx context.Context, asOf time.Time, sd types.StepDecisions) {
	if e.d.Journal == nil {
		return
	}
	for _, d := range sd.Decisions {
		var pairs []types.PairSuggestion
		for _, p := range sd.Pairs {
			if p.LongAsset == d.Asset || p.ShortAsset == d.Asset {
				pairs = append(pairs, p)
			}
		}
		if err := e.d.Journal.AppendDecision(asOf, d, pairs, nil); err != nil {
			logger.Warn(ctx, "Failed to journal decision", "asset", d.Asset, "error", err)
		}
	}
}

func (e *Engine) publish(rep *types.StepReport) {
	snap := e.d.Ledger.Snapshot()
	e.mu.Lock()
	e.latest = rep
	e.snap = snap
	e.mu.Unlock()
}

// Latest is the report of the most recent step, nil before the first one.
func (e *Engine) Latest() *types.StepReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Snapshot is the portfolio as of the end of the most recent step.
func (e *Engine) Snapshot() portfolio.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}
