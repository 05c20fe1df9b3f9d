package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/report"
	"llm-crypto-trader/internal/types"
)

type State int32

const (
	Initializing State = iota
	Stepping
	Finished
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Stepping:
		return "stepping"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Result struct {
	Points  []types.EquityPoint
	Reports []*types.StepReport
	Summary report.Summary
}

// Historic replays the loaded series from start, filling every order at the
// open of the asset's next bar.
type Historic struct {
	e          *Engine
	start      time.Time
	equityPath string
	state      atomic.Int32
}

// NewHistoric prepares a replay. The equity curve is written to equityPath
// when the run ends; an empty path skips the file.
func NewHistoric(e *Engine, start time.Time, equityPath string) *Historic {
	return &Historic{e: e, start: start.UTC(), equityPath: equityPath}
}

func (h *Historic) State() State { return State(h.state.Load()) }

func (h *Historic) setState(s State) { h.state.Store(int32(s)) }

// Run executes the whole replay. Only range errors are fatal; a cancelled
// context stops between steps and the partial curve is still written.
func (h *Historic) Run(ctx context.Context) (*Result, error) {
	h.setState(Initializing)
	timeline, err := h.timeline()
	if err != nil {
		return nil, err
	}

	h.setState(Stepping)
	logger.Info(ctx, "Historic run started", "start", h.start, "steps", len(timeline)-1, "symbols", h.e.opts.Symbols)

	res := &Result{Points: make([]types.EquityPoint, 0, len(timeline)-1)}
	var runErr error
	for i := 0; i+1 < len(timeline); i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		t, next := timeline[i], timeline[i+1]
		rep := h.e.step(ctx, t, h.pricing(t, next))
		res.Reports = append(res.Reports, rep)
		res.Points = append(res.Points, rep.Equity)

		if n := h.e.opts.ProgressEvery; n > 0 && len(res.Points)%n == 0 {
			logger.Info(ctx, "Historic progress", "step", len(res.Points), "equity", rep.Equity.Equity.StringFixed(2), "at", rep.Equity.Ts)
		}
	}

	res.Summary = summarize(h.e.d.Ledger.StartingCash(), res.Points, res.Reports)
	if h.equityPath != "" {
		if err := report.WriteEquityCSV(h.equityPath, res.Points); err != nil {
			return res, fmt.Errorf("write equity curve: %w", err)
		}
		logger.Info(ctx, "Saved equity curve", "path", h.equityPath, "rows", len(res.Points))
	}
	h.setState(Finished)
	logger.Info(ctx, "Historic run finished",
		"steps", res.Summary.Steps,
		"final_equity", res.Summary.FinalEquity.StringFixed(2),
		"total_return", res.Summary.TotalReturn,
		"max_drawdown", res.Summary.MaxDrawdown,
		"fills", res.Summary.Fills,
		"rejected", res.Summary.Rejected,
		"degraded", res.Summary.Degraded,
	)
	return res, runErr
}

// timeline checks that start can be replayed for every asset and returns the
// primary asset's bar times from start on.
func (h *Historic) timeline() ([]time.Time, error) {
	if len(h.e.opts.Symbols) == 0 {
		return nil, &types.BacktestRangeError{Start: h.start, Reason: "no symbols configured"}
	}
	for _, asset := range h.e.opts.Symbols {
		series := h.e.d.Windows.Series(asset)
		if len(series) == 0 {
			return nil, &types.BacktestRangeError{Asset: asset, Start: h.start, Reason: "no candles loaded"}
		}
		first, last := series[0].Ts, series[len(series)-1].Ts
		switch {
		case first.After(h.start):
			return nil, &types.BacktestRangeError{Asset: asset, Start: h.start, First: first, Last: last, Reason: "no bar at or before start"}
		case !last.After(h.start):
			return nil, &types.BacktestRangeError{Asset: asset, Start: h.start, First: first, Last: last, Reason: "no bar after start to fill at"}
		}
	}

	var ts []time.Time
	for _, c := range h.e.d.Windows.Series(h.e.primary) {
		if !c.Ts.Before(h.start) {
			ts = append(ts, c.Ts)
		}
	}
	if len(ts) < 2 {
		series := h.e.d.Windows.Series(h.e.primary)
		return nil, &types.BacktestRangeError{Asset: h.e.primary, Start: h.start, First: series[0].Ts, Last: series[len(series)-1].Ts,
			Reason: "need a bar at or after start and one after it"}
	}
	return ts, nil
}

func (h *Historic) pricing(t, next time.Time) pricing {
	w := h.e.d.Windows
	return pricing{
		tradable: func(asset string) (string, bool) {
			_, ok := w.BarAfter(asset, t)
			return "no_next_bar", ok
		},
		fill: func(asset string) (float64, time.Time, bool) {
			bar, ok := w.BarAfter(asset, t)
			return bar.Open, bar.Ts, ok
		},
		mark: func(asset string) (float64, bool) {
			if bar, ok := w.BarAt(asset, next); ok {
				return bar.Open, true
			}
			return w.LastClose(asset, next)
		},
		markTs: next,
	}
}

func summarize(start decimal.Decimal, points []types.EquityPoint, reports []*types.StepReport) report.Summary {
	s := report.Summarize(start, points)
	for _, r := range reports {
		s.Fills += len(r.Fills)
		s.Rejected += len(r.Rejections)
		s.Skipped += len(r.Skipped)
		for _, d := range r.Decisions {
			if d.Degraded {
				s.Degraded++
			}
		}
		for _, dg := range r.Diagnostics {
			if dg.Kind == types.DiagConflictingSignal {
				s.Conflicts++
			}
		}
	}
	return s
}
