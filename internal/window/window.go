// Package window serves look-ahead-free candle windows per asset.
package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/types"
)

const Interval = "1d"

type Config struct {
	LookbackDays   int
	MinHistoryBars int
	// FetchPaddingDays widens live fetches so gaps do not starve the window.
	FetchPaddingDays int
	BarInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BarInterval == 0 {
		c.BarInterval = 24 * time.Hour
	}
	if c.MinHistoryBars <= 0 {
		c.MinHistoryBars = 1
	}
	return c
}

// Manager owns the candle series of every asset. It is not safe for concurrent
// mutation; GetWindow returns copies so windows can be shared with decision calls.
type Manager struct {
	cfg    Config
	series map[string][]types.Candle
	source interfaces.MarketData
}

// NewHistoric serves windows from preloaded series. Series are sorted and deduplicated.
func NewHistoric(ctx context.Context, series map[string][]types.Candle, cfg Config) *Manager {
	m := &Manager{cfg: cfg.withDefaults(), series: make(map[string][]types.Candle, len(series))}
	for asset, candles := range series {
		m.series[asset] = normalize(ctx, asset, candles, m.cfg.BarInterval)
	}
	return m
}

// NewLive fetches the latest candles from source on every GetWindow call.
func NewLive(source interfaces.MarketData, cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), series: make(map[string][]types.Candle), source: source}
}

// GetWindow returns up to LookbackDays candles with Ts <= asOf.
func (m *Manager) GetWindow(ctx context.Context, asset string, asOf time.Time) (types.Window, error) {
	if m.source != nil {
		if err := m.refresh(ctx, asset, asOf); err != nil {
			return types.Window{}, err
		}
	}

	candles, ok := m.series[asset]
	if !ok {
		return types.Window{}, fmt.Errorf("%s: %w", asset, types.ErrDataUnavailable)
	}

	// first index strictly after asOf
	end := sort.Search(len(candles), func(i int) bool { return candles[i].Ts.After(asOf) })
	start := max(0, end-m.cfg.LookbackDays)
	if end-start < m.cfg.MinHistoryBars {
		return types.Window{}, fmt.Errorf("%s as of %s: %d bars, need %d: %w",
			asset, asOf.Format(time.RFC3339), end-start, m.cfg.MinHistoryBars, types.ErrInsufficientHistory)
	}

	out := make([]types.Candle, end-start)
	copy(out, candles[start:end])
	return types.Window{Asset: asset, AsOf: asOf, Candles: out}, nil
}

func (m *Manager) refresh(ctx context.Context, asset string, asOf time.Time) error {
	n := m.cfg.LookbackDays + m.cfg.FetchPaddingDays
	// the exchange drops a bar that opened before since, so start on a bar boundary
	since := asOf.UTC().Truncate(m.cfg.BarInterval).Add(-time.Duration(n-1) * m.cfg.BarInterval)
	candles, err := m.source.FetchOHLCV(ctx, asset, Interval, since, n)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", asset, err)
	}
	m.series[asset] = normalize(ctx, asset, candles, m.cfg.BarInterval)
	return nil
}

// Series returns the full normalized series for asset.
func (m *Manager) Series(asset string) []types.Candle {
	return m.series[asset]
}

// BarAfter returns the first bar strictly after t.
func (m *Manager) BarAfter(asset string, t time.Time) (types.Candle, bool) {
	candles := m.series[asset]
	i := sort.Search(len(candles), func(i int) bool { return candles[i].Ts.After(t) })
	if i >= len(candles) {
		return types.Candle{}, false
	}
	return candles[i], true
}

// BarAt returns the bar with timestamp exactly t.
func (m *Manager) BarAt(asset string, t time.Time) (types.Candle, bool) {
	candles := m.series[asset]
	i := sort.Search(len(candles), func(i int) bool { return !candles[i].Ts.Before(t) })
	if i < len(candles) && candles[i].Ts.Equal(t) {
		return candles[i], true
	}
	return types.Candle{}, false
}

// LastClose is the close of the latest bar at or before t.
func (m *Manager) LastClose(asset string, t time.Time) (float64, bool) {
	candles := m.series[asset]
	i := sort.Search(len(candles), func(i int) bool { return candles[i].Ts.After(t) })
	if i == 0 {
		return 0, false
	}
	return candles[i-1].Close, true
}

// normalize sorts by time, keeps the first of duplicate timestamps and warns on gaps.
func normalize(ctx context.Context, asset string, candles []types.Candle, interval time.Duration) []types.Candle {
	sorted := make([]types.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	out := sorted[:0]
	for _, c := range sorted {
		if n := len(out); n > 0 {
			prev := out[n-1].Ts
			if c.Ts.Equal(prev) {
				logger.Warn(ctx, "Dropping duplicate candle", "asset", asset, "ts", c.Ts)
				continue
			}
			if gap := c.Ts.Sub(prev); gap > interval {
				logger.Warn(ctx, "Gap in candle series", "asset", asset, "from", prev, "to", c.Ts, "missing_bars", int(gap/interval)-1)
			}
		}
		out = append(out, c)
	}
	return out
}
