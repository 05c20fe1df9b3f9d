package window

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bars(n int) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		p := float64(100 + i)
		out[i] = types.Candle{Ts: t0.AddDate(0, 0, i), Open: p - 0.5, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	return out
}

type fakeSource struct {
	series    map[string][]types.Candle
	calls     int
	err       error
	lastSince time.Time
}

func (f *fakeSource) FetchOHLCV(_ context.Context, asset, _ string, since time.Time, limit int) ([]types.Candle, error) {
	f.calls++
	f.lastSince = since
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Candle
	for _, c := range f.series[asset] {
		if !c.Ts.Before(since) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestGetWindow_NoLookAhead(t *testing.T) {
	m := NewHistoric(context.Background(), map[string][]types.Candle{"BTC/USDT": bars(30)}, Config{LookbackDays: 10, MinHistoryBars: 5})

	asOf := t0.AddDate(0, 0, 15)
	w, err := m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	require.Equal(t, 10, w.Len())
	assert.Equal(t, asOf, w.Last().Ts)
	for _, c := range w.Candles {
		assert.False(t, c.Ts.After(asOf))
	}

	// between bars: the latest bar at or before asOf is last
	w, err = m.GetWindow(context.Background(), "BTC/USDT", asOf.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, asOf, w.Last().Ts)
}

func TestGetWindow_IdempotentAndCopied(t *testing.T) {
	m := NewHistoric(context.Background(), map[string][]types.Candle{"BTC/USDT": bars(30)}, Config{LookbackDays: 10, MinHistoryBars: 5})
	asOf := t0.AddDate(0, 0, 20)

	a, err := m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	a.Candles[0].Close = -1

	b, err := m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, b.Candles[0].Close)
	assert.Equal(t, a.Len(), b.Len())
}

func TestGetWindow_InsufficientHistory(t *testing.T) {
	m := NewHistoric(context.Background(), map[string][]types.Candle{"BTC/USDT": bars(30)}, Config{LookbackDays: 10, MinHistoryBars: 5})

	_, err := m.GetWindow(context.Background(), "BTC/USDT", t0.AddDate(0, 0, 2))
	assert.True(t, errors.Is(err, types.ErrInsufficientHistory))

	_, err = m.GetWindow(context.Background(), "BTC/USDT", t0.AddDate(0, 0, -1))
	assert.True(t, errors.Is(err, types.ErrInsufficientHistory))

	_, err = m.GetWindow(context.Background(), "DOGE/USDT", t0)
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
}

func TestNormalize_SortsAndDedupes(t *testing.T) {
	in := bars(5)
	dup := in[2]
	dup.Close = 999
	shuffled := []types.Candle{in[4], in[2], dup, in[0], in[1], in[3]}
	// a missing day leaves a gap that is only warned about
	shuffled = append(shuffled, types.Candle{Ts: t0.AddDate(0, 0, 8), Close: 1})

	m := NewHistoric(context.Background(), map[string][]types.Candle{"ETH/USDT": shuffled}, Config{LookbackDays: 30, MinHistoryBars: 1})
	s := m.Series("ETH/USDT")
	require.Len(t, s, 6)
	for i := 1; i < len(s); i++ {
		assert.True(t, s[i].Ts.After(s[i-1].Ts))
	}
	assert.Equal(t, in[2].Close, s[2].Close)
}

func TestBarLookups(t *testing.T) {
	m := NewHistoric(context.Background(), map[string][]types.Candle{"BTC/USDT": bars(3)}, Config{LookbackDays: 3})

	next, ok := m.BarAfter("BTC/USDT", t0)
	require.True(t, ok)
	assert.Equal(t, t0.AddDate(0, 0, 1), next.Ts)

	_, ok = m.BarAfter("BTC/USDT", t0.AddDate(0, 0, 2))
	assert.False(t, ok)

	c, ok := m.LastClose("BTC/USDT", t0.AddDate(0, 0, 1).Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, 101.0, c)

	_, ok = m.LastClose("BTC/USDT", t0.Add(-time.Hour))
	assert.False(t, ok)

	bar, ok := m.BarAt("BTC/USDT", t0.AddDate(0, 0, 2))
	require.True(t, ok)
	assert.Equal(t, 102.0, bar.Close)
	_, ok = m.BarAt("BTC/USDT", t0.Add(time.Hour))
	assert.False(t, ok)
}

func TestLiveManager_FetchesEachCall(t *testing.T) {
	src := &fakeSource{series: map[string][]types.Candle{"BTC/USDT": bars(40)}}
	m := NewLive(src, Config{LookbackDays: 10, MinHistoryBars: 5, FetchPaddingDays: 2})

	asOf := t0.AddDate(0, 0, 39)
	w, err := m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	assert.Equal(t, 10, w.Len())
	assert.Equal(t, asOf, w.Last().Ts)

	_, err = m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	src.err = types.ErrDataUnavailable
	_, err = m.GetWindow(context.Background(), "BTC/USDT", asOf)
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
}

func TestLiveManager_IntradayFetchStartsOnBarBoundary(t *testing.T) {
	src := &fakeSource{series: map[string][]types.Candle{"BTC/USDT": bars(40)}}
	m := NewLive(src, Config{LookbackDays: 10, MinHistoryBars: 5, FetchPaddingDays: 2})

	asOf := t0.AddDate(0, 0, 39).Add(14*time.Hour + 30*time.Minute)
	w, err := m.GetWindow(context.Background(), "BTC/USDT", asOf)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 28), src.lastSince)
	assert.Len(t, m.Series("BTC/USDT"), 12)
	assert.Equal(t, 10, w.Len())
	assert.Equal(t, t0.AddDate(0, 0, 39), w.Last().Ts)
}

func TestBackfill_PagesAndCaches(t *testing.T) {
	series := make([]types.Candle, PageSize+50)
	for i := range series {
		series[i] = types.Candle{Ts: t0.AddDate(0, 0, i), Open: 1, Close: 1}
	}
	src := &fakeSource{series: map[string][]types.Candle{"BTC/USDT": series}}
	cache := store.NewCandleCache(t.TempDir())
	until := series[len(series)-1].Ts

	got, err := Backfill(context.Background(), src, cache, "BTC/USDT", t0, until)
	require.NoError(t, err)
	assert.Len(t, got, len(series))
	assert.Equal(t, 2, src.calls)

	got, err = Backfill(context.Background(), src, cache, "BTC/USDT", t0.AddDate(0, 0, 10), until)
	require.NoError(t, err)
	assert.Len(t, got, len(series)-10)
	assert.Equal(t, 2, src.calls, "second backfill served from cache")
}
