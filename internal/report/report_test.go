package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-crypto-trader/internal/types"
)

func pts(vals ...int64) []types.EquityPoint {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.EquityPoint, len(vals))
	for i, v := range vals {
		out[i] = types.EquityPoint{Ts: t0.AddDate(0, 0, i), Equity: decimal.NewFromInt(v), Cash: decimal.NewFromInt(v / 2)}
	}
	return out
}

func TestWriteEquityCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "backtest_equity.csv")
	points := pts(10000, 10100)
	points[1].Equity = decimal.RequireFromString("10100.123456789")

	require.NoError(t, WriteEquityCSV(path, points))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"timestamp,equity,cash\n"+
			"2024-01-01T00:00:00Z,10000.00000000,5000.00000000\n"+
			"2024-01-02T00:00:00Z,10100.12345679,5050.00000000\n",
		string(b))

	back, err := ReadEquityCSV(path)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.True(t, decimal.RequireFromString("10100.12345679").Equal(back[1].Equity))
	assert.Equal(t, points[1].Ts, back[1].Ts)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed")
}

func TestWriteEquityCSV_EmptyCurveHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.csv")
	require.NoError(t, WriteEquityCSV(path, nil))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,equity,cash\n", string(b))
}

func TestSummarize(t *testing.T) {
	s := Summarize(decimal.NewFromInt(10000), pts(11000, 8800, 12000))
	assert.Equal(t, 3, s.Steps)
	assert.InDelta(t, 0.2, s.TotalReturn, 1e-12)
	assert.InDelta(t, 0.2, s.MaxDrawdown, 1e-12)
	assert.NotZero(t, s.Sharpe)
	assert.True(t, decimal.NewFromInt(12000).Equal(s.FinalEquity))

	empty := Summarize(decimal.NewFromInt(10000), nil)
	assert.Equal(t, 0.0, empty.TotalReturn)
	assert.True(t, decimal.NewFromInt(10000).Equal(empty.FinalEquity))
}
