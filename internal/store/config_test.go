package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const historicYAML = `
trading:
  mode: historic
  symbols: [BTC/USDT, ETH/USDT]
  lookback_days: 30
  historic_start: 2024-01-01
llm:
  provider: noop
reconcile:
  base_order_size_usd: 500
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(historicYAML))
	require.NoError(t, err)

	assert.Equal(t, ModeHistoric, cfg.Trading.Mode)
	assert.Equal(t, "1d", cfg.Trading.Timeframe)
	assert.Equal(t, 20, cfg.Trading.MinHistoryBars)
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, ProviderNoop, cfg.LLM.Provider)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 10000.0, cfg.Portfolio.StartingCash)
	assert.Equal(t, 10000.0, cfg.Portfolio.MaxPositionNotional)
	assert.Equal(t, SizingNotional, cfg.Reconcile.Sizing)
	assert.Equal(t, 500.0, cfg.Reconcile.BaseOrderSizeUSD)
	assert.True(t, cfg.Reconcile.SellClosesLong)
	assert.Equal(t, "backtest_equity.csv", cfg.Output.EquityPath)

	start, err := cfg.HistoricStartTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestParse_ExplicitFalseSurvivesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(historicYAML + "  sell_closes_long: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Reconcile.SellClosesLong)

	cfg, err = Parse([]byte(strings.Replace(historicYAML, "  provider: noop\n", "  provider: noop\n  max_retries: 0\n", 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.LLM.MaxRetries)
}

func TestParse_PositionLimitDefaultsAndZero(t *testing.T) {
	cfg, err := Parse([]byte(historicYAML + "portfolio:\n  starting_cash: 25000\n"))
	require.NoError(t, err)
	assert.Equal(t, 25000.0, cfg.Portfolio.MaxPositionNotional)

	cfg, err = Parse([]byte(historicYAML + "portfolio:\n  max_position_notional: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Portfolio.MaxPositionNotional)

	cfg, err = Parse([]byte(historicYAML + "portfolio:\n  max_position_notional: 4000\n"))
	require.NoError(t, err)
	assert.Equal(t, 4000.0, cfg.Portfolio.MaxPositionNotional)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Trading.Mode = "paper" }, "trading.mode"},
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }, "symbols cannot be empty"},
		{"duplicate symbol", func(c *Config) { c.Trading.Symbols = []string{"BTC/USDT", "BTC/USDT"} }, "duplicate"},
		{"historic without start", func(c *Config) { c.Trading.Mode = ModeHistoric; c.Trading.HistoricStart = "" }, "historic_start"},
		{"bad start", func(c *Config) { c.Trading.Mode = ModeHistoric; c.Trading.HistoricStart = "yesterday" }, "not a date"},
		{"min history above lookback", func(c *Config) { c.Trading.MinHistoryBars = 90 }, "min_history_bars"},
		{"unknown executor", func(c *Config) { c.Exchange.Executor = "margin" }, "exchange.executor"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "max_retries"},
		{"bad input mode", func(c *Config) { c.LLM.InputMode = "pixels" }, "input_mode"},
		{"bad sizing", func(c *Config) { c.Reconcile.Sizing = "kelly" }, "reconcile.sizing"},
		{"cash fraction above one", func(c *Config) { c.Reconcile.Sizing = SizingCashFraction; c.Reconcile.CashFraction = 1.5 }, "cash_fraction"},
		{"bad precedence", func(c *Config) { c.Reconcile.Precedence = "random" }, "precedence"},
		{"confidence out of range", func(c *Config) { c.Reconcile.MinConfidence = 2 }, "min_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Trading.Symbols = []string{"BTC/USDT"}
			require.NoError(t, c.Validate())
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(historicYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Trading.Symbols)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
