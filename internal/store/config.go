package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeHistoric = "historic"
	ModeLive     = "live"

	SizingNotional     = "notional"
	SizingUnits        = "units"
	SizingCashFraction = "cash_fraction"

	PrecedenceSingle = "single"
	PrecedencePair   = "pair"

	InputRaw      = "raw"
	InputFeatures = "features"

	ProviderLlamaCpp = "LLAMACPP"
	ProviderNoop     = "NOOP"

	ExecutorExchange = "exchange"
	ExecutorPaper    = "paper"
)

// notionalFollowsCash marks max_position_notional as absent from the file.
const notionalFollowsCash = -1

type Config struct {
	Trading   TradingConfig   `yaml:"trading"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	LLM       LLMConfig       `yaml:"llm"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Output    OutputConfig    `yaml:"output"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Status    StatusConfig    `yaml:"status"`
}

type TradingConfig struct {
	Mode           string   `yaml:"mode"`
	Symbols        []string `yaml:"symbols"`
	Timeframe      string   `yaml:"timeframe"`
	LookbackDays   int      `yaml:"lookback_days"`
	MinHistoryBars int      `yaml:"min_history_bars"`
	PollingMinutes int      `yaml:"polling_minutes"`
	HistoricStart  string   `yaml:"historic_start"`
	DryRun         bool     `yaml:"dry_run"`
	// ProgressEvery logs a progress line every N historic steps.
	ProgressEvery int `yaml:"progress_every"`
}

type ExchangeConfig struct {
	Name              string `yaml:"name"`
	AuthLabel         string `yaml:"auth_label"`
	BaseURL           string `yaml:"base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	EnableRateLimit   bool   `yaml:"enable_rate_limit"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	// FetchPaddingDays is added to lookback_days when requesting history.
	FetchPaddingDays int `yaml:"fetch_padding_days"`
	// Executor selects where live, non-dry-run orders go.
	Executor string `yaml:"executor"`
}

type LLMConfig struct {
	Provider       string   `yaml:"provider"`
	Endpoint       string   `yaml:"endpoint"`
	Model          string   `yaml:"model"`
	Temperature    float64  `yaml:"temperature"`
	TopP           float64  `yaml:"top_p"`
	MaxTokens      int      `yaml:"max_tokens"`
	Stop           []string `yaml:"stop"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
	Parallelism    int      `yaml:"parallelism"`
	InputMode      string   `yaml:"input_mode"`
	System         string   `yaml:"system"`
	// SummaryBars caps how many closes/volumes the raw summary lists.
	SummaryBars int `yaml:"summary_bars"`
}

type PortfolioConfig struct {
	StartingCash float64 `yaml:"starting_cash"`
	CashFloor    float64 `yaml:"cash_floor"`
	// MaxPositionNotional defaults to starting_cash; an explicit 0 disables the limit.
	MaxPositionNotional float64 `yaml:"max_position_notional"`
}

type ReconcileConfig struct {
	Sizing           string  `yaml:"sizing"`
	BaseOrderSizeUSD float64 `yaml:"base_order_size_usd"`
	Units            float64 `yaml:"units"`
	CashFraction     float64 `yaml:"cash_fraction"`
	SellClosesLong   bool    `yaml:"sell_closes_long"`
	Precedence       string  `yaml:"precedence"`
	HoldBlocksPairs  bool    `yaml:"hold_blocks_pairs"`
	MinConfidence    float64 `yaml:"min_confidence"`
	// QuantityPrecision is the number of decimal places order sizes are truncated to.
	QuantityPrecision int32 `yaml:"quantity_precision"`
}

type OutputConfig struct {
	EquityPath    string `yaml:"equity_path"`
	LogDir        string `yaml:"log_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied and no symbols.
func Default() *Config {
	c := &Config{}
	c.preset()
	c.applyDefaults()
	return c
}

// preset sets the defaults whose zero value is a meaningful explicit setting.
// It runs before unmarshalling so the file can override them.
func (c *Config) preset() {
	c.Trading.DryRun = true
	c.Exchange.EnableRateLimit = true
	c.Reconcile.SellClosesLong = true
	c.LLM.MaxRetries = 2
	c.Portfolio.MaxPositionNotional = notionalFollowsCash
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = ModeLive
	}
	c.Trading.Mode = strings.ToLower(strings.TrimSpace(c.Trading.Mode))
	if c.Trading.Timeframe == "" {
		c.Trading.Timeframe = "1d"
	}
	if c.Trading.LookbackDays == 0 {
		c.Trading.LookbackDays = 60
	}
	if c.Trading.MinHistoryBars == 0 {
		c.Trading.MinHistoryBars = min(20, c.Trading.LookbackDays)
	}
	if c.Trading.PollingMinutes == 0 {
		c.Trading.PollingMinutes = 60
	}
	if c.Trading.ProgressEvery == 0 {
		c.Trading.ProgressEvery = 20
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.binance.com"
	}
	if c.Exchange.TimeoutSeconds == 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Exchange.RequestsPerMinute == 0 {
		c.Exchange.RequestsPerMinute = 600
	}
	if c.Exchange.FetchPaddingDays == 0 {
		c.Exchange.FetchPaddingDays = 5
	}
	if c.Exchange.Executor == "" {
		c.Exchange.Executor = ExecutorExchange
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderLlamaCpp
	}
	c.LLM.Provider = strings.ToUpper(c.LLM.Provider)
	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = "http://127.0.0.1:8080/v1/chat/completions"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.TopP == 0 {
		c.LLM.TopP = 0.9
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.Parallelism == 0 {
		c.LLM.Parallelism = 1
	}
	if c.LLM.InputMode == "" {
		c.LLM.InputMode = InputRaw
	}
	if c.LLM.SummaryBars == 0 {
		c.LLM.SummaryBars = 60
	}

	if c.Portfolio.StartingCash == 0 {
		c.Portfolio.StartingCash = 10000
	}
	if c.Portfolio.MaxPositionNotional == notionalFollowsCash {
		c.Portfolio.MaxPositionNotional = c.Portfolio.StartingCash
	}

	if c.Reconcile.Sizing == "" {
		c.Reconcile.Sizing = SizingNotional
	}
	if c.Reconcile.BaseOrderSizeUSD == 0 {
		c.Reconcile.BaseOrderSizeUSD = 1000
	}
	if c.Reconcile.CashFraction == 0 {
		c.Reconcile.CashFraction = 0.1
	}
	if c.Reconcile.Precedence == "" {
		c.Reconcile.Precedence = PrecedenceSingle
	}
	if c.Reconcile.QuantityPrecision == 0 {
		c.Reconcile.QuantityPrecision = 8
	}

	if c.Output.EquityPath == "" {
		c.Output.EquityPath = "backtest_equity.csv"
	}
	if c.Output.LogDir == "" {
		c.Output.LogDir = "logs"
	}
}

func (c *Config) Validate() error {
	if c.Trading.Mode != ModeHistoric && c.Trading.Mode != ModeLive {
		return fmt.Errorf("invalid trading.mode '%s': must be 'historic' or 'live'", c.Trading.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return errors.New("trading.symbols cannot be empty")
	}
	seen := make(map[string]bool, len(c.Trading.Symbols))
	for _, s := range c.Trading.Symbols {
		if strings.TrimSpace(s) == "" {
			return errors.New("trading.symbols contains an empty symbol")
		}
		if seen[s] {
			return fmt.Errorf("trading.symbols contains duplicate symbol %s", s)
		}
		seen[s] = true
	}
	if c.Trading.Timeframe != "1d" {
		return fmt.Errorf("trading.timeframe '%s' not supported: only '1d'", c.Trading.Timeframe)
	}
	if c.Trading.LookbackDays < 1 {
		return fmt.Errorf("trading.lookback_days must be positive, got %d", c.Trading.LookbackDays)
	}
	if c.Trading.MinHistoryBars < 1 || c.Trading.MinHistoryBars > c.Trading.LookbackDays {
		return fmt.Errorf("trading.min_history_bars must be between 1 and lookback_days (%d), got %d",
			c.Trading.LookbackDays, c.Trading.MinHistoryBars)
	}
	if c.Trading.Mode == ModeHistoric {
		if _, err := c.HistoricStartTime(); err != nil {
			return err
		}
	}
	if c.Trading.Mode == ModeLive && c.Trading.PollingMinutes < 1 {
		return fmt.Errorf("trading.polling_minutes must be positive, got %d", c.Trading.PollingMinutes)
	}

	if c.Exchange.Executor != ExecutorExchange && c.Exchange.Executor != ExecutorPaper {
		return fmt.Errorf("exchange.executor must be 'exchange' or 'paper', got '%s'", c.Exchange.Executor)
	}

	if c.LLM.Provider != ProviderLlamaCpp && c.LLM.Provider != ProviderNoop {
		return fmt.Errorf("llm.provider must be 'LLAMACPP' or 'NOOP', got '%s'", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.Parallelism < 1 {
		return fmt.Errorf("llm.parallelism must be positive, got %d", c.LLM.Parallelism)
	}
	if c.LLM.InputMode != InputRaw && c.LLM.InputMode != InputFeatures {
		return fmt.Errorf("llm.input_mode must be 'raw' or 'features', got '%s'", c.LLM.InputMode)
	}

	if c.Portfolio.StartingCash <= 0 {
		return fmt.Errorf("portfolio.starting_cash must be positive, got %.2f", c.Portfolio.StartingCash)
	}
	if c.Portfolio.MaxPositionNotional < 0 {
		return fmt.Errorf("portfolio.max_position_notional cannot be negative, got %.2f", c.Portfolio.MaxPositionNotional)
	}

	switch c.Reconcile.Sizing {
	case SizingNotional:
		if c.Reconcile.BaseOrderSizeUSD <= 0 {
			return fmt.Errorf("reconcile.base_order_size_usd must be positive, got %.2f", c.Reconcile.BaseOrderSizeUSD)
		}
	case SizingUnits:
		if c.Reconcile.Units <= 0 {
			return fmt.Errorf("reconcile.units must be positive, got %f", c.Reconcile.Units)
		}
	case SizingCashFraction:
		if c.Reconcile.CashFraction <= 0 || c.Reconcile.CashFraction > 1 {
			return fmt.Errorf("reconcile.cash_fraction must be in (0, 1], got %f", c.Reconcile.CashFraction)
		}
	default:
		return fmt.Errorf("reconcile.sizing must be 'notional', 'units' or 'cash_fraction', got '%s'", c.Reconcile.Sizing)
	}
	if c.Reconcile.Precedence != PrecedenceSingle && c.Reconcile.Precedence != PrecedencePair {
		return fmt.Errorf("reconcile.precedence must be 'single' or 'pair', got '%s'", c.Reconcile.Precedence)
	}
	if c.Reconcile.MinConfidence < 0 || c.Reconcile.MinConfidence > 1 {
		return fmt.Errorf("reconcile.min_confidence must be in [0, 1], got %f", c.Reconcile.MinConfidence)
	}
	return nil
}

// HistoricStartTime parses trading.historic_start as a UTC date or RFC3339 timestamp.
func (c *Config) HistoricStartTime() (time.Time, error) {
	s := strings.TrimSpace(c.Trading.HistoricStart)
	if s == "" {
		return time.Time{}, errors.New("trading.historic_start must be set (e.g., 2024-01-01) for historic mode")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("trading.historic_start '%s' is not a date: %w", s, err)
	}
	return t.UTC(), nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trading.PollingMinutes) * time.Minute
}

func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutSeconds) * time.Second
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c := Config{}
	c.preset()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
