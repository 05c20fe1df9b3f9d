// Package report writes the equity curve and summarizes a finished run.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/types"
)

var header = []string{"timestamp", "equity", "cash"}

// WriteEquityCSV writes points to path through a temp file and rename, so a
// reader never sees a half-written curve. Values are exact decimal strings.
func WriteEquityCSV(path string, points []types.EquityPoint) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(header)
	for _, p := range points {
		_ = w.Write([]string{
			p.Ts.UTC().Format(time.RFC3339),
			p.Equity.StringFixed(8),
			p.Cash.StringFixed(8),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadEquityCSV parses a file written by WriteEquityCSV.
func ReadEquityCSV(path string) ([]types.EquityPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	out := make([]types.EquityPoint, 0, len(rows)-1)
	for i, r := range rows[1:] {
		if len(r) != 3 {
			return nil, fmt.Errorf("%s line %d: want 3 fields, got %d", path, i+2, len(r))
		}
		ts, err := time.Parse(time.RFC3339, r[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		eq, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		cash, err := decimal.NewFromString(r[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, types.EquityPoint{Ts: ts.UTC(), Equity: eq, Cash: cash})
	}
	return out, nil
}

type Summary struct {
	Steps       int             `json:"steps"`
	StartEquity decimal.Decimal `json:"start_equity"`
	FinalEquity decimal.Decimal `json:"final_equity"`
	TotalReturn float64         `json:"total_return"`
	MaxDrawdown float64         `json:"max_drawdown"`
	Sharpe      float64         `json:"sharpe"`
	Fills       int             `json:"fills"`
	Rejected    int             `json:"rejected"`
	Degraded    int             `json:"degraded"`
	Conflicts   int             `json:"conflicts"`
	Skipped     int             `json:"skipped_assets"`
}

// Summarize computes return statistics over the curve; Sharpe is annualized
// for daily steps over a 365-day crypto year.
func Summarize(start decimal.Decimal, points []types.EquityPoint) Summary {
	s := Summary{Steps: len(points), StartEquity: start, FinalEquity: start}
	if len(points) == 0 {
		return s
	}
	s.FinalEquity = points[len(points)-1].Equity
	if start.IsPositive() {
		s.TotalReturn = s.FinalEquity.Sub(start).Div(start).InexactFloat64()
	}

	peak := start
	prev := start
	returns := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsPositive() {
			if dd := peak.Sub(p.Equity).Div(peak).InexactFloat64(); dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
			}
		}
		if prev.IsPositive() {
			returns = append(returns, p.Equity.Sub(prev).Div(prev).InexactFloat64())
		}
		prev = p.Equity
	}
	s.Sharpe = sharpe(returns) * math.Sqrt(365)
	return s
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	avg := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - avg) * (r - avg)
	}
	sd := math.Sqrt(sq / float64(len(returns)))
	if sd == 0 {
		return 0
	}
	return avg / sd
}
