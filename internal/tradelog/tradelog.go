// Package tradelog appends fills and decisions as JSON lines, one file per UTC day.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llm-crypto-trader/internal/types"
)

type Entry struct {
	Time     string `json:"time"`
	Asset    string `json:"asset"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Value    string `json:"value"`
	Origin   string `json:"origin"`
	OrderID  string `json:"order_id,omitempty"`
}

type DecisionEntry struct {
	Time       string                 `json:"time"`
	Asset      string                 `json:"asset"`
	Action     string                 `json:"action"`
	Confidence float64                `json:"confidence"`
	Rationale  string                 `json:"rationale"`
	Degraded   bool                   `json:"degraded"`
	Attempts   int                    `json:"attempts"`
	Pairs      []types.PairSuggestion `json:"pairs,omitempty"`
	Extra      map[string]any         `json:"extra,omitempty"`
}

// Log writes under Dir. Entries are filed by the event timestamp, so a
// backtest produces one file per simulated day.
type Log struct {
	mu  sync.Mutex
	Dir string
}

func New(dir string) *Log {
	if dir == "" {
		dir = "logs"
	}
	return &Log{Dir: dir}
}

func (l *Log) dailyFilepath(t time.Time) string {
	return filepath.Join(l.Dir, t.UTC().Format("2006-01-02")+".txt")
}

func (l *Log) decisionsFilepath(t time.Time) string {
	return filepath.Join(l.Dir, "decisions", t.UTC().Format("2006-01-02")+".txt")
}

// RecordFill implements portfolio.FillRecorder.
func (l *Log) RecordFill(f types.Fill) error {
	return l.append(l.dailyFilepath(f.Ts), Entry{
		Time:     f.Ts.UTC().Format(time.RFC3339),
		Asset:    f.Asset,
		Side:     string(f.Side),
		Quantity: f.Quantity.String(),
		Price:    f.Price.String(),
		Value:    f.Value.String(),
		Origin:   string(f.Origin),
		OrderID:  f.OrderID,
	})
}

// AppendDecision records one decision made for the step at asOf.
func (l *Log) AppendDecision(asOf time.Time, d types.Decision, pairs []types.PairSuggestion, extra map[string]any) error {
	return l.append(l.decisionsFilepath(asOf), DecisionEntry{
		Time:       asOf.UTC().Format(time.RFC3339),
		Asset:      d.Asset,
		Action:     string(d.Action),
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
		Degraded:   d.Degraded,
		Attempts:   d.Attempts,
		Pairs:      pairs,
		Extra:      extra,
	})
}

func (l *Log) append(p string, v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips .txt logs last modified more than retentionDays ago.
func (l *Log) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(l.Dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := d.Info()
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// if already gz exists, remove original .txt
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	_, err = io.Copy(gw, in)
	if cerr := gw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
	}
	return err
}
