package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"llm-crypto-trader/internal/types"
)

// CandleRecord is the on-disk schema for daily candles.
type CandleRecord struct {
	Asset     string  `parquet:"asset"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// CandleCache stores one parquet file per asset and interval.
// Layout: <dir>/<BASE-QUOTE>/<interval>.parquet
type CandleCache struct {
	Dir string
}

func NewCandleCache(dir string) *CandleCache {
	return &CandleCache{Dir: dir}
}

func (c *CandleCache) path(asset, interval string) string {
	name := strings.ToUpper(strings.NewReplacer("/", "-", ":", "-").Replace(asset))
	return filepath.Join(c.Dir, name, interval+".parquet")
}

// Read returns cached candles oldest first; a missing file yields no candles and no error.
func (c *CandleCache) Read(asset, interval string) ([]types.Candle, error) {
	rows, err := parquet.ReadFile[CandleRecord](c.path(asset, interval))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]types.Candle, len(rows))
	for i, r := range rows {
		out[i] = types.Candle{
			Ts:     time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// Merge adds candles to the cache; incoming bars replace cached bars with the same timestamp.
func (c *CandleCache) Merge(asset, interval string, candles []types.Candle) error {
	existing, err := c.Read(asset, interval)
	if err != nil {
		return err
	}
	byTs := make(map[int64]types.Candle, len(existing)+len(candles))
	for _, k := range existing {
		byTs[k.Ts.UnixMilli()] = k
	}
	for _, k := range candles {
		byTs[k.Ts.UnixMilli()] = k
	}

	records := make([]CandleRecord, 0, len(byTs))
	for ts, k := range byTs {
		records = append(records, CandleRecord{
			Asset:     asset,
			Timestamp: ts,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	path := c.path(asset, interval)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
