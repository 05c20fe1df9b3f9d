package window

import (
	"context"
	"fmt"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

// PageSize is the largest kline page Binance serves.
const PageSize = 1000

// Backfill loads daily candles for asset covering [since, until]. Cached bars
// are used when they cover the whole range; otherwise the source is paged from
// since and the result is merged back into the cache. cache may be nil.
func Backfill(ctx context.Context, src interfaces.MarketData, cache *store.CandleCache, asset string, since, until time.Time) ([]types.Candle, error) {
	if cache != nil {
		cached, err := cache.Read(asset, Interval)
		if err != nil {
			logger.Warn(ctx, "Candle cache unreadable, refetching", "asset", asset, "error", err)
		} else if covers(cached, since, until) {
			logger.Debug(ctx, "Candle cache hit", "asset", asset, "bars", len(cached))
			return clip(cached, since, until), nil
		}
	}

	var all []types.Candle
	cursor := since
	for {
		page, err := src.FetchOHLCV(ctx, asset, Interval, cursor, PageSize)
		if err != nil {
			return nil, fmt.Errorf("backfill %s from %s: %w", asset, cursor.Format("2006-01-02"), err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1].Ts
		if len(page) < PageSize || !last.Before(until) || !last.After(cursor) {
			break
		}
		cursor = last.Add(time.Millisecond)
	}

	if cache != nil && len(all) > 0 {
		if err := cache.Merge(asset, Interval, all); err != nil {
			logger.Warn(ctx, "Failed to write candle cache", "asset", asset, "error", err)
		}
	}
	logger.Info(ctx, "Backfilled candles", "asset", asset, "bars", len(all))
	return clip(all, since, until), nil
}

// covers requires a bar at or before since and a bar at or after until.
// A series whose last bar is within one day of until also counts, since
// today's bar may not be closed yet.
func covers(candles []types.Candle, since, until time.Time) bool {
	if len(candles) == 0 {
		return false
	}
	first, last := candles[0].Ts, candles[len(candles)-1].Ts
	return !first.After(since) && !last.Before(until.Add(-24*time.Hour))
}

func clip(candles []types.Candle, since, until time.Time) []types.Candle {
	out := make([]types.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Ts.Before(since) || c.Ts.After(until) {
			continue
		}
		out = append(out, c)
	}
	return out
}
