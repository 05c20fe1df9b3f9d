package interfaces

import (
	"context"
	"time"

	"llm-crypto-trader/internal/types"
)

// MarketData returns daily candles ordered oldest first. Failures wrap types.ErrDataUnavailable.
type MarketData interface {
	FetchOHLCV(ctx context.Context, asset, interval string, since time.Time, limit int) ([]types.Candle, error)
}

// Executor places market orders on an exchange. Failures wrap types.ErrOrder.
type Executor interface {
	PlaceMarketOrder(ctx context.Context, asset string, side types.Side, qty float64) (types.ExecutionReport, error)
}

// Exchange is both market data and execution, e.g. a Binance spot account.
type Exchange interface {
	MarketData
	Executor
}
