package brokerobs

import (
	"context"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/types"
)

// observableMarketData wraps MarketData with observability (logging & tracing)
type observableMarketData struct {
	md interfaces.MarketData
}

var _ interfaces.MarketData = (*observableMarketData)(nil)

// WrapMarketData wraps a market data source with observability middleware
func WrapMarketData(md interfaces.MarketData) interfaces.MarketData {
	return &observableMarketData{md: md}
}

// FetchOHLCV fetches candles with observability
func (o *observableMarketData) FetchOHLCV(ctx context.Context, asset, interval string, since time.Time, limit int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.FetchOHLCV")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching candles", "asset", asset, "interval", interval, "since", since, "limit", limit)

	candles, err := o.md.FetchOHLCV(ctx, asset, interval, since, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "asset", asset, "limit", limit)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Candles fetched successfully", "asset", asset, "count", len(candles))
	return candles, nil
}

// observableExecutor wraps an Executor with observability
type observableExecutor struct {
	ex interfaces.Executor
}

var _ interfaces.Executor = (*observableExecutor)(nil)

func WrapExecutor(ex interfaces.Executor) interfaces.Executor {
	return &observableExecutor{ex: ex}
}

// PlaceMarketOrder places an order with observability
func (o *observableExecutor) PlaceMarketOrder(ctx context.Context, asset string, side types.Side, qty float64) (types.ExecutionReport, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceMarketOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order", "asset", asset, "side", side, "qty", qty)

	rep, err := o.ex.PlaceMarketOrder(ctx, asset, side, qty)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err, "asset", asset, "side", side, "qty", qty)
		return types.ExecutionReport{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"asset", asset,
		"order_id", rep.OrderID,
		"status", rep.Status,
		"filled_qty", rep.FilledQuantity,
		"filled_price", rep.FilledPrice,
	)
	return rep, nil
}
