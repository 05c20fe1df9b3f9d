package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/metrics"
	"llm-crypto-trader/internal/portfolio"
	"llm-crypto-trader/internal/types"
)

// orderExecutor turns reconciled orders into ledger fills, either simulated
// at a given price or placed on the exchange.
type orderExecutor struct {
	ledger    *portfolio.Ledger
	exchange  interfaces.Executor
	simulated bool
	now       func() time.Time
}

func newOrderExecutor(ledger *portfolio.Ledger, exchange interfaces.Executor, simulated bool, now func() time.Time) *orderExecutor {
	return &orderExecutor{ledger: ledger, exchange: exchange, simulated: simulated, now: now}
}

// execute applies one order and records the outcome on rep. Failures never
// stop the batch.
func (oe *orderExecutor) execute(ctx context.Context, rep *types.StepReport, o types.Order, fill func(string) (float64, time.Time, bool)) {
	if oe.simulated {
		oe.simulate(ctx, rep, o, fill)
		return
	}
	oe.place(ctx, rep, o)
}

func (oe *orderExecutor) simulate(ctx context.Context, rep *types.StepReport, o types.Order, fill func(string) (float64, time.Time, bool)) {
	px, ts, ok := fill(o.Asset)
	if !ok || px <= 0 {
		oe.reject(ctx, rep, o, types.Rejected(types.ErrInvalidOrder, "%s has no fill price", o.Asset))
		return
	}
	f, err := oe.ledger.ApplyOrder(o, decimal.NewFromFloat(px), ts)
	if err != nil && !errors.Is(err, portfolio.ErrRecordFill) {
		oe.reject(ctx, rep, o, err)
		return
	}
	oe.unrecorded(ctx, err)
	rep.Fills = append(rep.Fills, f)
	logger.Trade(ctx, f.Asset, string(f.Side), f.Quantity.String(), px, string(f.Origin), "simulated", true)
}

// place forwards the order to the exchange and books the reported fill.
func (oe *orderExecutor) place(ctx context.Context, rep *types.StepReport, o types.Order) {
	qty := o.Quantity.InexactFloat64()
	er, err := oe.exchange.PlaceMarketOrder(ctx, o.Asset, o.Side, qty)
	if err != nil {
		rep.Failures++
		metrics.ExecutionErrors.Inc()
		logger.ErrorWithErr(ctx, "Order placement failed", err, "asset", o.Asset, "side", o.Side, "qty", qty)
		return
	}
	if er.FilledQuantity <= 0 || er.FilledPrice <= 0 {
		logger.Warn(ctx, "Order accepted without a fill", "asset", o.Asset, "order_id", er.OrderID, "status", er.Status)
		return
	}

	f := types.Fill{
		Asset:    o.Asset,
		Side:     o.Side,
		Quantity: decimal.NewFromFloat(er.FilledQuantity),
		Price:    decimal.NewFromFloat(er.FilledPrice),
		Origin:   o.Origin,
		OrderID:  er.OrderID,
		Ts:       oe.now().UTC(),
	}
	f.Value = f.Quantity.Mul(f.Price)
	if err := oe.ledger.ApplyFill(f); err != nil {
		if !errors.Is(err, portfolio.ErrRecordFill) {
			// the exchange filled it; the ledger refusing means a malformed report
			logger.ErrorWithErr(ctx, "Exchange fill not booked", err, "asset", o.Asset, "order_id", er.OrderID)
			return
		}
		oe.unrecorded(ctx, err)
	}
	rep.Fills = append(rep.Fills, f)
	logger.Trade(ctx, f.Asset, string(f.Side), f.Quantity.String(), er.FilledPrice, string(f.Origin), "order_id", er.OrderID)
}

// unrecorded reports a fill that was booked but missing from the journal.
func (oe *orderExecutor) unrecorded(ctx context.Context, err error) {
	if err == nil {
		return
	}
	metrics.FillRecordErrors.Inc()
	logger.Warn(ctx, "Fill booked but not journaled", "error", err)
}

func (oe *orderExecutor) reject(ctx context.Context, rep *types.StepReport, o types.Order, err error) {
	reason := types.RejectReason(err)
	rep.Rejections = append(rep.Rejections, types.Rejection{Order: o, Reason: err.Error()})
	metrics.RejectedOrders.WithLabelValues(reason).Inc()
	if !errors.Is(err, types.ErrOrderRejected) {
		logger.ErrorWithErr(ctx, "Order not applied", err, "asset", o.Asset)
		return
	}
	logger.Risk(ctx, o.Asset, "order_rejected", "reason", reason, "side", o.Side, "qty", o.Quantity.String(), "origin", o.Origin, "error", err)
}
