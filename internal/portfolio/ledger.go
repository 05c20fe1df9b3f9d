// Package portfolio is the cash and position ledger. It is driven by a single
// goroutine; observers read through Snapshot.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

type Limits struct {
	// CashFloor is the lowest cash balance a BUY may leave.
	CashFloor decimal.Decimal
	// MaxPositionNotional bounds |quantity| x fill price per asset; zero disables the check.
	MaxPositionNotional decimal.Decimal
}

func LimitsFromConfig(cfg *store.Config) Limits {
	return Limits{
		CashFloor:           decimal.NewFromFloat(cfg.Portfolio.CashFloor),
		MaxPositionNotional: decimal.NewFromFloat(cfg.Portfolio.MaxPositionNotional),
	}
}

// ErrRecordFill wraps recorder failures. The fill it accompanies is booked.
var ErrRecordFill = errors.New("fill booked but not recorded")

// FillRecorder receives every accepted fill.
type FillRecorder interface {
	RecordFill(f types.Fill) error
}

// PriceLookup returns the mark price of an asset.
type PriceLookup func(asset string) (float64, bool)

// Prices adapts a map to PriceLookup.
func Prices(m map[string]float64) PriceLookup {
	return func(asset string) (float64, bool) {
		p, ok := m[asset]
		return p, ok
	}
}

type Ledger struct {
	cash      decimal.Decimal
	start     decimal.Decimal
	positions map[string]*types.Position
	realized  decimal.Decimal
	limits    Limits
	recorder  FillRecorder
	fills     int
}

func NewLedger(startingCash decimal.Decimal, limits Limits) *Ledger {
	return &Ledger{
		cash:      startingCash,
		start:     startingCash,
		positions: make(map[string]*types.Position),
		limits:    limits,
	}
}

// SetRecorder attaches a fill journal. Recorder errors do not undo a fill;
// they are returned wrapped in ErrRecordFill.
func (l *Ledger) SetRecorder(r FillRecorder) {
	l.recorder = r
}

func (l *Ledger) Cash() decimal.Decimal { return l.cash }

func (l *Ledger) StartingCash() decimal.Decimal { return l.start }

func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

func (l *Ledger) FillCount() int { return l.fills }

// Quantity is the signed position size; zero when no position is held.
func (l *Ledger) Quantity(asset string) decimal.Decimal {
	if p, ok := l.positions[asset]; ok {
		return p.Quantity
	}
	return decimal.Zero
}

func (l *Ledger) Position(asset string) (types.Position, bool) {
	p, ok := l.positions[asset]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// ApplyOrder fills order at fillPrice. A rejected order leaves the ledger untouched.
// An error wrapping ErrRecordFill comes with a booked fill.
func (l *Ledger) ApplyOrder(order types.Order, fillPrice decimal.Decimal, ts time.Time) (types.Fill, error) {
	if !order.Quantity.IsPositive() {
		return types.Fill{}, types.Rejected(types.ErrInvalidOrder, "%s quantity %s is not positive", order.Asset, order.Quantity)
	}
	if !fillPrice.IsPositive() {
		return types.Fill{}, types.Rejected(types.ErrInvalidOrder, "%s fill price %s is not positive", order.Asset, fillPrice)
	}
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return types.Fill{}, types.Rejected(types.ErrInvalidOrder, "%s side %q", order.Asset, order.Side)
	}

	signed := order.SignedQuantity()
	value := order.Quantity.Mul(fillPrice)

	if order.Side == types.SideBuy {
		if after := l.cash.Sub(value); after.LessThan(l.limits.CashFloor) {
			return types.Fill{}, types.Rejected(types.ErrInsufficientFunds,
				"%s buy of %s needs %s, cash %s, floor %s", order.Asset, order.Quantity, value.StringFixed(2), l.cash.StringFixed(2), l.limits.CashFloor)
		}
	}
	old := l.Quantity(order.Asset)
	newQty := old.Add(signed)
	if l.limits.MaxPositionNotional.IsPositive() && growsExposure(old, newQty) {
		if notional := newQty.Abs().Mul(fillPrice); notional.GreaterThan(l.limits.MaxPositionNotional) {
			return types.Fill{}, types.Rejected(types.ErrPositionLimit,
				"%s position notional %s exceeds %s", order.Asset, notional.StringFixed(2), l.limits.MaxPositionNotional)
		}
	}

	f := types.Fill{
		Asset:    order.Asset,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    fillPrice,
		Value:    value,
		Origin:   order.Origin,
		Ts:       ts,
	}
	return f, l.apply(f)
}

// growsExposure is true when an order enlarges the position or flips its sign.
// Reducing orders are never blocked by the position limit.
func growsExposure(old, next decimal.Decimal) bool {
	if next.Abs().GreaterThan(old.Abs()) {
		return true
	}
	return !old.IsZero() && !next.IsZero() && old.Sign() != next.Sign()
}

// ApplyFill books a fill reported by an exchange. Exchange fills already
// happened, so only malformed fills are refused.
func (l *Ledger) ApplyFill(f types.Fill) error {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() {
		return types.Rejected(types.ErrInvalidOrder, "%s fill %s @ %s", f.Asset, f.Quantity, f.Price)
	}
	if f.Value.IsZero() {
		f.Value = f.Quantity.Mul(f.Price)
	}
	return l.apply(f)
}

// apply books f and hands it to the recorder. Only recorder errors are returned.
func (l *Ledger) apply(f types.Fill) error {
	signed := f.Quantity
	if f.Side == types.SideSell {
		signed = signed.Neg()
	}
	// cash moves by the exact traded value
	l.cash = l.cash.Sub(signed.Mul(f.Price))

	pos, ok := l.positions[f.Asset]
	if !ok {
		pos = &types.Position{Asset: f.Asset}
		l.positions[f.Asset] = pos
	}
	old := pos.Quantity
	newQty := old.Add(signed)

	switch {
	case old.IsZero() || old.Sign() == signed.Sign():
		// growing in the same direction: volume-weighted average
		pos.AverageCost = old.Abs().Mul(pos.AverageCost).Add(f.Quantity.Mul(f.Price)).Div(newQty.Abs())
	case newQty.IsZero() || newQty.Sign() == old.Sign():
		// reducing: cost basis unchanged, realize the closed part
		l.realized = l.realized.Add(closedPnL(old, signed.Abs(), pos.AverageCost, f.Price))
	default:
		// flipped: the old position is closed in full and the rest opens at the fill price
		l.realized = l.realized.Add(closedPnL(old, old.Abs(), pos.AverageCost, f.Price))
		pos.AverageCost = f.Price
	}
	pos.Quantity = newQty
	if newQty.IsZero() {
		delete(l.positions, f.Asset)
	}

	l.fills++
	if l.recorder == nil {
		return nil
	}
	if err := l.recorder.RecordFill(f); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRecordFill, f.Asset, f.Side, err)
	}
	return nil
}

func closedPnL(old, closed, avg, price decimal.Decimal) decimal.Decimal {
	pnl := price.Sub(avg).Mul(closed)
	if old.IsNegative() {
		return pnl.Neg()
	}
	return pnl
}

// MarkToEquity values the book. Assets without a price are marked at their average cost.
func (l *Ledger) MarkToEquity(prices PriceLookup, ts time.Time) types.EquityPoint {
	equity := l.cash
	for asset, p := range l.positions {
		mark := p.AverageCost
		if px, ok := prices(asset); ok && px > 0 {
			mark = decimal.NewFromFloat(px)
		}
		equity = equity.Add(p.Quantity.Mul(mark))
	}
	return types.EquityPoint{Ts: ts, Equity: equity, Cash: l.cash}
}

type Snapshot struct {
	Cash        decimal.Decimal  `json:"cash"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	Positions   []types.Position `json:"positions"`
	Fills       int              `json:"fills"`
}

// Snapshot is a deep copy with positions sorted by asset.
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{Cash: l.cash, RealizedPnL: l.realized, Fills: l.fills, Positions: make([]types.Position, 0, len(l.positions))}
	for _, p := range l.positions {
		s.Positions = append(s.Positions, *p)
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Asset < s.Positions[j].Asset })
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("cash=%s positions=%d fills=%d", s.Cash.StringFixed(2), len(s.Positions), s.Fills)
}
