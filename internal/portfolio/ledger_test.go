package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-crypto-trader/internal/types"
)

var ts = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(asset string, side types.Side, q string) types.Order {
	return types.Order{Asset: asset, Side: side, Quantity: d(q), Kind: types.KindMarket, Origin: types.OriginSingle}
}

func newLedger() *Ledger {
	return NewLedger(d("10000"), Limits{MaxPositionNotional: d("10000")})
}

func TestApplyOrder_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("BTC/USDT", types.SideBuy, "1"), d("20000"), ts)

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOrderRejected))
	assert.True(t, errors.Is(err, types.ErrInsufficientFunds))
	assert.Equal(t, "insufficient_funds", types.RejectReason(err))
	assert.True(t, d("10000").Equal(l.Cash()))
	assert.True(t, l.Quantity("BTC/USDT").IsZero())
	assert.Equal(t, 0, l.FillCount())
}

func TestApplyOrder_BuyThenMark(t *testing.T) {
	l := newLedger()
	f, err := l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0.4"), d("20000"), ts)
	require.NoError(t, err)

	assert.True(t, d("8000").Equal(f.Value))
	assert.True(t, d("2000").Equal(l.Cash()))
	p, ok := l.Position("BTC/USDT")
	require.True(t, ok)
	assert.True(t, d("0.4").Equal(p.Quantity))
	assert.True(t, d("20000").Equal(p.AverageCost))

	eq := l.MarkToEquity(Prices(map[string]float64{"BTC/USDT": 25000}), ts)
	assert.True(t, d("12000").Equal(eq.Equity))
	assert.True(t, d("2000").Equal(eq.Cash))
}

func TestMarkToEquity_FallsBackToAverageCost(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("ETH/USDT", types.SideBuy, "2"), d("1000"), ts)
	require.NoError(t, err)

	eq := l.MarkToEquity(Prices(nil), ts)
	assert.True(t, d("10000").Equal(eq.Equity))
}

func TestAverageCost(t *testing.T) {
	l := NewLedger(d("100000"), Limits{})

	_, err := l.ApplyOrder(order("ETH/USDT", types.SideBuy, "1"), d("1000"), ts)
	require.NoError(t, err)
	_, err = l.ApplyOrder(order("ETH/USDT", types.SideBuy, "1"), d("2000"), ts)
	require.NoError(t, err)
	p, _ := l.Position("ETH/USDT")
	assert.True(t, d("1500").Equal(p.AverageCost), p.AverageCost.String())

	// reducing keeps the basis and realizes the gain
	_, err = l.ApplyOrder(order("ETH/USDT", types.SideSell, "1"), d("3000"), ts)
	require.NoError(t, err)
	p, _ = l.Position("ETH/USDT")
	assert.True(t, d("1500").Equal(p.AverageCost))
	assert.True(t, d("1500").Equal(l.RealizedPnL()))

	// flipping short resets the basis to the fill price
	_, err = l.ApplyOrder(order("ETH/USDT", types.SideSell, "3"), d("2500"), ts)
	require.NoError(t, err)
	p, _ = l.Position("ETH/USDT")
	assert.True(t, d("-2").Equal(p.Quantity))
	assert.True(t, d("2500").Equal(p.AverageCost))
	assert.True(t, d("2500").Equal(l.RealizedPnL()))

	// closing to zero removes the position
	_, err = l.ApplyOrder(order("ETH/USDT", types.SideBuy, "2"), d("2000"), ts)
	require.NoError(t, err)
	_, ok := l.Position("ETH/USDT")
	assert.False(t, ok)
	assert.True(t, d("3500").Equal(l.RealizedPnL()))
}

func TestApplyOrder_PositionLimitBoundsShorts(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("BTC/USDT", types.SideSell, "0.6"), d("20000"), ts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPositionLimit))
	assert.True(t, d("10000").Equal(l.Cash()))

	_, err = l.ApplyOrder(order("BTC/USDT", types.SideSell, "0.5"), d("20000"), ts)
	require.NoError(t, err)
	assert.True(t, d("20000").Equal(l.Cash()))
}

func TestApplyOrder_PositionLimitAllowsReducing(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("BTC/USDT", types.SideSell, "0.5"), d("20000"), ts)
	require.NoError(t, err)

	// the short is now 15000 notional, over the limit, but covering shrinks it
	_, err = l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0.1"), d("30000"), ts)
	require.NoError(t, err)
	assert.True(t, d("-0.4").Equal(l.Quantity("BTC/USDT")))
	assert.True(t, d("17000").Equal(l.Cash()))
	assert.True(t, d("-1000").Equal(l.RealizedPnL()))

	// adding to the short at this price still breaches it
	_, err = l.ApplyOrder(order("BTC/USDT", types.SideSell, "0.1"), d("30000"), ts)
	assert.True(t, errors.Is(err, types.ErrPositionLimit))
}

func TestApplyOrder_PositionLimitChecksFlips(t *testing.T) {
	l := NewLedger(d("100000"), Limits{MaxPositionNotional: d("10000")})
	_, err := l.ApplyOrder(order("BTC/USDT", types.SideSell, "0.5"), d("20000"), ts)
	require.NoError(t, err)

	// -0.5 to +0.4 is smaller in size but a new long of 12000
	_, err = l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0.9"), d("30000"), ts)
	assert.True(t, errors.Is(err, types.ErrPositionLimit))
	assert.True(t, d("-0.5").Equal(l.Quantity("BTC/USDT")))

	_, err = l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0.5"), d("30000"), ts)
	require.NoError(t, err)
	assert.True(t, l.Quantity("BTC/USDT").IsZero())
}

func TestApplyOrder_CashFloor(t *testing.T) {
	l := NewLedger(d("1000"), Limits{CashFloor: d("100")})
	_, err := l.ApplyOrder(order("SOL/USDT", types.SideBuy, "10"), d("91"), ts)
	assert.True(t, errors.Is(err, types.ErrInsufficientFunds))
	_, err = l.ApplyOrder(order("SOL/USDT", types.SideBuy, "10"), d("90"), ts)
	assert.NoError(t, err)
	assert.True(t, d("100").Equal(l.Cash()))
}

func TestApplyOrder_InvalidOrders(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0"), d("100"), ts)
	assert.True(t, errors.Is(err, types.ErrInvalidOrder))
	_, err = l.ApplyOrder(order("BTC/USDT", types.SideBuy, "1"), d("0"), ts)
	assert.True(t, errors.Is(err, types.ErrInvalidOrder))
}

// cash + sum(qty * fill price) is conserved by every fill
func TestConservation(t *testing.T) {
	l := NewLedger(d("10000"), Limits{})
	seq := []struct {
		o     types.Order
		price string
	}{
		{order("BTC/USDT", types.SideBuy, "0.1"), "20000"},
		{order("ETH/USDT", types.SideSell, "1.5"), "1500"},
		{order("BTC/USDT", types.SideSell, "0.25"), "21000"},
		{order("ETH/USDT", types.SideBuy, "0.5"), "1400"},
	}
	for _, s := range seq {
		px := d(s.price)
		before := l.MarkToEquity(Prices(map[string]float64{s.o.Asset: px.InexactFloat64()}), ts)
		_, err := l.ApplyOrder(s.o, px, ts)
		require.NoError(t, err)
		marks := map[string]float64{s.o.Asset: px.InexactFloat64()}
		after := l.MarkToEquity(Prices(marks), ts)
		// only the traded asset is re-marked at its fill price, so equity is unchanged
		assert.True(t, before.Equity.Equal(after.Equity), "%s vs %s", before.Equity, after.Equity)
	}
	assert.Equal(t, 4, l.FillCount())
}

func TestApplyFillAndRecorder(t *testing.T) {
	l := newLedger()
	j := &Journal{}
	l.SetRecorder(Tee(j, nil))

	require.NoError(t, l.ApplyFill(types.Fill{Asset: "BTC/USDT", Side: types.SideBuy, Quantity: d("0.1"), Price: d("30000"), Ts: ts}))
	assert.True(t, d("7000").Equal(l.Cash()))
	require.Len(t, j.Fills, 1)
	assert.True(t, d("3000").Equal(j.Fills[0].Value))

	assert.Error(t, l.ApplyFill(types.Fill{Asset: "BTC/USDT", Side: types.SideBuy}))
	assert.Len(t, j.Fills, 1)
}

func TestSnapshotIsACopy(t *testing.T) {
	l := newLedger()
	_, err := l.ApplyOrder(order("ETH/USDT", types.SideBuy, "1"), d("1000"), ts)
	require.NoError(t, err)
	_, err = l.ApplyOrder(order("BTC/USDT", types.SideBuy, "0.1"), d("20000"), ts)
	require.NoError(t, err)

	s := l.Snapshot()
	require.Len(t, s.Positions, 2)
	assert.Equal(t, "BTC/USDT", s.Positions[0].Asset)
	s.Positions[0].Quantity = d("99")
	assert.True(t, d("0.1").Equal(l.Quantity("BTC/USDT")))
}

type failingRecorder struct{}

func (failingRecorder) RecordFill(types.Fill) error { return errors.New("disk full") }

func TestRecorderFailureKeepsFill(t *testing.T) {
	l := newLedger()
	j := &Journal{}
	l.SetRecorder(Tee(j, failingRecorder{}))

	f, err := l.ApplyOrder(order("ETH/USDT", types.SideBuy, "1"), d("1000"), ts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecordFill))
	assert.False(t, errors.Is(err, types.ErrOrderRejected))
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, d("1000").Equal(f.Value))
	assert.True(t, d("9000").Equal(l.Cash()))
	assert.Equal(t, 1, l.FillCount())
	assert.Len(t, j.Fills, 1)

	err = l.ApplyFill(types.Fill{Asset: "ETH/USDT", Side: types.SideSell, Quantity: d("1"), Price: d("1100"), Ts: ts})
	assert.True(t, errors.Is(err, ErrRecordFill))
	assert.True(t, d("10100").Equal(l.Cash()))
}
