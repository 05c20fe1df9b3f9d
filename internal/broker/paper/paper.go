// Package paper is an executor that fills market orders immediately at the
// last observed close, without touching an exchange.
package paper

import (
	"context"
	"fmt"
	"sync"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/types"
)

// Quotes returns the last observed close of an asset.
type Quotes func(asset string) (float64, bool)

type Executor struct {
	mu     sync.Mutex
	quotes Quotes
	seq    int
	orders []types.ExecutionReport
}

var _ interfaces.Executor = (*Executor)(nil)

func New(quotes Quotes) *Executor {
	return &Executor{quotes: quotes}
}

// SetQuotes swaps the price source, e.g. once per step.
func (e *Executor) SetQuotes(q Quotes) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes = q
}

func (e *Executor) PlaceMarketOrder(ctx context.Context, asset string, side types.Side, qty float64) (types.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return types.ExecutionReport{}, fmt.Errorf("%w: %v", types.ErrOrder, err)
	}
	if qty <= 0 {
		return types.ExecutionReport{}, fmt.Errorf("%w: quantity %v is not positive", types.ErrOrder, qty)
	}
	if side != types.SideBuy && side != types.SideSell {
		return types.ExecutionReport{}, fmt.Errorf("%w: side %q", types.ErrOrder, side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.quotes == nil {
		return types.ExecutionReport{}, fmt.Errorf("%w: no quotes for %s", types.ErrOrder, asset)
	}
	px, ok := e.quotes(asset)
	if !ok || px <= 0 {
		return types.ExecutionReport{}, fmt.Errorf("%w: no price for %s", types.ErrOrder, asset)
	}

	e.seq++
	rep := types.ExecutionReport{
		OrderID:        fmt.Sprintf("PAPER-%d", e.seq),
		Status:         "FILLED",
		FilledPrice:    px,
		FilledQuantity: qty,
	}
	e.orders = append(e.orders, rep)
	return rep, nil
}

// Orders returns a copy of every report issued so far.
func (e *Executor) Orders() []types.ExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ExecutionReport, len(e.orders))
	copy(out, e.orders)
	return out
}
