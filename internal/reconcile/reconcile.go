// Package reconcile turns per-asset decisions and pair suggestions into a
// conflict-free, deterministically ordered batch of market orders.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

type Policy struct {
	Sizing           string
	BaseOrderSizeUSD float64
	Units            float64
	CashFraction     float64
	SellClosesLong   bool
	Precedence       string
	HoldBlocksPairs  bool
	MinConfidence    float64
	// Precision is the number of decimal places quantities are truncated to.
	Precision int32
}

func PolicyFromConfig(cfg *store.Config) Policy {
	r := cfg.Reconcile
	return Policy{
		Sizing:           r.Sizing,
		BaseOrderSizeUSD: r.BaseOrderSizeUSD,
		Units:            r.Units,
		CashFraction:     r.CashFraction,
		SellClosesLong:   r.SellClosesLong,
		Precedence:       r.Precedence,
		HoldBlocksPairs:  r.HoldBlocksPairs,
		MinConfidence:    r.MinConfidence,
		Precision:        r.QuantityPrecision,
	}
}

// View is the portfolio state sizing depends on.
type View interface {
	Cash() decimal.Decimal
	Quantity(asset string) decimal.Decimal
}

type Batch struct {
	Orders      []types.Order
	Diagnostics []types.Diagnostic
}

type Reconciler struct {
	policy Policy
}

func New(p Policy) *Reconciler {
	if p.Precision == 0 {
		p.Precision = 8
	}
	if p.Sizing == "" {
		p.Sizing = store.SizingNotional
	}
	if p.Precedence == "" {
		p.Precedence = store.PrecedenceSingle
	}
	return &Reconciler{policy: p}
}

// intent is one wanted direction on one asset before sizing.
type intent struct {
	asset  string
	side   types.Side
	origin types.Origin
}

// Reconcile is pure: the same inputs always give the same batch. prices holds
// the reference price per asset, normally the last close of its window.
func (r *Reconciler) Reconcile(decisions []types.Decision, pairs []types.PairSuggestion, view View, prices map[string]float64) Batch {
	var b Batch

	// explicit single-asset signals; blocking marks assets whose HOLD suppresses pair legs
	singles := map[string]intent{}
	blocking := map[string]bool{}
	for _, d := range sortedDecisions(decisions) {
		action := d.Action
		if action != types.ActionHold && d.Confidence < r.policy.MinConfidence {
			b.diag(types.DiagLowConfidence, d.Asset, fmt.Sprintf("%s at confidence %.2f below %.2f", action, d.Confidence, r.policy.MinConfidence))
			action = types.ActionHold
		}
		switch action {
		case types.ActionBuy:
			singles[d.Asset] = intent{d.Asset, types.SideBuy, types.OriginSingle}
		case types.ActionSell:
			singles[d.Asset] = intent{d.Asset, types.SideSell, types.OriginSingle}
		case types.ActionHold:
			if r.policy.HoldBlocksPairs {
				blocking[d.Asset] = true
			}
		}
	}

	legs := map[string][]intent{}
	for _, p := range pairs {
		legs[p.LongAsset] = append(legs[p.LongAsset], intent{p.LongAsset, types.SideBuy, types.OriginPairLong})
		legs[p.ShortAsset] = append(legs[p.ShortAsset], intent{p.ShortAsset, types.SideSell, types.OriginPairShort})
	}

	assets := map[string]bool{}
	for a := range singles {
		assets[a] = true
	}
	for a := range legs {
		assets[a] = true
	}

	var intents []intent
	for _, asset := range sortedKeys(assets) {
		single, hasSingle := singles[asset]
		leg, hasLeg := r.mergeLegs(&b, asset, legs[asset])

		switch {
		case hasLeg && blocking[asset]:
			b.diag(types.DiagPairLegOverridden, asset, fmt.Sprintf("%s leg dropped: HOLD decision blocks pair legs", leg.origin))
			hasLeg = false
		case hasLeg && hasSingle && r.policy.Precedence == store.PrecedencePair:
			b.diag(types.DiagPairLegOverridden, asset, fmt.Sprintf("single %s dropped in favor of %s leg", single.side, leg.origin))
			hasSingle = false
		case hasLeg && hasSingle:
			b.diag(types.DiagPairLegOverridden, asset, fmt.Sprintf("%s leg %s dropped in favor of single %s", leg.origin, leg.side, single.side))
			hasLeg = false
		}

		if hasSingle {
			intents = append(intents, single)
		}
		if hasLeg {
			intents = append(intents, leg)
		}
	}

	for _, in := range intents {
		if o, ok := r.size(&b, in, view, prices); ok {
			b.Orders = append(b.Orders, o)
		}
	}

	sort.SliceStable(b.Orders, func(i, j int) bool {
		if b.Orders[i].Asset != b.Orders[j].Asset {
			return b.Orders[i].Asset < b.Orders[j].Asset
		}
		return b.Orders[i].Origin.Rank() < b.Orders[j].Origin.Rank()
	})
	return b
}

// mergeLegs collapses the pair legs of one asset. Same-direction legs merge
// into one; opposite legs cancel each other.
func (r *Reconciler) mergeLegs(b *Batch, asset string, legs []intent) (intent, bool) {
	if len(legs) == 0 {
		return intent{}, false
	}
	first := legs[0]
	for _, l := range legs[1:] {
		if l.side != first.side {
			b.diag(types.DiagConflictingSignal, asset, "pair suggestions want this asset both long and short")
			return intent{}, false
		}
	}
	return first, true
}

func (r *Reconciler) size(b *Batch, in intent, view View, prices map[string]float64) (types.Order, bool) {
	price, ok := prices[in.asset]
	if !ok || price <= 0 {
		b.diag(types.DiagMissingPrice, in.asset, fmt.Sprintf("no reference price for %s %s", in.origin, in.side))
		return types.Order{}, false
	}
	px := decimal.NewFromFloat(price)

	var qty decimal.Decimal
	if in.side == types.SideSell && in.origin == types.OriginSingle && r.policy.SellClosesLong {
		// SELL closes the long position; nothing to close means no order
		if held := view.Quantity(in.asset); held.IsPositive() {
			qty = held
		}
	} else {
		switch r.policy.Sizing {
		case store.SizingUnits:
			qty = decimal.NewFromFloat(r.policy.Units)
		case store.SizingCashFraction:
			if cash := view.Cash(); cash.IsPositive() {
				qty = cash.Mul(decimal.NewFromFloat(r.policy.CashFraction)).Div(px)
			}
		default:
			qty = decimal.NewFromFloat(r.policy.BaseOrderSizeUSD).Div(px)
		}
		qty = qty.Truncate(r.policy.Precision)
	}

	if !qty.IsPositive() {
		b.diag(types.DiagZeroQuantity, in.asset, fmt.Sprintf("%s %s sized to zero", in.origin, in.side))
		return types.Order{}, false
	}
	return types.Order{Asset: in.asset, Side: in.side, Quantity: qty, Kind: types.KindMarket, Origin: in.origin}, true
}

func (b *Batch) diag(kind types.DiagnosticKind, asset, detail string) {
	b.Diagnostics = append(b.Diagnostics, types.Diagnostic{Kind: kind, Asset: asset, Detail: detail})
}

func sortedDecisions(ds []types.Decision) []types.Decision {
	out := make([]types.Decision, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
