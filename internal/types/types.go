package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes free text into one of the three actions.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionHold:
		return ActionHold, true
	}
	return "", false
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Origin string

const (
	OriginSingle    Origin = "single"
	OriginPairLong  Origin = "pair-long"
	OriginPairShort Origin = "pair-short"
)

// Rank orders origins inside one asset: single first, then pair legs.
func (o Origin) Rank() int {
	switch o {
	case OriginSingle:
		return 0
	case OriginPairLong:
		return 1
	default:
		return 2
	}
}

type OrderKind string

const KindMarket OrderKind = "MARKET"

// Candle is one daily OHLCV bar for a single asset.
type Candle struct {
	Ts     time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Window is a read-only copy of the most recent candles of one asset ending at AsOf.
type Window struct {
	Asset   string
	AsOf    time.Time
	Candles []Candle
}

func (w Window) Len() int { return len(w.Candles) }

// Last returns the most recent candle, or the zero candle for an empty window.
func (w Window) Last() Candle {
	if len(w.Candles) == 0 {
		return Candle{}
	}
	return w.Candles[len(w.Candles)-1]
}

type Decision struct {
	Asset      string  `json:"asset"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Degraded   bool    `json:"degraded,omitempty"`
	Attempts   int     `json:"attempts"`
}

type PairSuggestion struct {
	LongAsset  string `json:"long_asset"`
	ShortAsset string `json:"short_asset"`
	Rationale  string `json:"rationale"`
}

// StepDecisions is everything the decision contract produced for one step.
type StepDecisions struct {
	Decisions []Decision
	Pairs     []PairSuggestion
}

type Order struct {
	Asset    string          `json:"asset"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Kind     OrderKind       `json:"kind"`
	Origin   Origin          `json:"origin"`
}

// SignedQuantity is positive for buys and negative for sells.
func (o Order) SignedQuantity() decimal.Decimal {
	if o.Side == SideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

type Fill struct {
	Asset    string          `json:"asset"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
	Origin   Origin          `json:"origin"`
	OrderID  string          `json:"order_id,omitempty"`
	Ts       time.Time       `json:"ts"`
}

type Position struct {
	Asset       string          `json:"asset"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

type EquityPoint struct {
	Ts     time.Time       `json:"timestamp"`
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}

// ExecutionReport is what an exchange reports back for a market order.
type ExecutionReport struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	FilledPrice    float64 `json:"filled_price"`
	FilledQuantity float64 `json:"filled_quantity"`
}

type DiagnosticKind string

const (
	DiagConflictingSignal DiagnosticKind = "ConflictingSignal"
	DiagPairLegOverridden DiagnosticKind = "PairLegOverridden"
	DiagLowConfidence     DiagnosticKind = "LowConfidence"
	DiagZeroQuantity      DiagnosticKind = "ZeroQuantity"
	DiagMissingPrice      DiagnosticKind = "MissingPrice"
)

// Diagnostic records a signal that was dropped on purpose.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Asset  string         `json:"asset"`
	Detail string         `json:"detail"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is a system instruction plus the conversation so far. Corrective
// re-prompts append the rejected answer and the validation error as turns.
type Prompt struct {
	System string
	Turns  []Turn
}

type GenerateOptions struct {
	MaxTokens   int
	Stop        []string
	Temperature float64
	TopP        float64
}

type Rejection struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

type Skipped struct {
	Asset  string `json:"asset"`
	Reason string `json:"reason"`
}

// StepReport is the observable outcome of one scheduler step.
type StepReport struct {
	AsOf        time.Time        `json:"as_of"`
	MarkTs      time.Time        `json:"mark_ts"`
	Decisions   []Decision       `json:"decisions"`
	Pairs       []PairSuggestion `json:"pairs"`
	Orders      []Order          `json:"orders"`
	Fills       []Fill           `json:"fills"`
	Rejections  []Rejection      `json:"rejections"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
	Skipped     []Skipped        `json:"skipped"`
	Equity      EquityPoint      `json:"equity"`
	// Failures counts live execution errors.
	Failures int `json:"failures"`
}
