package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDataUnavailable marks transport or unknown-symbol failures of the market-data source.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientHistory is returned when a window has fewer bars than the configured minimum.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrMalformedDecision covers unparsable or schema-violating model output.
	ErrMalformedDecision = errors.New("malformed decision")
	// ErrOrderRejected wraps every reason the ledger refuses an order.
	ErrOrderRejected     = errors.New("order rejected")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPositionLimit     = errors.New("position limit exceeded")
	ErrInvalidOrder      = errors.New("invalid order")
	// ErrOrder is a live execution failure reported by the exchange collaborator.
	ErrOrder = errors.New("order error")
)

// Rejected builds an ErrOrderRejected error carrying a specific reason.
func Rejected(reason error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrOrderRejected, reason, fmt.Sprintf(format, args...))
}

// RejectReason returns a short label for metrics and logs.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrPositionLimit):
		return "position_limit"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	default:
		return "other"
	}
}

// BacktestRangeError is fatal: the configured start cannot be replayed for Asset.
type BacktestRangeError struct {
	Asset  string
	Start  time.Time
	First  time.Time
	Last   time.Time
	Reason string
}

func (e *BacktestRangeError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("backtest range error: %s", e.Reason)
	}
	return fmt.Sprintf("backtest range error for %s: start %s outside series [%s, %s]: %s",
		e.Asset, e.Start.Format("2006-01-02"), e.First.Format("2006-01-02"), e.Last.Format("2006-01-02"), e.Reason)
}
