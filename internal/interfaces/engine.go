package interfaces

import (
	"context"
	"time"

	"llm-crypto-trader/internal/types"
)

type Engine interface {
	Step(ctx context.Context, asOf time.Time) (*types.StepReport, error)
}
