package interfaces

import (
	"context"

	"llm-crypto-trader/internal/types"
)

// Inference is a single text-generation round-trip.
type Inference interface {
	Generate(ctx context.Context, prompt types.Prompt, opts types.GenerateOptions) (string, error)
}

// Decider turns the current windows into exactly one decision per asset.
type Decider interface {
	Decide(ctx context.Context, windows map[string]types.Window) types.StepDecisions
}
