package noop

import (
	"context"
	"encoding/json"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/llm"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/types"
)

// Inference is used when no model is configured. It always answers HOLD for
// the focal asset with zero confidence.
type Inference struct{}

var _ interfaces.Inference = Inference{}

func New() Inference {
	return Inference{}
}

func (Inference) Generate(ctx context.Context, prompt types.Prompt, _ types.GenerateOptions) (string, error) {
	asset := llm.FocalAsset(prompt)
	logger.Debug(ctx, "Noop inference called - always returns HOLD", "asset", asset)
	b, err := json.Marshal(map[string]any{
		"asset":      asset,
		"action":     types.ActionHold,
		"confidence": 0.0,
		"rationale":  "noop_inference",
		"pairs":      []any{},
	})
	return string(b), err
}
