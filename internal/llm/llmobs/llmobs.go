package llmobs

import (
	"context"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/types"
)

// observableInference wraps an Inference backend with logging & tracing
type observableInference struct {
	inf interfaces.Inference
}

var _ interfaces.Inference = (*observableInference)(nil)

func WrapInference(inf interfaces.Inference) interfaces.Inference {
	return &observableInference{inf: inf}
}

func (o *observableInference) Generate(ctx context.Context, prompt types.Prompt, opts types.GenerateOptions) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Generate")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting completion",
		"turns", len(prompt.Turns),
		"max_tokens", opts.MaxTokens,
	)

	start := time.Now()
	out, err := o.inf.Generate(ctx, prompt, opts)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Completion failed", err,
			"turns", len(prompt.Turns),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	logger.DebugSkip(ctx, 1, "Completion received",
		"chars", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// observableDecider wraps a Decider with a span and a per-step summary log
type observableDecider struct {
	decider interfaces.Decider
}

var _ interfaces.Decider = (*observableDecider)(nil)

func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (od *observableDecider) Decide(ctx context.Context, windows map[string]types.Window) types.StepDecisions {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()

	out := od.decider.Decide(ctx, windows)

	degraded := 0
	for _, d := range out.Decisions {
		if d.Degraded {
			degraded++
		}
	}
	logger.InfoSkip(ctx, 1, "Step decisions received",
		"assets", len(windows),
		"decisions", len(out.Decisions),
		"pairs", len(out.Pairs),
		"degraded", degraded,
	)
	return out
}
