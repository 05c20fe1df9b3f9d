// Package engineobs wraps an engine step with a span and structured step logs.
package engineobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{engine: eng}
}

func (oe *observableEngine) Step(ctx context.Context, asOf time.Time) (*types.StepReport, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Step started", "as_of", asOf)

	rep, err := oe.engine.Step(ctx, asOf)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Step failed", err,
			"as_of", asOf,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	degraded := degradedCount(rep)
	trace.AddEvent(ctx, "step.completed",
		attribute.Int("orders", len(rep.Orders)),
		attribute.Int("fills", len(rep.Fills)),
		attribute.Int("degraded", degraded),
		attribute.String("equity", rep.Equity.Equity.StringFixed(2)),
	)

	fields := []any{
		"as_of", asOf,
		"decisions", len(rep.Decisions),
		"pairs", len(rep.Pairs),
		"orders", len(rep.Orders),
		"fills", len(rep.Fills),
		"skipped", len(rep.Skipped),
		"equity", rep.Equity.Equity.StringFixed(2),
		"cash", rep.Equity.Cash.StringFixed(2),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if degraded > 0 {
		logger.WarnSkip(ctx, 1, "Step completed with degraded outcomes",
			append(fields,
				"degraded", degraded,
				"rejected", len(rep.Rejections),
				"failures", rep.Failures,
			)...)
		return rep, nil
	}
	logger.InfoSkip(ctx, 1, "Step completed", fields...)
	return rep, nil
}

// degradedCount sums fallback decisions, rejected orders, execution failures
// and skipped assets.
func degradedCount(rep *types.StepReport) int {
	n := len(rep.Rejections) + rep.Failures + len(rep.Skipped)
	for _, d := range rep.Decisions {
		if d.Degraded {
			n++
		}
	}
	return n
}
