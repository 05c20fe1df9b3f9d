package engine

import (
	"context"
	"time"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/types"
)

var _ interfaces.Engine = (*Engine)(nil)

// Step runs one live iteration as of asOf. Dry-run fills and marks use the
// latest close in each asset's window.
func (e *Engine) Step(ctx context.Context, asOf time.Time) (*types.StepReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := e.d.Windows
	p := pricing{
		fill: func(asset string) (float64, time.Time, bool) {
			px, ok := w.LastClose(asset, asOf)
			return px, asOf, ok
		},
		mark: func(asset string) (float64, bool) {
			return w.LastClose(asset, asOf)
		},
		markTs: asOf,
	}
	return e.step(ctx, asOf, p), nil
}

// Live polls eng every interval until its context is cancelled.
type Live struct {
	eng         interfaces.Engine
	interval    time.Duration
	stepTimeout time.Duration
	now         func() time.Time
}

func NewLive(eng interfaces.Engine, interval, stepTimeout time.Duration) *Live {
	return &Live{eng: eng, interval: interval, stepTimeout: stepTimeout, now: time.Now}
}

// Run steps immediately and then once per interval. Cancellation is observed
// only while waiting: a step in flight runs to completion on a detached context.
func (l *Live) Run(ctx context.Context) error {
	logger.Info(ctx, "Live run started", "interval", l.interval)
	for {
		l.runStep(ctx)

		t := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info(ctx, "Live run stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Live) runStep(ctx context.Context) {
	stepCtx := context.WithoutCancel(ctx)
	if l.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, l.stepTimeout)
		defer cancel()
	}

	rep, err := l.eng.Step(stepCtx, l.now().UTC())
	if err != nil {
		logger.ErrorWithErr(ctx, "Live step failed", err)
		return
	}
	logger.Info(ctx, "Live step complete",
		"decisions", len(rep.Decisions),
		"orders", len(rep.Orders),
		"fills", len(rep.Fills),
		"rejected", len(rep.Rejections),
		"failures", rep.Failures,
		"equity", rep.Equity.Equity.StringFixed(2),
		"cash", rep.Equity.Cash.StringFixed(2),
	)
}
