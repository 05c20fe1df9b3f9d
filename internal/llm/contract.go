// Package llm turns candle windows into validated trading decisions through a
// text-generation backend.
package llm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/logger"
	"llm-crypto-trader/internal/metrics"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/types"
)

type Options struct {
	Mode        SummaryMode
	SummaryBars int
	System      string
	MaxRetries  int
	Parallelism int
	Timeout     time.Duration
	Generate    types.GenerateOptions
}

// OptionsFromConfig maps the llm config section.
func OptionsFromConfig(cfg *store.Config) Options {
	return Options{
		Mode:        SummaryMode(cfg.LLM.InputMode),
		SummaryBars: cfg.LLM.SummaryBars,
		System:      cfg.LLM.System,
		MaxRetries:  cfg.LLM.MaxRetries,
		Parallelism: cfg.LLM.Parallelism,
		Timeout:     cfg.LLMTimeout(),
		Generate: types.GenerateOptions{
			MaxTokens:   cfg.LLM.MaxTokens,
			Stop:        cfg.LLM.Stop,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
		},
	}
}

// Contract implements interfaces.Decider on top of an Inference backend.
type Contract struct {
	inf  interfaces.Inference
	opts Options
}

var _ interfaces.Decider = (*Contract)(nil)

func NewContract(inf interfaces.Inference, opts Options) *Contract {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.SummaryBars <= 0 {
		opts.SummaryBars = 60
	}
	return &Contract{inf: inf, opts: opts}
}

type assetResult struct {
	decision types.Decision
	pairs    []types.PairSuggestion
}

// Decide returns one decision per window, in sorted asset order. Inference
// failures never escape: an asset whose answers stay invalid gets a degraded HOLD.
func (c *Contract) Decide(ctx context.Context, windows map[string]types.Window) types.StepDecisions {
	assets := sortedAssets(windows)
	results := make([]assetResult, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			d, p := c.decideOne(gctx, asset, windows, assets)
			results[i] = assetResult{decision: d, pairs: p}
			return nil
		})
	}
	_ = g.Wait()

	out := types.StepDecisions{Decisions: make([]types.Decision, 0, len(assets))}
	seen := make(map[[2]string]bool)
	for _, r := range results {
		out.Decisions = append(out.Decisions, r.decision)
		for _, p := range r.pairs {
			k := [2]string{p.LongAsset, p.ShortAsset}
			if seen[k] {
				continue
			}
			seen[k] = true
			out.Pairs = append(out.Pairs, p)
		}
	}
	return out
}

func (c *Contract) decideOne(ctx context.Context, focal string, windows map[string]types.Window, assets []string) (types.Decision, []types.PairSuggestion) {
	prompt := BuildPrompt(focal, windows, c.opts.Mode, c.opts.SummaryBars, c.opts.System)
	attempts := c.opts.MaxRetries + 1

	op := logger.StartOperation(ctx, "llm.decide", "asset", focal, "max_attempts", attempts)
	ctx = op.Context()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		answer, err := c.generate(ctx, prompt)
		if err != nil {
			lastErr = err
			metrics.InferenceAttempts.WithLabelValues("error").Inc()
			logger.Warn(ctx, "Inference call failed", "asset", focal, "attempt", attempt, "error", err)
			// the rejected answer is unknown; resend the same prompt
			continue
		}

		d, pairs, err := Parse(answer, focal, assets)
		if err != nil {
			lastErr = err
			metrics.InferenceAttempts.WithLabelValues("malformed").Inc()
			logger.Warn(ctx, "Rejected model answer", "asset", focal, "attempt", attempt, "error", err)
			prompt = Corrective(prompt, answer, err)
			continue
		}

		metrics.InferenceAttempts.WithLabelValues("ok").Inc()
		d.Attempts = attempt
		c.record(ctx, d)
		op.End("action", string(d.Action), "attempts", attempt, "pairs", len(pairs))
		return d, pairs
	}

	d := Fallback(focal, attempts, lastErr)
	c.record(ctx, d)
	logger.Risk(ctx, focal, "decision_fallback", "attempts", attempts, "error", lastErr)
	op.EndWithError(lastErr, "attempts", attempts)
	return d, nil
}

func (c *Contract) generate(ctx context.Context, prompt types.Prompt) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	return c.inf.Generate(ctx, prompt, c.opts.Generate)
}

func (c *Contract) record(ctx context.Context, d types.Decision) {
	metrics.DecisionsTotal.WithLabelValues(d.Asset, string(d.Action), strconv.FormatBool(d.Degraded)).Inc()
	logger.Decision(ctx, d.Asset, string(d.Action), d.Confidence, d.Rationale, "degraded", d.Degraded, "attempts", d.Attempts)
}

// Fallback is the degraded decision used when no valid answer was obtained.
func Fallback(asset string, attempts int, cause error) types.Decision {
	reason := "no valid model answer"
	if cause != nil {
		reason = fmt.Sprintf("no valid model answer: %v", cause)
	}
	return types.Decision{
		Asset:      asset,
		Action:     types.ActionHold,
		Confidence: 0,
		Rationale:  reason,
		Degraded:   true,
		Attempts:   attempts,
	}
}
