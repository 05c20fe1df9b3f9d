package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-crypto-trader/internal/types"
)

// scripted answers per focal asset, in call order
type scripted struct {
	mu      sync.Mutex
	answers map[string][]string
	errs    map[string][]error
	calls   map[string]int
	prompts map[string][]types.Prompt
}

func newScripted() *scripted {
	return &scripted{
		answers: map[string][]string{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
		prompts: map[string][]types.Prompt{},
	}
}

func (s *scripted) Generate(_ context.Context, p types.Prompt, _ types.GenerateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	focal := FocalAsset(p)
	i := s.calls[focal]
	s.calls[focal]++
	s.prompts[focal] = append(s.prompts[focal], p)
	if errs := s.errs[focal]; i < len(errs) && errs[i] != nil {
		return "", errs[i]
	}
	if ans := s.answers[focal]; i < len(ans) {
		return ans[i], nil
	}
	return "not json", nil
}

func windowsFor(assets ...string) map[string]types.Window {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := map[string]types.Window{}
	for _, a := range assets {
		c := make([]types.Candle, 30)
		for i := range c {
			p := 100 + float64(i)
			c[i] = types.Candle{Ts: t0.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 5}
		}
		out[a] = types.Window{Asset: a, AsOf: c[len(c)-1].Ts, Candles: c}
	}
	return out
}

const holdBTC = `{"asset":"BTC/USDT","action":"HOLD","confidence":0.3,"rationale":"wait","pairs":[]}`

func TestContract_ValidAfterMaxRetries(t *testing.T) {
	inf := newScripted()
	inf.answers["BTC/USDT"] = []string{"garbage", `{"asset":"BTC/USDT"}`, holdBTC}

	c := NewContract(inf, Options{MaxRetries: 2})
	out := c.Decide(context.Background(), windowsFor("BTC/USDT"))

	require.Len(t, out.Decisions, 1)
	d := out.Decisions[0]
	assert.False(t, d.Degraded)
	assert.Equal(t, types.ActionHold, d.Action)
	assert.Equal(t, 0.3, d.Confidence)
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, 3, inf.calls["BTC/USDT"])

	// corrective prompts carry the rejected answer and the reason
	last := inf.prompts["BTC/USDT"][2]
	require.Len(t, last.Turns, 5)
	assert.Equal(t, types.RoleAssistant, last.Turns[3].Role)
	assert.Equal(t, `{"asset":"BTC/USDT"}`, last.Turns[3].Content)
	assert.Contains(t, last.Turns[4].Content, "rejected")
}

func TestContract_FallbackAfterRetriesExhausted(t *testing.T) {
	inf := newScripted()
	inf.answers["BTC/USDT"] = []string{"garbage", "garbage", "garbage", holdBTC}

	c := NewContract(inf, Options{MaxRetries: 2})
	out := c.Decide(context.Background(), windowsFor("BTC/USDT"))

	d := out.Decisions[0]
	assert.True(t, d.Degraded)
	assert.Equal(t, types.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, 3, inf.calls["BTC/USDT"])
	assert.Empty(t, out.Pairs)
}

func TestContract_InferenceErrorsConsumeRetries(t *testing.T) {
	inf := newScripted()
	inf.errs["BTC/USDT"] = []error{context.DeadlineExceeded, errors.New("connection refused")}
	inf.answers["BTC/USDT"] = []string{"", "", holdBTC}

	c := NewContract(inf, Options{MaxRetries: 2})
	out := c.Decide(context.Background(), windowsFor("BTC/USDT"))
	assert.False(t, out.Decisions[0].Degraded)
	assert.Equal(t, 3, out.Decisions[0].Attempts)

	inf = newScripted()
	inf.errs["BTC/USDT"] = []error{context.DeadlineExceeded}
	c = NewContract(inf, Options{MaxRetries: 0})
	out = c.Decide(context.Background(), windowsFor("BTC/USDT"))
	assert.True(t, out.Decisions[0].Degraded)
	assert.Contains(t, out.Decisions[0].Rationale, "deadline")
}

func TestContract_OneDecisionPerAssetSortedAndPairsDeduped(t *testing.T) {
	inf := newScripted()
	pair := `[{"long":"ETH/USDT","short":"BTC/USDT","rationale":"r"}]`
	inf.answers["ETH/USDT"] = []string{`{"asset":"ETH/USDT","action":"BUY","confidence":0.8,"rationale":"","pairs":` + pair + `}`}
	inf.answers["BTC/USDT"] = []string{`{"asset":"BTC/USDT","action":"SELL","confidence":0.6,"rationale":"","pairs":` + pair + `}`}
	// SOL never answers validly

	c := NewContract(inf, Options{MaxRetries: 1, Parallelism: 3})
	out := c.Decide(context.Background(), windowsFor("SOL/USDT", "ETH/USDT", "BTC/USDT"))

	require.Len(t, out.Decisions, 3)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
		[]string{out.Decisions[0].Asset, out.Decisions[1].Asset, out.Decisions[2].Asset})
	assert.True(t, out.Decisions[2].Degraded)
	require.Len(t, out.Pairs, 1)
	assert.Equal(t, "ETH/USDT", out.Pairs[0].LongAsset)
}

func TestContract_PerCallTimeout(t *testing.T) {
	slow := inferenceFunc(func(ctx context.Context, p types.Prompt, _ types.GenerateOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := NewContract(slow, Options{MaxRetries: 1, Timeout: 10 * time.Millisecond})
	out := c.Decide(context.Background(), windowsFor("BTC/USDT"))
	assert.True(t, out.Decisions[0].Degraded)
	assert.Equal(t, 2, out.Decisions[0].Attempts)
}

type inferenceFunc func(context.Context, types.Prompt, types.GenerateOptions) (string, error)

func (f inferenceFunc) Generate(ctx context.Context, p types.Prompt, o types.GenerateOptions) (string, error) {
	return f(ctx, p, o)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	w := windowsFor("ETH/USDT", "BTC/USDT")
	a := BuildPrompt("ETH/USDT", w, ModeRaw, 5, "")
	b := BuildPrompt("ETH/USDT", w, ModeRaw, 5, "")
	assert.Equal(t, a, b)
	assert.Equal(t, SystemPrompt, a.System)
	assert.Equal(t, "ETH/USDT", FocalAsset(a))

	body := a.Turns[0].Content
	assert.True(t, strings.Index(body, "- BTC/USDT") < strings.Index(body, "- ETH/USDT"))
	assert.Contains(t, body, "last_closes=[125, 126, 127, 128, 129]")

	f := BuildPrompt("BTC/USDT", w, ModeFeatures, 5, "custom")
	assert.Equal(t, "custom", f.System)
	assert.Contains(t, f.Turns[0].Content, "rsi_14=")
	assert.Contains(t, f.Turns[0].Content, "- BTC/USDT / ETH/USDT: ratio_z=")
}
