package llm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"llm-crypto-trader/internal/ta"
	"llm-crypto-trader/internal/types"
)

const SystemPrompt = `You are a careful quantitative trading assistant.
You receive daily market summaries for a set of crypto assets quoted in USDT.
For the focal asset, decide BUY, SELL or HOLD with a confidence between 0 and 1.
You may also suggest pair trades among the listed assets: go long one asset and
short another. Keep a conservative bias and prefer HOLD when uncertain.
Use only the information given. Do not assume future information.
Respond with a single JSON object and nothing else, with exactly these keys:
{"asset": "<focal asset>", "action": "BUY|SELL|HOLD", "confidence": 0.0,
 "rationale": "<short reason>", "pairs": [{"long": "<asset>", "short": "<asset>", "rationale": "<short reason>"}]}
Use an empty list when you have no pair suggestion.`

type SummaryMode string

const (
	ModeRaw      SummaryMode = "raw"
	ModeFeatures SummaryMode = "features"
)

// BuildPrompt renders the prompt for one focal asset. The output depends only
// on its inputs: assets are listed in sorted order and floats are formatted
// with fixed rules.
func BuildPrompt(focal string, windows map[string]types.Window, mode SummaryMode, summaryBars int, system string) types.Prompt {
	if system == "" {
		system = SystemPrompt
	}
	assets := sortedAssets(windows)

	var b strings.Builder
	fmt.Fprintf(&b, "Assets: %s\n", strings.Join(assets, ", "))
	fmt.Fprintf(&b, "%s%s\n\n", focalPrefix, focal)

	switch mode {
	case ModeFeatures:
		b.WriteString("Technical features (per asset):\n")
		for _, a := range assets {
			b.WriteString(featureSummary(a, windows[a]))
			b.WriteByte('\n')
		}
		if len(assets) > 1 {
			b.WriteString("\nPair features (close ratio first/second):\n")
			for i := 0; i < len(assets); i++ {
				for j := i + 1; j < len(assets); j++ {
					b.WriteString(pairSummary(assets[i], assets[j], windows[assets[i]], windows[assets[j]]))
					b.WriteByte('\n')
				}
			}
		}
	default:
		b.WriteString("Daily summaries (per asset):\n")
		for _, a := range assets {
			b.WriteString(rawSummary(a, windows[a], summaryBars))
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "\nRespond with the JSON object for %s.", focal)
	return types.Prompt{
		System: system,
		Turns:  []types.Turn{{Role: types.RoleUser, Content: b.String()}},
	}
}

// Corrective appends the rejected answer and the reason it was rejected.
func Corrective(p types.Prompt, answer string, reason error) types.Prompt {
	turns := make([]types.Turn, len(p.Turns), len(p.Turns)+2)
	copy(turns, p.Turns)
	turns = append(turns,
		types.Turn{Role: types.RoleAssistant, Content: answer},
		types.Turn{Role: types.RoleUser, Content: fmt.Sprintf(
			"Your previous answer was rejected: %v. Reply again with only the JSON object in the required format.", reason)},
	)
	return types.Prompt{System: p.System, Turns: turns}
}

func rawSummary(asset string, w types.Window, n int) string {
	c := w.Candles
	if len(c) == 0 {
		return fmt.Sprintf("- %s: no data", asset)
	}
	lo, hi := c[0].Low, c[0].High
	var volSum float64
	for _, k := range c {
		lo = math.Min(lo, k.Low)
		hi = math.Max(hi, k.High)
		volSum += k.Volume
	}
	first, last := c[0].Close, c[len(c)-1].Close
	trend := 0.0
	if first != 0 {
		trend = 100 * (last/first - 1)
	}

	tail := c[max(0, len(c)-n):]
	closes := make([]string, len(tail))
	vols := make([]string, len(tail))
	for i, k := range tail {
		closes[i] = num(k.Close)
		vols[i] = num(k.Volume)
	}

	return fmt.Sprintf("- %s: bars=%d range=[%s, %s] first_close=%s last_close=%s trend_pct=%s avg_volume=%s last_volume=%s\n  last_closes=[%s]\n  last_volumes=[%s]",
		asset, len(c), num(lo), num(hi), num(first), num(last), num(trend),
		num(volSum/float64(len(c))), num(c[len(c)-1].Volume),
		strings.Join(closes, ", "), strings.Join(vols, ", "))
}

func featureSummary(asset string, w types.Window) string {
	f := ta.Compute(w.Candles)
	return fmt.Sprintf("- %s: roc_1d=%s roc_7d=%s roc_30d=%s pct_from_sma20=%s pct_from_sma50=%s ma_state=%s rsi_14=%s macd_hist=%s natr_14=%s bb_pos_b=%s bb_width=%s vol_ratio_20=%s",
		asset, num(f.ROC1), num(f.ROC7), num(f.ROC30), num(f.PctFromSMA20), num(f.PctFromSMA50), f.MAState,
		num(f.RSI14), num(f.MACDHist), num(f.NATR14), num(f.BBPosB), num(f.BBWidth), num(f.VolRatio20))
}

func pairSummary(a, b string, wa, wb types.Window) string {
	p := ta.ComputePair(wa.Candles, wb.Candles)
	return fmt.Sprintf("- %s / %s: ratio_z=%s ratio_bb_pos_b=%s ratio_bb_width=%s",
		a, b, num(p.RatioZ), num(p.RatioBBPosB), num(p.RatioBBWidth))
}

// num rounds to six decimal places; NaN renders as "n/a".
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

func sortedAssets(windows map[string]types.Window) []string {
	out := make([]string, 0, len(windows))
	for a := range windows {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

const focalPrefix = "Focal asset: "

// FocalAsset recovers the focal asset from a prompt built by BuildPrompt.
func FocalAsset(p types.Prompt) string {
	if len(p.Turns) == 0 {
		return ""
	}
	for _, ln := range strings.Split(p.Turns[0].Content, "\n") {
		if rest, ok := strings.CutPrefix(ln, focalPrefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
