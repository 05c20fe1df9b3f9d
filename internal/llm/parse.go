package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"llm-crypto-trader/internal/types"
)

// response is the accepted answer shape. The assets list and the pair/action
// pair fields are the older multi-asset spread format.
type response struct {
	Asset      string          `json:"asset"`
	Action     string          `json:"action"`
	Confidence *float64        `json:"confidence"`
	Rationale  string          `json:"rationale"`
	Pairs      []pairResponse  `json:"pairs"`
	Assets     []assetResponse `json:"assets"`
}

type assetResponse struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence"`
	Comment    string   `json:"comment"`
}

type pairResponse struct {
	Long       string   `json:"long"`
	Short      string   `json:"short"`
	Rationale  string   `json:"rationale"`
	Pair       string   `json:"pair"`
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence"`
	Comment    string   `json:"comment"`
}

const (
	spreadLong  = "LONG_SPREAD"
	spreadShort = "SHORT_SPREAD"
	spreadNone  = "NO_TRADE"
)

// Parse validates a model answer for focal. known lists the assets that have a
// window this step; symbols in the answer are matched case-insensitively and
// returned in their canonical form. Errors wrap types.ErrMalformedDecision.
func Parse(raw, focal string, known []string) (types.Decision, []types.PairSuggestion, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return types.Decision{}, nil, malformed("%v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var r response
	if err := dec.Decode(&r); err != nil {
		return types.Decision{}, nil, malformed("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return types.Decision{}, nil, malformed("trailing data after JSON object")
	}

	canon := make(map[string]string, len(known))
	for _, k := range known {
		canon[strings.ToUpper(k)] = k
	}
	lookup := func(s string) (string, bool) {
		c, ok := canon[strings.ToUpper(strings.TrimSpace(s))]
		return c, ok
	}

	asset, actionText, conf, rationale := r.Asset, r.Action, r.Confidence, r.Rationale
	if asset == "" && len(r.Assets) > 0 {
		found := false
		for _, a := range r.Assets {
			if c, ok := lookup(a.Symbol); ok && c == focal {
				asset, actionText, conf, rationale = a.Symbol, a.Action, a.Confidence, a.Comment
				found = true
				break
			}
		}
		if !found {
			return types.Decision{}, nil, malformed("assets list has no entry for %s", focal)
		}
	}

	if c, ok := lookup(asset); !ok || c != focal {
		return types.Decision{}, nil, malformed("asset %q does not match focal asset %s", asset, focal)
	}
	action, ok := types.ParseAction(actionText)
	if !ok {
		return types.Decision{}, nil, malformed("action %q is not BUY, SELL or HOLD", actionText)
	}
	if conf == nil {
		return types.Decision{}, nil, malformed("confidence is missing")
	}
	if *conf < 0 || *conf > 1 {
		return types.Decision{}, nil, malformed("confidence %v outside [0, 1]", *conf)
	}

	var pairs []types.PairSuggestion
	for i, p := range r.Pairs {
		long, short, rat := p.Long, p.Short, p.Rationale
		if p.Pair != "" {
			legs := strings.Split(p.Pair, " vs ")
			if len(legs) != 2 {
				return types.Decision{}, nil, malformed("pair %d: %q is not 'A vs B'", i, p.Pair)
			}
			switch strings.ToUpper(strings.TrimSpace(p.Action)) {
			case spreadNone:
				continue
			case spreadLong:
				long, short = legs[0], legs[1]
			case spreadShort:
				long, short = legs[1], legs[0]
			default:
				return types.Decision{}, nil, malformed("pair %d: spread action %q", i, p.Action)
			}
			rat = p.Comment
		}
		lc, ok := lookup(long)
		if !ok {
			return types.Decision{}, nil, malformed("pair %d: unknown asset %q", i, long)
		}
		sc, ok := lookup(short)
		if !ok {
			return types.Decision{}, nil, malformed("pair %d: unknown asset %q", i, short)
		}
		if lc == sc {
			return types.Decision{}, nil, malformed("pair %d: long and short are both %s", i, lc)
		}
		pairs = append(pairs, types.PairSuggestion{LongAsset: lc, ShortAsset: sc, Rationale: rat})
	}

	return types.Decision{
		Asset:      focal,
		Action:     action,
		Confidence: *conf,
		Rationale:  rationale,
	}, pairs, nil
}

// extractJSON strips markdown code fences and returns the outermost {...} span.
func extractJSON(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		kept := lines[:0]
		for _, ln := range lines {
			if strings.HasPrefix(strings.TrimSpace(ln), "```") {
				continue
			}
			kept = append(kept, ln)
		}
		s = strings.Join(kept, "\n")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in answer")
	}
	return []byte(s[start : end+1]), nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrMalformedDecision, fmt.Sprintf(format, args...))
}
