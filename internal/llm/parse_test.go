package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-crypto-trader/internal/types"
)

var known = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

func TestParse_Valid(t *testing.T) {
	raw := `{"asset":"btc/usdt","action":"buy","confidence":0.7,"rationale":"breakout",
	  "pairs":[{"long":"ETH/USDT","short":"sol/usdt","rationale":"relative strength"}]}`

	d, pairs, err := Parse(raw, "BTC/USDT", known)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", d.Asset)
	assert.Equal(t, types.ActionBuy, d.Action)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, "breakout", d.Rationale)
	require.Len(t, pairs, 1)
	assert.Equal(t, types.PairSuggestion{LongAsset: "ETH/USDT", ShortAsset: "SOL/USDT", Rationale: "relative strength"}, pairs[0])
}

func TestParse_CodeFenceAndChatter(t *testing.T) {
	raw := "```json\n{\"asset\":\"ETH/USDT\",\"action\":\"HOLD\",\"confidence\":0.2,\"rationale\":\"\",\"pairs\":[]}\n```"
	d, _, err := Parse(raw, "ETH/USDT", known)
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, d.Action)

	raw = `Sure! Here is my answer: {"asset":"ETH/USDT","action":"SELL","confidence":1,"rationale":"x","pairs":[]} Hope it helps.`
	d, _, err = Parse(raw, "ETH/USDT", known)
	require.NoError(t, err)
	assert.Equal(t, types.ActionSell, d.Action)
}

func TestParse_LegacySpreadForm(t *testing.T) {
	raw := `{"assets":[{"symbol":"BTC/USDT","action":"HOLD","confidence":0.1,"comment":"meh"},
	                  {"symbol":"ETH/USDT","action":"BUY","confidence":0.6,"comment":"up"}],
	         "pairs":[{"pair":"BTC/USDT vs ETH/USDT","action":"SHORT_SPREAD","confidence":0.5,"comment":"eth leads"},
	                  {"pair":"BTC/USDT vs SOL/USDT","action":"NO_TRADE","confidence":0,"comment":""},
	                  {"pair":"SOL/USDT vs ETH/USDT","action":"LONG_SPREAD","confidence":0.4,"comment":"sol"}]}`

	d, pairs, err := Parse(raw, "ETH/USDT", known)
	require.NoError(t, err)
	assert.Equal(t, types.ActionBuy, d.Action)
	assert.Equal(t, "up", d.Rationale)
	require.Len(t, pairs, 2)
	assert.Equal(t, "ETH/USDT", pairs[0].LongAsset)
	assert.Equal(t, "BTC/USDT", pairs[0].ShortAsset)
	assert.Equal(t, "SOL/USDT", pairs[1].LongAsset)
	assert.Equal(t, "ETH/USDT", pairs[1].ShortAsset)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I think you should buy."},
		{"truncated", `{"asset":"BTC/USDT","action":"BUY"`},
		{"unknown field", `{"asset":"BTC/USDT","action":"BUY","confidence":0.5,"size":3}`},
		{"wrong asset", `{"asset":"ETH/USDT","action":"BUY","confidence":0.5}`},
		{"bad action", `{"asset":"BTC/USDT","action":"STRONG_BUY","confidence":0.5}`},
		{"missing confidence", `{"asset":"BTC/USDT","action":"BUY"}`},
		{"confidence above one", `{"asset":"BTC/USDT","action":"BUY","confidence":1.5}`},
		{"negative confidence", `{"asset":"BTC/USDT","action":"BUY","confidence":-0.1}`},
		{"pair unknown asset", `{"asset":"BTC/USDT","action":"HOLD","confidence":0,"pairs":[{"long":"DOGE/USDT","short":"ETH/USDT"}]}`},
		{"pair same asset", `{"asset":"BTC/USDT","action":"HOLD","confidence":0,"pairs":[{"long":"ETH/USDT","short":"eth/usdt"}]}`},
		{"legacy bad spread", `{"asset":"BTC/USDT","action":"HOLD","confidence":0,"pairs":[{"pair":"BTC/USDT vs ETH/USDT","action":"BUY"}]}`},
		{"legacy missing focal", `{"assets":[{"symbol":"ETH/USDT","action":"BUY","confidence":0.5}],"pairs":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.raw, "BTC/USDT", known)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformedDecision))
		})
	}
}
