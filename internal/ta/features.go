package ta

import (
	"math"

	"llm-crypto-trader/internal/types"
)

const (
	MABull    = "bull"
	MABear    = "bear"
	MAFlat    = "flat"
	MAUnknown = "unknown"
)

// Features is a compact technical snapshot of one window. Values that need
// more history than the window holds are NaN.
type Features struct {
	ROC1         float64
	ROC7         float64
	ROC30        float64
	PctFromSMA20 float64
	PctFromSMA50 float64
	RSI14        float64
	MACDHist     float64
	NATR14       float64
	BBPosB       float64
	BBWidth      float64
	VolRatio20   float64
	MAState      string
}

func Compute(candles []types.Candle) Features {
	n := len(candles)
	h, l, c, v := columns(candles)

	f := Features{
		ROC1:     ROC(c, 1),
		ROC7:     ROC(c, 7),
		ROC30:    ROC(c, 30),
		RSI14:    RSI(c, 14),
		MACDHist: MACDHist(c, 12, 26, 9),
		NATR14:   NATR(h, l, c, 14),
		MAState:  MAUnknown,
	}
	f.BBPosB, f.BBWidth = BollingerPos(c, 20, 2)

	sma20, sma50 := SMA(c, 20), SMA(c, 50)
	var last float64
	if n > 0 {
		last = c[n-1]
	}
	f.PctFromSMA20 = pctFrom(last, sma20)
	f.PctFromSMA50 = pctFrom(last, sma50)

	if vs := SMA(v, 20); !math.IsNaN(vs) {
		f.VolRatio20 = v[n-1] / math.Max(vs, 1e-12)
	} else {
		f.VolRatio20 = math.NaN()
	}

	if !math.IsNaN(sma20) && !math.IsNaN(sma50) {
		switch {
		case sma20 > sma50 && last > sma20:
			f.MAState = MABull
		case sma20 < sma50 && last < sma20:
			f.MAState = MABear
		default:
			f.MAState = MAFlat
		}
	}
	return f
}

// PairFeatures describes the close ratio a/b over the common tail of both windows.
type PairFeatures struct {
	RatioZ       float64
	RatioBBPosB  float64
	RatioBBWidth float64
}

func ComputePair(a, b []types.Candle) PairFeatures {
	n := min(len(a), len(b))
	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		ca := a[len(a)-n+i].Close
		cb := b[len(b)-n+i].Close
		ratio[i] = ca / math.Max(cb, 1e-12)
	}
	p := PairFeatures{RatioZ: ZScore(ratio, 20)}
	p.RatioBBPosB, p.RatioBBWidth = BollingerPos(ratio, 20, 2)
	return p
}

func pctFrom(price, ma float64) float64 {
	if math.IsNaN(ma) || ma == 0 {
		return math.NaN()
	}
	return 100.0 * (price/ma - 1.0)
}

func columns(candles []types.Candle) (h, l, c, v []float64) {
	h = make([]float64, len(candles))
	l = make([]float64, len(candles))
	c = make([]float64, len(candles))
	v = make([]float64, len(candles))
	for i, k := range candles {
		h[i], l[i], c[i], v[i] = k.High, k.Low, k.Close, k.Volume
	}
	return
}
