package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}
func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}
func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	n := period
	if len(closes) < n+1 {
		return math.NaN()
	}
	trs := make([]float64, 0, n)
	for i := len(closes) - n; i < len(closes); i++ {
		tr1 := highs[i] - lows[i]
		tr2 := math.Abs(highs[i] - closes[i-1])
		tr3 := math.Abs(lows[i] - closes[i-1])
		tr := math.Max(tr1, math.Max(tr2, tr3))
		trs = append(trs, tr)
	}
	sum := 0.0
	for _, v := range trs {
		sum += v
	}
	return sum / float64(n)
}

// ROC is the percent change over n bars.
func ROC(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n+1 {
		return math.NaN()
	}
	prev := closes[len(closes)-1-n]
	if prev == 0 {
		return math.NaN()
	}
	return 100.0 * (closes[len(closes)-1]/prev - 1.0)
}

// EMASeries seeds with the SMA of the first n values; earlier entries are NaN.
func EMASeries(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(vals) < n {
		return out
	}
	k := 2.0 / float64(n+1)
	out[n-1] = SMA(vals[:n], n)
	for i := n; i < len(vals); i++ {
		out[i] = vals[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACDHist returns the latest MACD histogram (macd - signal).
func MACDHist(closes []float64, fast, slow, signal int) float64 {
	if len(closes) < slow+signal-1 {
		return math.NaN()
	}
	ef, es := EMASeries(closes, fast), EMASeries(closes, slow)
	macd := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macd = append(macd, ef[i]-es[i])
	}
	sig := EMASeries(macd, signal)
	last := len(macd) - 1
	return macd[last] - sig[last]
}

// NATR is ATR as a percent of the last close.
func NATR(highs, lows, closes []float64, period int) float64 {
	atr := ATR(highs, lows, closes, period)
	if math.IsNaN(atr) || closes[len(closes)-1] == 0 {
		return math.NaN()
	}
	return 100.0 * atr / closes[len(closes)-1]
}

// BollingerPos returns %b and the band width as a percent of the middle band.
func BollingerPos(vals []float64, n int, k float64) (pctB, width float64) {
	mid, up, low := Bollinger(vals, n, k)
	if math.IsNaN(mid) {
		return math.NaN(), math.NaN()
	}
	last := vals[len(vals)-1]
	pctB = (last - low) / math.Max(up-low, 1e-12)
	width = (up - low) / math.Max(mid, 1e-12) * 100.0
	return
}

// ZScore of the last value against the trailing n-bar mean and deviation.
func ZScore(vals []float64, n int) float64 {
	m, sd := SMA(vals, n), StdDev(vals, n)
	if math.IsNaN(m) {
		return math.NaN()
	}
	return (vals[len(vals)-1] - m) / math.Max(sd, 1e-12)
}
