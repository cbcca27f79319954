// Package indicator computes the technical indicators SG's entry/exit
// scorers consume (spec.md §4.5). Grounded on DES-V2's
// internal/indicators package: small, stateless, float64-in functions,
// extended here with MACD, Bollinger Bands, and ATR in the same style.
// Decimal conversion happens only at the call boundary, where the result
// is attached to a signal.Indicators snapshot.
package indicator

import (
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/signal"
)

// SMA returns the simple moving average of the last period values, or 0
// if there isn't enough history.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average over period, seeded by a
// plain SMA of the first period values.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	seed := SMA(values[:period], period)
	out[period-1] = seed
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes a basic Relative Strength Index over the trailing period
// changes, no Wilder smoothing.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain, loss := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line and its signal line using the conventional
// 12/26/9 windows, or (0, 0) if there isn't enough history.
func MACD(values []float64) (macd, signalLine float64) {
	const fast, slow, signalPeriod = 12, 26, 9
	if len(values) < slow+signalPeriod {
		return 0, 0
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	macdSeries := make([]float64, len(values))
	for i := slow - 1; i < len(values); i++ {
		macdSeries[i] = fastEMA[i] - slowEMA[i]
	}

	sig := EMA(macdSeries[slow-1:], signalPeriod)
	if len(sig) == 0 {
		return macdSeries[len(macdSeries)-1], 0
	}
	return macdSeries[len(macdSeries)-1], sig[len(sig)-1]
}

// BollingerBands returns the upper, middle (SMA), and lower bands for
// period using numStdDev standard deviations.
func BollingerBands(values []float64, period int, numStdDev float64) (upper, middle, lower float64) {
	middle = SMA(values, period)
	if middle == 0 || len(values) < period {
		return 0, 0, 0
	}

	sumSq := 0.0
	for i := len(values) - period; i < len(values); i++ {
		diff := values[i] - middle
		sumSq += diff * diff
	}
	stddev := sqrt(sumSq / float64(period))

	upper = middle + numStdDev*stddev
	lower = middle - numStdDev*stddev
	return upper, middle, lower
}

// ATR computes the Average True Range over period: the simple average of
// the true ranges (max of high-low, |high-prevClose|, |low-prevClose|),
// from highs/lows/closes of equal length.
func ATR(highs, lows, closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		highLow := highs[i] - lows[i]
		highClose := abs(highs[i] - closes[i-1])
		lowClose := abs(lows[i] - closes[i-1])
		tr := max3(highLow, highClose, lowClose)
		trs = append(trs, tr)
	}
	return SMA(trs, period)
}

// VolumeRatio returns the most recent volume divided by its trailing
// average over period, 0 if there's not enough history or the average is
// zero.
func VolumeRatio(volumes []float64, period int) float64 {
	if period <= 0 || len(volumes) < period+1 {
		return 0
	}
	avg := SMA(volumes[:len(volumes)-1], period)
	if avg == 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	// Newton's method; avoids importing math for one call site kept
	// consistent with the rest of this package's hand-rolled style.
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// Snapshot bundles every indicator the entry/exit scorers need for one
// symbol at the current bar, converted to decimal for attachment to a
// signal.Indicators.
type Snapshot struct {
	RSI         float64
	MACD        float64
	MACDSignal  float64
	BBUpper     float64
	BBMiddle    float64
	BBLower     float64
	SMA20       float64
	SMA50       float64
	ATR         float64
	VolumeRatio float64
}

// Compute derives a Snapshot from parallel OHLCV series, all oldest-
// first, closes[len-1] being the current bar.
func Compute(highs, lows, closes, volumes []float64) Snapshot {
	macd, sig := MACD(closes)
	upper, middle, lower := BollingerBands(closes, 20, 2.0)
	return Snapshot{
		RSI:         RSI(closes, 14),
		MACD:        macd,
		MACDSignal:  sig,
		BBUpper:     upper,
		BBMiddle:    middle,
		BBLower:     lower,
		SMA20:       SMA(closes, 20),
		SMA50:       SMA(closes, 50),
		ATR:         ATR(highs, lows, closes, 14),
		VolumeRatio: VolumeRatio(volumes, 20),
	}
}

// ToIndicators converts s to the decimal-typed snapshot carried on a
// signal.Signal.
func (s Snapshot) ToIndicators() signal.Indicators {
	return signal.Indicators{
		RSI:         decimal.NewFromFloat(s.RSI),
		MACD:        decimal.NewFromFloat(s.MACD),
		MACDSignal:  decimal.NewFromFloat(s.MACDSignal),
		BBUpper:     decimal.NewFromFloat(s.BBUpper),
		BBMiddle:    decimal.NewFromFloat(s.BBMiddle),
		BBLower:     decimal.NewFromFloat(s.BBLower),
		SMA20:       decimal.NewFromFloat(s.SMA20),
		SMA50:       decimal.NewFromFloat(s.SMA50),
		ATR:         decimal.NewFromFloat(s.ATR),
		VolumeRatio: decimal.NewFromFloat(s.VolumeRatio),
	}
}
