// Package entry implements the entry scorer (spec.md §4.5.1): a 0-100
// score built from five weighted technical components, plus the signal
// type/priority thresholds that score maps to. Grounded directly on
// spec.md §4.5.1's point table, in the small-function style
// internal/indicator already established.
package entry

import (
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/signal"
)

// Inputs bundles the indicator snapshot plus the bar-over-bar deltas the
// MACD/Bollinger components need (golden cross, histogram expansion,
// up-day volume) that a single snapshot can't express alone.
type Inputs struct {
	Snapshot        indicator.Snapshot
	PrevMACD        float64
	PrevMACDSignal  float64
	PrevHistogram   float64
	Price           float64
	UpDay           bool
}

// Score computes the 0-100 entry score and the human-readable reasons
// that justified each component, in spec.md §4.5.1's point order.
func Score(in Inputs) (score int, reasons []string) {
	rsiPts, rsiReason := scoreRSI(in.Snapshot.RSI)
	bbPts, bbReason := scoreBollinger(in.Price, in.Snapshot.BBUpper, in.Snapshot.BBMiddle, in.Snapshot.BBLower)
	macdPts, macdReason := scoreMACD(in)
	volPts, volReason := scoreVolume(in.Snapshot.VolumeRatio, in.UpDay)
	trendPts, trendReason := scoreTrend(in.Price, in.Snapshot.SMA20, in.Snapshot.SMA50)

	score = rsiPts + bbPts + macdPts + volPts + trendPts
	reasons = []string{rsiReason, bbReason, macdReason, volReason, trendReason}
	return score, reasons
}

func scoreRSI(rsi float64) (int, string) {
	switch {
	case rsi < 30:
		// Deeper oversold scores closer to the top of the 25-30 band.
		pts := 30 - int((rsi/30)*5)
		return pts, "RSI oversold"
	case rsi >= 45 && rsi <= 55:
		return 10, "RSI neutral"
	case rsi > 70:
		return 0, "RSI overbought"
	default:
		return 5, "RSI mid-range"
	}
}

func scoreBollinger(price, upper, middle, lower float64) (int, string) {
	if lower == 0 && upper == 0 {
		return 0, "Bollinger unavailable"
	}
	switch {
	case price <= lower*1.01:
		return 25, "touching lower band"
	case price < middle:
		return 15, "lower half of bands"
	case price <= middle*1.01:
		return 5, "at middle band"
	default:
		return 0, "upper half of bands"
	}
}

func scoreMACD(in Inputs) (int, string) {
	macd, sig := in.Snapshot.MACD, in.Snapshot.MACDSignal
	histogram := macd - sig

	freshGoldenCross := in.PrevMACD <= in.PrevMACDSignal && macd > sig
	if freshGoldenCross {
		return 20, "fresh MACD golden cross"
	}
	if histogram > 0 && histogram > in.PrevHistogram {
		return 15, "MACD histogram expanding"
	}
	if histogram >= 0 {
		return 5, "MACD flat"
	}
	return 0, "MACD bearish"
}

func scoreVolume(ratio float64, upDay bool) (int, string) {
	switch {
	case ratio > 1.8 && upDay:
		return 15, "volume surge on up day"
	case ratio >= 1.2:
		return 8, "elevated volume"
	case ratio < 0.8:
		return 0, "volume dried up"
	default:
		return 4, "normal volume"
	}
}

func scoreTrend(price, sma20, sma50 float64) (int, string) {
	if price > sma20 && sma20 > sma50 {
		return 10, "uptrend: price > SMA20 > SMA50"
	}
	return 5, "mixed trend"
}

// Classify maps a score to the signal type and priority spec.md §4.5.1
// assigns, or (false) if the score is below the WEAK_BUY floor.
func Classify(score int, enableWeakBuy bool) (signal.Type, int, bool) {
	switch {
	case score >= 60:
		return signal.TypeStrongBuy, score, true
	case score >= 45:
		return signal.TypeBuy, score, true
	case score >= 30:
		if !enableWeakBuy {
			return "", 0, false
		}
		return signal.TypeWeakBuy, score, true
	default:
		return "", 0, false
	}
}
