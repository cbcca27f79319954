// Package exit implements the dynamic exit scorer for held positions
// (spec.md §4.5.3) and the ADD_POSITION gate (spec.md §4.5.4). Grounded
// on spec.md §4.5.3's signed bearish/bullish point table and
// database/signals/repository.go's weighted-sum scoring style.
package exit

import (
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/regime"
)

// Inputs bundles the current and prior-bar indicator values the scorer
// needs to detect crosses and rolls that a single snapshot can't express.
type Inputs struct {
	Snapshot indicator.Snapshot
	Price    float64

	PrevRSI   float64
	PrevSMA20 float64
	PrevSMA50 float64
	PrevMACD  float64
	PrevMACDSignal float64
	PrevHistogram  float64

	MACDBearishCrossNow bool // macd crossed below signal this bar
	RollingOffUpperBand bool // price touched upper band last bar, RSI now dropping
	VolumeExpanding     bool
}

// Score computes the signed -100..+100 exit score, applies the regime
// overlay, and returns the reasons that contributed.
func Score(in Inputs, r regime.Regime) (score int, reasons []string) {
	s := in.Snapshot

	if in.MACDBearishCrossNow {
		score += 50
		reasons = append(reasons, "MACD bearish cross")
	}
	if s.RSI > 80 {
		score += 40
		reasons = append(reasons, "RSI overbought >80")
	}
	if in.RollingOffUpperBand && s.RSI < in.PrevRSI {
		score += 30
		reasons = append(reasons, "rolling off upper band, RSI dropping")
	}
	if in.PrevSMA20 >= in.PrevSMA50 && s.SMA20 < s.SMA50 {
		score += 25
		reasons = append(reasons, "SMA20 crossed below SMA50")
	}
	if s.VolumeRatio < 0.8 {
		score += 15
		reasons = append(reasons, "volume dry-up")
	}
	if in.Price < s.SMA20 {
		score += 20
		reasons = append(reasons, "price broke below SMA20")
	}

	if in.Price > s.SMA20 && s.SMA20 > s.SMA50*1.02 {
		score -= 30
		reasons = append(reasons, "strong uptrend intact")
	}
	freshGoldenCross := in.PrevMACD <= in.PrevMACDSignal && s.MACD > s.MACDSignal
	expandingHistogram := (s.MACD-s.MACDSignal) > 0 && (s.MACD-s.MACDSignal) > in.PrevHistogram
	if freshGoldenCross || expandingHistogram {
		score -= 25
		reasons = append(reasons, "bullish MACD momentum")
	}
	if s.RSI >= 50 && s.RSI <= 70 {
		score -= 20
		reasons = append(reasons, "RSI in strong zone")
	}
	if in.Price > s.BBUpper {
		score -= 15
		reasons = append(reasons, "breakout above upper band")
	}
	if in.VolumeExpanding {
		score -= 10
		reasons = append(reasons, "volume expanding")
	}

	score += r.ExitOverlay()

	if score > 100 {
		score = 100
	}
	if score < -100 {
		score = -100
	}
	return score, reasons
}

type Action string

const (
	ActionTakeProfitNow Action = "TAKE_PROFIT_NOW"
	ActionPartialExit    Action = "PARTIAL_EXIT"
	ActionGradualExit    Action = "GRADUAL_EXIT"
	ActionNoExit         Action = "NO_EXIT"
	ActionStrongHold     Action = "STRONG_HOLD"
)

// GradualExitConfig mirrors the GRADUAL_EXIT_* config knobs (spec.md §6).
type GradualExitConfig struct {
	Enabled         bool
	Threshold25     int // GRADUAL_EXIT_THRESHOLD_25, default 40
	Threshold50     int // GRADUAL_EXIT_THRESHOLD_50, default 50
}

func DefaultGradualExitConfig() GradualExitConfig {
	return GradualExitConfig{Enabled: true, Threshold25: 40, Threshold50: 50}
}

// DecideAction maps a score to the exit action per spec.md §4.5.3's
// action bands.
func DecideAction(score int, cfg GradualExitConfig) Action {
	switch {
	case score >= 70:
		return ActionTakeProfitNow
	case score >= cfg.Threshold50 && cfg.Enabled:
		return ActionPartialExit
	case score >= cfg.Threshold25 && cfg.Enabled:
		return ActionGradualExit
	case score <= -40:
		return ActionStrongHold
	default:
		return ActionNoExit
	}
}

// AddPositionConfig mirrors the ADD_POSITION_* config knobs (spec.md §6).
type AddPositionConfig struct {
	Enabled        bool
	MinProfitPct   float64
	MinSignalScore int
	Pct            float64
}

func DefaultAddPositionConfig() AddPositionConfig {
	return AddPositionConfig{Enabled: true, MinProfitPct: 2.0, MinSignalScore: 60, Pct: 0.15}
}

// CanAddPosition implements spec.md §4.5.4's gate: regime in {BULL,
// RANGE}; position profit >= min; exit_score <= -30; a fresh BUY
// candidate scores >= MinSignalScore. Cooldown/daily-cap are enforced by
// the caller via internal/cohort.
func CanAddPosition(cfg AddPositionConfig, r regime.Regime, profitPct float64, exitScore int, freshBuyScore int) bool {
	if !cfg.Enabled {
		return false
	}
	if r != regime.Bull && r != regime.Range {
		return false
	}
	if profitPct < cfg.MinProfitPct {
		return false
	}
	if exitScore > -30 {
		return false
	}
	return freshBuyScore >= cfg.MinSignalScore
}
