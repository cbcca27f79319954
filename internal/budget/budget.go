// Package budget computes the dollar amount a BUY signal is allowed to
// spend, combining the score-based base percentage, regime scaling, and
// an optional Kelly-criterion overlay (spec.md §4.4). Grounded on
// spec.md §4.4 directly, using shopspring/decimal throughout the way
// polybot's execution path does, since lot-size flooring and percentage
// caps can't tolerate float rounding drift.
package budget

import (
	"hkus-trading-core/internal/money"
	"hkus-trading-core/internal/regime"

	"github.com/shopspring/decimal"
)

// Config mirrors the KELLY_* config knobs (spec.md §6).
type Config struct {
	KellyEnabled  bool
	KellyFraction decimal.Decimal
	KellyMax      decimal.Decimal
	KellyMinWinRate decimal.Decimal
	KellyMinTrades  int
	HardCapPct      decimal.Decimal // 0.25
}

func DefaultConfig() Config {
	return Config{
		KellyEnabled:    true,
		KellyFraction:   decimal.NewFromFloat(0.4),
		KellyMax:        decimal.NewFromFloat(0.20),
		KellyMinWinRate: decimal.NewFromFloat(0.60),
		KellyMinTrades:  15,
		HardCapPct:      decimal.NewFromFloat(0.25),
	}
}

// Stats is one tier's 30-day closed-trade statistics (symbol, market, or
// global), used to decide Kelly eligibility.
type Stats struct {
	ClosedTrades int
	WinRate      decimal.Decimal
	AvgWin       decimal.Decimal // positive
	AvgLossAbs   decimal.Decimal // positive magnitude of average loss
}

func (s Stats) qualifies(cfg Config) bool {
	return s.ClosedTrades >= cfg.KellyMinTrades && s.WinRate.GreaterThanOrEqual(cfg.KellyMinWinRate)
}

// baseBudgetPct returns the score-based piecewise base percentage,
// monotonic in score within each band, before the hard cap (spec.md
// invariant 6).
func baseBudgetPct(score int) decimal.Decimal {
	s := decimal.NewFromInt(int64(score))
	switch {
	case score >= 80:
		// 0.20 + (S-80)/400
		return decimal.NewFromFloat(0.20).Add(s.Sub(decimal.NewFromInt(80)).Div(decimal.NewFromInt(400)))
	case score >= 60:
		// 0.15 + (S-60)*0.07/20
		return decimal.NewFromFloat(0.15).Add(s.Sub(decimal.NewFromInt(60)).Mul(decimal.NewFromFloat(0.07)).Div(decimal.NewFromInt(20)))
	case score >= 45:
		// 0.05 + (S-45)*0.05/14
		return decimal.NewFromFloat(0.05).Add(s.Sub(decimal.NewFromInt(45)).Mul(decimal.NewFromFloat(0.05)).Div(decimal.NewFromInt(14)))
	default:
		return decimal.NewFromFloat(0.05)
	}
}

// Kelly returns the fractional-Kelly position size f = (p*b - (1-p))/b,
// scaled by KellyFraction and capped at KellyMax. Returns a zero
// decimal.Decimal and false if stats don't qualify or b is degenerate.
func Kelly(cfg Config, stats Stats) (decimal.Decimal, bool) {
	if !stats.qualifies(cfg) || stats.AvgLossAbs.IsZero() {
		return decimal.Zero, false
	}

	p := stats.WinRate
	b := stats.AvgWin.Div(stats.AvgLossAbs)
	if b.IsZero() {
		return decimal.Zero, false
	}

	f := p.Mul(b).Sub(decimal.NewFromInt(1).Sub(p)).Div(b)
	if f.IsNegative() {
		return decimal.Zero, false
	}

	f = f.Mul(cfg.KellyFraction)
	if f.GreaterThan(cfg.KellyMax) {
		f = cfg.KellyMax
	}
	return f, true
}

// Currency picks the target currency for a SYMBOL.MARKET ticker per
// spec.md §4.4: HK -> HKD, US -> USD.
func Currency(symbol string) string {
	if len(symbol) >= 2 && symbol[len(symbol)-2:] == "HK" {
		return "HKD"
	}
	return "USD"
}

// CashAvailable implements the §4.4 fallback chain: buy_power if >0,
// else cash if >0, else remaining_finance; 0 if all non-positive.
func CashAvailable(buyPower, cash, remainingFinance decimal.Decimal) decimal.Decimal {
	if buyPower.IsPositive() {
		return buyPower
	}
	if cash.IsPositive() {
		return cash
	}
	if remainingFinance.IsPositive() {
		return remainingFinance
	}
	return decimal.Zero
}

// Calculate returns the final budget amount for a BUY signal scoring
// score, given net_assets netAssets in the target currency and the
// current market regime. If kellyStats is non-nil and qualifies, the
// final budget is min(score_budget*regime_scale, kelly_budget).
func Calculate(cfg Config, score int, netAssets decimal.Decimal, r regime.Regime, kellyStats *Stats) decimal.Decimal {
	pct := baseBudgetPct(score)
	if pct.GreaterThan(cfg.HardCapPct) {
		pct = cfg.HardCapPct
	}

	scoreBudget := netAssets.Mul(pct).Mul(decimal.NewFromFloat(r.Scale()))

	if cfg.KellyEnabled && kellyStats != nil {
		if f, ok := Kelly(cfg, *kellyStats); ok {
			kellyBudget := netAssets.Mul(f)
			if kellyBudget.LessThan(scoreBudget) {
				return kellyBudget
			}
		}
	}
	return scoreBudget
}

// QuantityForBudget floors budget/price to the nearest lot, per spec.md
// §4.4's rounding rule: "<1 lot, return zero".
func QuantityForBudget(budgetAmount, price decimal.Decimal, lotSize int64) int64 {
	if price.IsZero() || budgetAmount.IsZero() {
		return 0
	}
	rawQty := budgetAmount.Div(price)
	return money.FloorToLot(rawQty, lotSize)
}
