package budget

import (
	"testing"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/regime"
)

func TestCalculate_MonotonicWithinBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KellyEnabled = false
	netAssets := decimal.NewFromInt(100000)

	scores := []int{45, 50, 55, 60, 65, 70, 75, 80, 85, 90}
	var prev decimal.Decimal
	for i, s := range scores {
		got := Calculate(cfg, s, netAssets, regime.Bull, nil)
		if i > 0 && got.LessThan(prev) {
			t.Fatalf("budget not monotonic: score %d gave %v, less than score %d's %v", s, got, scores[i-1], prev)
		}
		prev = got
	}
}

func TestCalculate_HardCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KellyEnabled = false
	netAssets := decimal.NewFromInt(100000)

	got := Calculate(cfg, 100, netAssets, regime.Bull, nil)
	cap := netAssets.Mul(decimal.NewFromFloat(0.25))
	if got.GreaterThan(cap) {
		t.Errorf("Calculate(score=100) = %v, exceeds hard cap %v", got, cap)
	}
}

func TestCalculate_RegimeScaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KellyEnabled = false
	netAssets := decimal.NewFromInt(100000)

	bull := Calculate(cfg, 70, netAssets, regime.Bull, nil)
	bear := Calculate(cfg, 70, netAssets, regime.Bear, nil)
	if !bear.LessThan(bull) {
		t.Errorf("bear budget %v should be less than bull budget %v", bear, bull)
	}
}

func TestKelly_RequiresQualification(t *testing.T) {
	cfg := DefaultConfig()
	stats := Stats{
		ClosedTrades: 5, // below KellyMinTrades
		WinRate:      decimal.NewFromFloat(0.9),
		AvgWin:       decimal.NewFromFloat(100),
		AvgLossAbs:   decimal.NewFromFloat(50),
	}
	if _, ok := Kelly(cfg, stats); ok {
		t.Error("Kelly should not qualify with insufficient trade count")
	}
}

func TestKelly_CapsAtMax(t *testing.T) {
	cfg := DefaultConfig()
	stats := Stats{
		ClosedTrades: 30,
		WinRate:      decimal.NewFromFloat(0.9),
		AvgWin:       decimal.NewFromFloat(200),
		AvgLossAbs:   decimal.NewFromFloat(10),
	}
	f, ok := Kelly(cfg, stats)
	if !ok {
		t.Fatal("expected Kelly to qualify")
	}
	if f.GreaterThan(cfg.KellyMax) {
		t.Errorf("Kelly fraction %v exceeds KellyMax %v", f, cfg.KellyMax)
	}
}

func TestQuantityForBudget_FloorsToLot(t *testing.T) {
	got := QuantityForBudget(decimal.NewFromInt(10625), decimal.NewFromInt(100), 100)
	if got != 100 {
		t.Errorf("QuantityForBudget = %d, want 100", got)
	}
}

func TestQuantityForBudget_ZeroBelowOneLot(t *testing.T) {
	got := QuantityForBudget(decimal.NewFromInt(50), decimal.NewFromInt(100), 100)
	if got != 0 {
		t.Errorf("QuantityForBudget = %d, want 0", got)
	}
}

func TestCurrency(t *testing.T) {
	if got := Currency("0700.HK"); got != "HKD" {
		t.Errorf("Currency(0700.HK) = %s, want HKD", got)
	}
	if got := Currency("AAPL.US"); got != "USD" {
		t.Errorf("Currency(AAPL.US) = %s, want USD", got)
	}
}

func TestCashAvailable_FallbackChain(t *testing.T) {
	tests := []struct {
		name                                   string
		buyPower, cash, remainingFinance, want decimal.Decimal
	}{
		{"buy power positive", decimal.NewFromInt(100), decimal.NewFromInt(50), decimal.NewFromInt(10), decimal.NewFromInt(100)},
		{"falls to cash", decimal.NewFromInt(-5), decimal.NewFromInt(50), decimal.NewFromInt(10), decimal.NewFromInt(50)},
		{"falls to remaining finance", decimal.NewFromInt(-5), decimal.NewFromInt(0), decimal.NewFromInt(10), decimal.NewFromInt(10)},
		{"all non-positive", decimal.NewFromInt(-5), decimal.NewFromInt(0), decimal.NewFromInt(-1), decimal.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CashAvailable(tt.buyPower, tt.cash, tt.remainingFinance)
			if !got.Equal(tt.want) {
				t.Errorf("CashAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}
