package positionstop

import (
	"testing"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/store/pg"
)

func TestDeriveFromATR(t *testing.T) {
	price := decimal.NewFromInt(100)
	atr := decimal.NewFromInt(2)

	stopLoss, takeProfit := DeriveFromATR(price, atr)

	wantStop := decimal.NewFromFloat(95) // 100 - 2.5*2
	wantTP := decimal.NewFromFloat(107)  // 100 + 3.5*2

	if !stopLoss.Equal(wantStop) {
		t.Errorf("stopLoss = %v, want %v", stopLoss, wantStop)
	}
	if !takeProfit.Equal(wantTP) {
		t.Errorf("takeProfit = %v, want %v", takeProfit, wantTP)
	}
}

func TestHitStopLoss(t *testing.T) {
	row := &pg.PositionStop{Status: "active", StopLoss: 95}
	if !HitStopLoss(decimal.NewFromInt(94), row) {
		t.Error("expected stop loss hit at price below stop")
	}
	if !HitStopLoss(decimal.NewFromInt(95), row) {
		t.Error("expected stop loss hit at price equal to stop")
	}
	if HitStopLoss(decimal.NewFromInt(96), row) {
		t.Error("did not expect stop loss hit above stop")
	}
}

func TestHitStopLoss_IgnoresNonActive(t *testing.T) {
	row := &pg.PositionStop{Status: "hit_stop_loss", StopLoss: 95}
	if HitStopLoss(decimal.NewFromInt(50), row) {
		t.Error("a non-active row must never re-trigger")
	}
}

func TestHitTakeProfit(t *testing.T) {
	row := &pg.PositionStop{Status: "active", TakeProfit: 110}
	if !HitTakeProfit(decimal.NewFromInt(111), row) {
		t.Error("expected take profit hit above target")
	}
	if HitTakeProfit(decimal.NewFromInt(109), row) {
		t.Error("did not expect take profit hit below target")
	}
}
