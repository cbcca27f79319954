package oe

import (
	"testing"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/signal"
)

func TestLimitBuyPrice(t *testing.T) {
	sig := &signal.Signal{Price: decimal.NewFromFloat(100)}
	got := limitBuyPrice(sig, decimal.NewFromFloat(0.001))
	want := decimal.NewFromFloat(100.1)
	if !got.Equal(want) {
		t.Errorf("limitBuyPrice = %s, want %s", got, want)
	}
}

func TestResolveStops_PrefersSignalLevels(t *testing.T) {
	sl := decimal.NewFromFloat(90)
	tp := decimal.NewFromFloat(120)
	sig := &signal.Signal{StopLoss: &sl, TakeProfit: &tp}

	gotSL, gotTP := resolveStops(sig, decimal.NewFromFloat(100))
	if !gotSL.Equal(sl) || !gotTP.Equal(tp) {
		t.Errorf("resolveStops = (%s, %s), want (%s, %s)", gotSL, gotTP, sl, tp)
	}
}

func TestResolveStops_FallsBackToATR(t *testing.T) {
	sig := &signal.Signal{
		Indicators: signal.Indicators{ATR: decimal.NewFromFloat(2)},
	}
	entry := decimal.NewFromFloat(100)

	gotSL, gotTP := resolveStops(sig, entry)
	wantSL := entry.Sub(decimal.NewFromFloat(2).Mul(decimal.NewFromFloat(2.5)))
	wantTP := entry.Add(decimal.NewFromFloat(2).Mul(decimal.NewFromFloat(3.5)))
	if !gotSL.Equal(wantSL) {
		t.Errorf("stop_loss = %s, want %s", gotSL, wantSL)
	}
	if !gotTP.Equal(wantTP) {
		t.Errorf("take_profit = %s, want %s", gotTP, wantTP)
	}
}

func TestResolveStops_ZeroATRUsesTwoPercentFallback(t *testing.T) {
	sig := &signal.Signal{}
	entry := decimal.NewFromFloat(100)

	gotSL, gotTP := resolveStops(sig, entry)
	fallbackATR := entry.Mul(decimal.NewFromFloat(0.02))
	wantSL := entry.Sub(fallbackATR.Mul(decimal.NewFromFloat(2.5)))
	wantTP := entry.Add(fallbackATR.Mul(decimal.NewFromFloat(3.5)))
	if !gotSL.Equal(wantSL) {
		t.Errorf("stop_loss = %s, want %s", gotSL, wantSL)
	}
	if !gotTP.Equal(wantTP) {
		t.Errorf("take_profit = %s, want %s", gotTP, wantTP)
	}
}
