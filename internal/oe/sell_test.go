package oe

import (
	"testing"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/signal"
)

func TestLimitSellPrice(t *testing.T) {
	sig := &signal.Signal{Price: decimal.NewFromFloat(100)}
	got := limitSellPrice(sig, decimal.NewFromFloat(0.001))
	want := decimal.NewFromFloat(99.9)
	if !got.Equal(want) {
		t.Errorf("limitSellPrice = %s, want %s", got, want)
	}
}

func TestSellTerminalStatus(t *testing.T) {
	tests := []struct {
		typ  signal.Type
		want string
	}{
		{signal.TypeStopLoss, "hit_stop_loss"},
		{signal.TypeTakeProfit, "hit_take_profit"},
		{signal.TypeSmartTakeProfit, "hit_take_profit"},
		{signal.TypeEarlyTakeProfit, "hit_take_profit"},
		{signal.TypeSell, "closed"},
		{signal.TypeRotationSell, "closed"},
		{signal.TypeUrgentSell, "closed"},
	}
	for _, tt := range tests {
		if got := sellTerminalStatus(tt.typ); got != tt.want {
			t.Errorf("sellTerminalStatus(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
