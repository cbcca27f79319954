package sg

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
)

func candleAt(day int, high, low, close float64, volume int64) broker.Candle {
	return broker.Candle{
		High:   decimal.NewFromFloat(high),
		Low:    decimal.NewFromFloat(low),
		Close:  decimal.NewFromFloat(close),
		Volume: volume,
	}
}

func TestMarketOf(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"0700.HK", "HK"},
		{"AAPL.US", "US"},
		{"HSI.HK", "HK"},
		{"SPY.US", "US"},
	}
	for _, tt := range tests {
		if got := marketOf(tt.symbol); got != tt.want {
			t.Errorf("marketOf(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestSeriesFromCandles(t *testing.T) {
	candles := []broker.Candle{
		candleAt(1, 10, 8, 9, 100),
		candleAt(2, 12, 9, 11, 200),
	}
	highs, lows, closes, volumes := seriesFromCandles(candles)
	if len(highs) != 2 || len(lows) != 2 || len(closes) != 2 || len(volumes) != 2 {
		t.Fatalf("series lengths = %d/%d/%d/%d, want 2 each", len(highs), len(lows), len(closes), len(volumes))
	}
	if closes[0] != 9 || closes[1] != 11 {
		t.Errorf("closes = %v, want [9 11]", closes)
	}
	if volumes[1] != 200 {
		t.Errorf("volumes[1] = %v, want 200", volumes[1])
	}
}

func TestPrevMACD_ShortSeriesIsZero(t *testing.T) {
	macd, signalLine := prevMACD([]float64{1})
	if macd != 0 || signalLine != 0 {
		t.Errorf("prevMACD on a 1-point series = (%v, %v), want (0, 0)", macd, signalLine)
	}
}

func TestRolloverCohortIfNewDay(t *testing.T) {
	svc := New(Config{}, nil, nil, nil, nil, nil, nil, nil)

	svc.rolloverCohortIfNewDay() // first call only records today, no reset
	svc.cohort.MarkTradedToday("0700.HK")
	if !svc.cohort.IsTradedToday("0700.HK") {
		t.Fatal("expected 0700.HK marked traded before rollover")
	}

	svc.mu.Lock()
	svc.tradingDay = "2000-01-01" // force a stale trading day
	svc.mu.Unlock()

	svc.rolloverCohortIfNewDay()
	if svc.cohort.IsTradedToday("0700.HK") {
		t.Error("expected traded_today cleared after a day rollover")
	}
}

func TestMarketSessionOpen(t *testing.T) {
	tests := []struct {
		market string
		t      time.Time
		want   bool
	}{
		{"HK", beijing(10, 0), true},
		{"HK", beijing(12, 30), false}, // lunch break
		{"HK", beijing(14, 0), true},
		{"HK", beijing(16, 0), false},
		{"HK", beijing(22, 0), false},
		{"US", beijing(22, 0), true},
		{"US", beijing(3, 0), true},
		{"US", beijing(10, 0), false},
		{"US", beijing(21, 0), false},
		{"XX", beijing(10, 0), false},
	}
	for _, tt := range tests {
		if got := marketSessionOpen(tt.market, tt.t); got != tt.want {
			t.Errorf("marketSessionOpen(%q, %s) = %v, want %v", tt.market, tt.t.Format("15:04"), got, tt.want)
		}
	}
}
