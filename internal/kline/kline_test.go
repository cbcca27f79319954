package kline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
)

func candle(day int, close float64) broker.Candle {
	return broker.Candle{
		Time:  time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		Close: decimal.NewFromFloat(close),
	}
}

func TestMerge_APIOverridesDB(t *testing.T) {
	db := []broker.Candle{candle(1, 100), candle(2, 101)}
	api := []broker.Candle{candle(2, 999), candle(3, 102)}

	merged := Merge(db, api)
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	if !merged[1].Close.Equal(decimal.NewFromFloat(999)) {
		t.Errorf("day 2 close = %v, want 999 (api override)", merged[1].Close)
	}
}

func TestMerge_SortedAscending(t *testing.T) {
	db := []broker.Candle{candle(3, 100), candle(1, 101)}
	api := []broker.Candle{candle(2, 102)}

	merged := Merge(db, api)
	for i := 1; i < len(merged); i++ {
		if merged[i].Time.Before(merged[i-1].Time) {
			t.Fatalf("merged not sorted ascending: %v", merged)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	db := []broker.Candle{candle(1, 100), candle(2, 101)}
	api := []broker.Candle{candle(2, 999), candle(3, 102)}

	once := Merge(db, api)
	twice := Merge(once, api)

	if len(once) != len(twice) {
		t.Fatalf("len(once)=%d != len(twice)=%d", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Time.Equal(twice[i].Time) || !once[i].Close.Equal(twice[i].Close) {
			t.Errorf("merge(merge(db,api),api) diverged at index %d: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestIsOption(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"AAPL250117C00150000.US", true},
		{"AAPL.US", false},
		{"0700.HK", false},
		{"TSLA250620P00200000.US", true},
	}
	for _, tt := range tests {
		if got := IsOption(tt.symbol); got != tt.want {
			t.Errorf("IsOption(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}
