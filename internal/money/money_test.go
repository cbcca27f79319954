package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFloorToLot(t *testing.T) {
	tests := []struct {
		name    string
		qty     decimal.Decimal
		lotSize int64
		want    int64
	}{
		{"exact multiple", decimal.NewFromInt(500), 100, 500},
		{"rounds down", decimal.NewFromInt(549), 100, 500},
		{"below one lot", decimal.NewFromInt(50), 100, 0},
		{"lot size zero treated as 1", decimal.NewFromInt(17), 0, 17},
		{"lot size negative treated as 1", decimal.NewFromInt(17), -5, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloorToLot(tt.qty, tt.lotSize); got != tt.want {
				t.Errorf("FloorToLot(%v, %d) = %d, want %d", tt.qty, tt.lotSize, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		amount   decimal.Decimal
		currency string
		want     string
	}{
		{"positive", decimal.NewFromInt(50000), "HKD", "HKD 50,000"},
		{"negative", decimal.NewFromInt(-1250000), "USD", "USD -1,250,000"},
		{"small", decimal.NewFromInt(500), "HKD", "HKD 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.amount, tt.currency); got != tt.want {
				t.Errorf("Format(%v, %q) = %q, want %q", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}
