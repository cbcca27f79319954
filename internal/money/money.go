// Package money provides decimal-safe helpers for the budget, Kelly, and
// order-pricing arithmetic that spec.md requires to be exact (lot
// flooring, percentage-of-net-assets caps).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FloorToLot rounds a raw quantity down to the nearest whole multiple of
// lotSize. lotSize <= 0 is treated as 1.
func FloorToLot(qty decimal.Decimal, lotSize int64) int64 {
	if lotSize <= 0 {
		lotSize = 1
	}
	lots := qty.Div(decimal.NewFromInt(lotSize)).Floor()
	return lots.IntPart() * lotSize
}

// Format renders an amount with thousands separators and a currency
// prefix, e.g. Format(decimal.NewFromInt(-50000), "HKD") -> "HKD -50,000".
// Adapted from the teacher's Rupiah-only formatter to a currency-neutral
// version since this core trades HKD and USD, never IDR.
func Format(amount decimal.Decimal, currency string) string {
	neg := amount.IsNegative()
	whole := amount.Abs().Truncate(0).IntPart()
	str := fmt.Sprintf("%d", whole)
	length := len(str)

	var grouped string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			grouped += ","
		}
		grouped += string(digit)
	}

	if neg {
		return fmt.Sprintf("%s -%s", currency, grouped)
	}
	return fmt.Sprintf("%s %s", currency, grouped)
}
