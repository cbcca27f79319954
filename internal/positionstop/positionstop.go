// Package positionstop derives stop-loss/take-profit levels and checks a
// price against the levels on a pg.PositionStop row; the lifecycle
// transitions themselves are made by pg.TransitionPositionStop. Grounded
// on spec.md §3's PositionStop
// description and §4.3 step 7's ATR-derived stop formula.
package positionstop

import (
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/store/pg"
)

var (
	stopLossATRMultiple   = decimal.NewFromFloat(2.5)
	takeProfitATRMultiple = decimal.NewFromFloat(3.5)
)

// DeriveFromATR computes stop_loss = price - 2.5*ATR and take_profit =
// price + 3.5*ATR, used when a BUY signal doesn't carry its own suggested
// stops (spec.md §4.3 step 7).
func DeriveFromATR(entryPrice, atr decimal.Decimal) (stopLoss, takeProfit decimal.Decimal) {
	stopLoss = entryPrice.Sub(atr.Mul(stopLossATRMultiple))
	takeProfit = entryPrice.Add(atr.Mul(takeProfitATRMultiple))
	return stopLoss, takeProfit
}

// SmartHold raises stop_loss to the current price and take_profit to
// price*1.05, applied per spec.md §4.5.3's "if score < 0, suppress and
// raise stop_loss... (smart hold)" hard-floor exception.
func SmartHold(price decimal.Decimal) (stopLoss, takeProfit decimal.Decimal) {
	return price, price.Mul(decimal.NewFromFloat(1.05))
}

// HitStopLoss reports whether price has crossed at-or-below a position's
// recorded stop.
func HitStopLoss(price decimal.Decimal, row *pg.PositionStop) bool {
	return row.Status == "active" && price.LessThanOrEqual(decimal.NewFromFloat(row.StopLoss))
}

// HitTakeProfit reports whether price has crossed at-or-above a
// position's recorded take-profit, independent of the exit scorer
// (spec.md §4.5.3 hard floors run regardless of score unless score < 0).
func HitTakeProfit(price decimal.Decimal, row *pg.PositionStop) bool {
	return row.Status == "active" && price.GreaterThanOrEqual(decimal.NewFromFloat(row.TakeProfit))
}
