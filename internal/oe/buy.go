package oe

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/positionstop"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
)

// handleBuy implements spec.md §4.3's BUY/STRONG_BUY/WEAK_BUY/
// ADD_POSITION handling: hard filter, lot lookup, budget, quantity,
// optional smart rotation, limit submission, PositionStop bookkeeping.
func (w *Worker) handleBuy(ctx context.Context, sig *signal.Signal, info broker.AccountInfo) {
	if sig.Type == signal.TypeWeakBuy && sig.Score < w.cfg.WeakBuyMinScore {
		log.Printf("ℹ️  oe[%s]: filtered WEAK_BUY for %s, score %d < %d", w.cfg.Account, sig.Symbol, sig.Score, w.cfg.WeakBuyMinScore)
		w.complete(ctx, sig)
		return
	}

	if opposite, err := w.queue.HasOppositeDirection(ctx, sig.Symbol, signal.SideBuy); err == nil && opposite {
		log.Printf("ℹ️  oe[%s]: dropping %s BUY for %s, opposite-direction signal pending", w.cfg.Account, sig.Type, sig.Symbol)
		w.complete(ctx, sig)
		return
	}

	lotSize, err := w.broker.LotSize(ctx, sig.Symbol)
	if err != nil {
		log.Printf("⚠️  oe[%s]: lot size lookup failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		w.failBrokerError(ctx, sig, err)
		return
	}

	currency := budget.Currency(sig.Symbol)
	bal := info.Balance(currency)

	r := w.regime.Classify(ctx)
	kellyStats := w.kellyStats(sig.Symbol, currency)
	budgetAmount := budget.Calculate(w.cfg.Budget, sig.Score, bal.NetAssets, r, kellyStats)
	if budgetAmount.IsZero() {
		w.notifier.Send("zero_budget", sig.Symbol, "computed budget is zero for "+sig.Symbol, notify.SeverityWarning)
		w.fail(ctx, sig, queue.ClassInsufficientFunds, true)
		return
	}

	maxQty, err := w.broker.EstimateMaxPurchaseQuantity(ctx, sig.Symbol, broker.OrderBuy, sig.Price, currency)
	apiMax := maxQty.Max()
	if err != nil || apiMax == 0 {
		cashAvail := budget.CashAvailable(bal.BuyingPower, bal.Cash, bal.RemainingFinance)
		fallbackCash := cashAvail.Mul(w.cfg.CashFallbackPct)
		fallbackQty := budget.QuantityForBudget(fallbackCash, sig.Price, lotSize)
		minQty := w.cfg.CashFallbackMinLots.Mul(decimal.NewFromInt(lotSize))
		if decimal.NewFromInt(fallbackQty).LessThan(minQty) {
			w.fail(ctx, sig, queue.ClassInsufficientFunds, true)
			return
		}
		apiMax = fallbackQty
	}

	qty := budget.QuantityForBudget(budgetAmount, sig.Price, lotSize)
	if qty > apiMax {
		qty = apiMax
	}

	if qty < 1 {
		rotated := w.attemptSmartRotation(ctx, sig, r)
		if !rotated {
			log.Printf("ℹ️  oe[%s]: %s budget yields <1 lot and rotation found no candidate, dropping", w.cfg.Account, sig.Symbol)
			w.complete(ctx, sig)
			return
		}
		// Rotation sell was emitted; re-publish this BUY so it re-enters
		// OE once freed capital shows up in the account cache.
		if err := w.queue.RequeueWithDelay(ctx, sig, 1); err != nil {
			log.Printf("⚠️  oe[%s]: requeue after rotation attempt failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		}
		return
	}

	price := limitBuyPrice(sig, w.cfg.SlippagePct)

	result, err := w.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:    sig.Symbol,
		Side:      broker.OrderBuy,
		Price:     price,
		Quantity:  qty,
		ClientRef: uuid.NewString(),
	})
	if err != nil {
		log.Printf("⚠️  oe[%s]: submit BUY failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		w.inflateOnRateLimit(err)
		w.failBrokerError(ctx, sig, err)
		return
	}
	if result.Status == "REJECTED" {
		w.notifier.Send("order_rejected", sig.Symbol, "BUY rejected for "+sig.Symbol+": "+result.RejectCode, notify.SeverityWarning)
		w.fail(ctx, sig, queue.ClassRejected, false)
		return
	}

	priceF, _ := price.Float64()
	if err := w.db.InsertOrder(&pg.OrderRecord{
		AccountID:   w.cfg.Account,
		OrderID:     result.OrderID,
		Symbol:      sig.Symbol,
		Side:        string(signal.SideBuy),
		SignalType:  string(sig.Type),
		Price:       priceF,
		Quantity:    qty,
		FilledQty:   result.FilledQty,
		Status:      result.Status,
		RejectCode:  result.RejectCode,
		SubmittedAt: time.Now(),
	}); err != nil {
		log.Printf("⚠️  oe[%s]: order_records insert failed for %s: %v", w.cfg.Account, sig.Symbol, err)
	}

	stopLoss, takeProfit := resolveStops(sig, price)
	market := budget.Currency(sig.Symbol)
	if market == "HKD" {
		market = "HK"
	} else {
		market = "US"
	}
	slF, _ := stopLoss.Float64()
	tpF, _ := takeProfit.Float64()
	if err := w.db.InsertPositionStop(&pg.PositionStop{
		AccountID:  w.cfg.Account,
		Symbol:     sig.Symbol,
		Market:     market,
		EntryPrice: priceF,
		Quantity:   qty,
		StopLoss:   slF,
		TakeProfit: tpF,
		OpenedAt:   time.Now(),
	}); err != nil {
		log.Printf("⚠️  oe[%s]: position_stops insert failed for %s: %v", w.cfg.Account, sig.Symbol, err)
	}

	if err := w.db.UpdateSignalHistoryExecution(w.cfg.Account, sig.Symbol, string(sig.Type), result.OrderID); err != nil {
		log.Printf("ℹ️  oe[%s]: signal_history execution update skipped for %s: %v", w.cfg.Account, sig.Symbol, err)
	}

	w.complete(ctx, sig)
}

// limitBuyPrice derives the BUY limit price: sig.Price (the signal's
// last price) plus slippage; the order book's ask is not consulted.
func limitBuyPrice(sig *signal.Signal, slippagePct decimal.Decimal) decimal.Decimal {
	base := sig.Price
	return base.Mul(decimal.NewFromInt(1).Add(slippagePct))
}

// resolveStops prefers the signal's own suggested stops, falling back to
// the ATR-derived formula when the signal didn't carry any (spec.md
// §4.3 BUY step 7).
func resolveStops(sig *signal.Signal, entryPrice decimal.Decimal) (stopLoss, takeProfit decimal.Decimal) {
	if sig.StopLoss != nil && sig.TakeProfit != nil {
		return *sig.StopLoss, *sig.TakeProfit
	}
	atr := sig.Indicators.ATR
	if atr.IsZero() {
		atr = entryPrice.Mul(decimal.NewFromFloat(0.02))
	}
	return positionstop.DeriveFromATR(entryPrice, atr)
}

// kellyStats pulls 30-day closed-trade stats tiered symbol -> market ->
// global, returning the first tier with enough data, or nil if none
// qualify (left to budget.Kelly's own eligibility check).
func (w *Worker) kellyStats(symbol, currency string) *budget.Stats {
	since := time.Now().AddDate(0, 0, -30)
	market := "US"
	if currency == "HKD" {
		market = "HK"
	}

	tiers := []struct {
		symbol, market string
	}{
		{symbol, ""},
		{"", market},
		{"", ""},
	}
	for _, t := range tiers {
		stats, err := w.db.KellyStats(w.cfg.Account, t.symbol, t.market, since)
		if err != nil || stats.ClosedTrades < w.cfg.Budget.KellyMinTrades {
			continue
		}
		winRate := decimal.NewFromFloat(stats.WinRate)
		if winRate.LessThan(w.cfg.Budget.KellyMinWinRate) {
			continue
		}
		return &budget.Stats{
			ClosedTrades: stats.ClosedTrades,
			WinRate:      winRate,
			AvgWin:       decimal.NewFromFloat(stats.AvgWin),
			AvgLossAbs:   decimal.NewFromFloat(stats.AvgLossAbs),
		}
	}
	return nil
}
