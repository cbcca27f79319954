package oe

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/money"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
)

// sellTerminalStatus maps a SELL-family signal type to the PositionStop
// status it transitions to on a full exit.
func sellTerminalStatus(typ signal.Type) string {
	switch typ {
	case signal.TypeStopLoss:
		return "hit_stop_loss"
	case signal.TypeTakeProfit, signal.TypeSmartTakeProfit, signal.TypeEarlyTakeProfit:
		return "hit_take_profit"
	default:
		return "closed"
	}
}

// handleSell implements spec.md §4.3's SELL-variant handling: quantity
// resolution (partial/gradual fractions, or full from the position),
// limit submission, PositionStop transition/reduction, and the post-
// fill wake-up of delayed buys.
func (w *Worker) handleSell(ctx context.Context, sig *signal.Signal, info broker.AccountInfo) {
	pos, hasPos := info.OpenPositions[sig.Symbol]

	qty := sig.Quantity
	if qty == 0 {
		if !hasPos || pos.Quantity == 0 {
			log.Printf("ℹ️  oe[%s]: no position to sell for %s, dropping %s", w.cfg.Account, sig.Symbol, sig.Type)
			w.complete(ctx, sig)
			return
		}
		lotSize, err := w.broker.LotSize(ctx, sig.Symbol)
		if err != nil {
			lotSize = 1
		}
		switch sig.Type {
		case signal.TypePartialExit:
			qty = money.FloorToLot(decimal.NewFromInt(pos.Quantity).Mul(decimal.NewFromFloat(w.cfg.GradualExit.PartialExitPct)), lotSize)
		case signal.TypeGradualExit:
			qty = money.FloorToLot(decimal.NewFromInt(pos.Quantity).Mul(decimal.NewFromFloat(w.cfg.GradualExit.GradualExitPct)), lotSize)
		default:
			qty = pos.Quantity
		}
	}
	if qty < 1 {
		log.Printf("ℹ️  oe[%s]: resolved sell quantity <1 for %s, dropping %s", w.cfg.Account, sig.Symbol, sig.Type)
		w.complete(ctx, sig)
		return
	}

	if opposite, err := w.queue.HasOppositeDirection(ctx, sig.Symbol, signal.SideSell); err == nil && opposite {
		log.Printf("ℹ️  oe[%s]: dropping %s SELL for %s, opposite-direction signal pending", w.cfg.Account, sig.Type, sig.Symbol)
		w.complete(ctx, sig)
		return
	}

	price := limitSellPrice(sig, w.cfg.SlippagePct)

	result, err := w.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:    sig.Symbol,
		Side:      broker.OrderSell,
		Price:     price,
		Quantity:  qty,
		ClientRef: uuid.NewString(),
	})
	if err != nil {
		log.Printf("⚠️  oe[%s]: submit SELL failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		w.inflateOnRateLimit(err)
		w.failBrokerError(ctx, sig, err)
		return
	}
	if result.Status == "REJECTED" {
		w.notifier.Send("order_rejected", sig.Symbol, "SELL rejected for "+sig.Symbol+": "+result.RejectCode, notify.SeverityWarning)
		w.fail(ctx, sig, queue.ClassRejected, false)
		return
	}

	priceF, _ := price.Float64()
	if err := w.db.InsertOrder(&pg.OrderRecord{
		AccountID:   w.cfg.Account,
		OrderID:     result.OrderID,
		Symbol:      sig.Symbol,
		Side:        string(signal.SideSell),
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

	w.applyPositionStopExit(sig, pos, qty, priceF)

	w.notifier.Send(string(sig.Type), sig.Symbol,
		string(sig.Type)+" filled for "+sig.Symbol+" qty "+decimal.NewFromInt(qty).String()+" @ "+price.String(),
		notify.SeverityInfo)

	w.complete(ctx, sig)
}

// applyPositionStopExit transitions the PositionStop to a terminal
// status on a full exit, or reduces its tracked quantity on a partial
// one, per spec.md §4.3 SELL step 3.
func (w *Worker) applyPositionStopExit(sig *signal.Signal, pos broker.Position, filledQty int64, exitPrice float64) {
	stop, err := w.db.ActivePositionStop(w.cfg.Account, sig.Symbol)
	if err != nil {
		log.Printf("ℹ️  oe[%s]: no active position_stop for %s, skipping stop update", w.cfg.Account, sig.Symbol)
		return
	}

	isPartial := sig.Type == signal.TypePartialExit || sig.Type == signal.TypeGradualExit
	remaining := pos.Quantity - filledQty
	if isPartial && remaining > 0 {
		if err := w.db.ReduceQuantity(stop.ID, remaining); err != nil {
			log.Printf("⚠️  oe[%s]: reduce_quantity failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		}
		return
	}

	status := sellTerminalStatus(sig.Type)
	if err := w.db.TransitionPositionStop(stop.ID, status, exitPrice, string(sig.Type)); err != nil {
		log.Printf("⚠️  oe[%s]: position_stop transition failed for %s: %v", w.cfg.Account, sig.Symbol, err)
	}
}

// limitSellPrice derives the SELL limit price: sig.Price (the signal's
// last price) minus slippage; the order book's bid is not consulted.
func limitSellPrice(sig *signal.Signal, slippagePct decimal.Decimal) decimal.Decimal {
	base := sig.Price
	return base.Mul(decimal.NewFromInt(1).Sub(slippagePct))
}
