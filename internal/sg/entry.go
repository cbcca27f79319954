package sg

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/entry"
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
)

// evaluateEntry runs spec.md §4.2 scan-loop step 3 for one watchlist
// symbol: market-hours gate, kline load, indicator scoring, four-layer
// dedup, buying-power pre-check, publish.
func (s *Service) evaluateEntry(ctx context.Context, symbol string) {
	market := marketOf(symbol)
	open, err := s.db.IsMarketOpen(market, time.Now())
	if err != nil {
		log.Printf("⚠️  sg: market-open check failed for %s: %v", symbol, err)
		return
	}
	if !open || !marketSessionOpen(market, beijingNow()) {
		return
	}

	candles, err := s.klineLoader.Load(ctx, symbol)
	if err != nil {
		log.Printf("ℹ️  sg: skipping %s, kline load failed: %v", symbol, err)
		return
	}

	highs, lows, closes, volumes := seriesFromCandles(candles)
	snap := indicator.Compute(highs, lows, closes, volumes)
	price := closes[len(closes)-1]
	upDay := len(closes) >= 2 && closes[len(closes)-1] > closes[len(closes)-2]
	pMACD, pSig := prevMACD(closes)

	score, reasons := entry.Score(entry.Inputs{
		Snapshot:       snap,
		PrevMACD:       pMACD,
		PrevMACDSignal: pSig,
		PrevHistogram:  pMACD - pSig,
		Price:          price,
		UpDay:          upDay,
	})

	if s.panicMonitor.InPanic() {
		log.Printf("ℹ️  sg: skipping BUY candidate %s, VIXY panic engaged", symbol)
		return
	}

	typ, priority, ok := entry.Classify(score, s.cfg.EnableWeakBuy)
	if !ok {
		return
	}

	if s.dedupBlocksEntry(ctx, symbol, typ) {
		return
	}

	priceDec := decimal.NewFromFloat(price)
	currency := budget.Currency(symbol)

	info, err := s.broker.Account(ctx)
	if err != nil {
		log.Printf("⚠️  sg: account snapshot failed for %s pre-check: %v", symbol, err)
		return
	}
	bal := info.Balance(currency)
	cashAvail := budget.CashAvailable(bal.BuyingPower, bal.Cash, bal.RemainingFinance)

	maxQty, err := s.broker.EstimateMaxPurchaseQuantity(ctx, symbol, broker.OrderBuy, priceDec, currency)
	if (err != nil || maxQty.Max() == 0) && cashAvail.IsZero() {
		s.notifier.SendWithCooldown("buying_power_zero", symbol,
			"no estimated buying power or cash available for "+symbol, notify.SeverityWarning, s.cfg.NotificationCooldown)
		return
	}

	sig := &signal.Signal{
		Symbol:     symbol,
		Type:       typ,
		Side:       signal.SideBuy,
		Score:      score,
		Priority:   priority,
		Price:      priceDec,
		Indicators: snap.ToIndicators(),
		Reasons:    reasons,
		Timestamp:  time.Now(),
		QueuedAt:   time.Now(),
		Account:    s.cfg.Account,
	}

	published, err := s.queue.Publish(ctx, sig)
	if err != nil || !published {
		return
	}

	if err := s.db.InsertSignalHistory(&pg.SignalHistory{
		AccountID: s.cfg.Account,
		Symbol:    symbol,
		Type:      string(typ),
		Score:     score,
		Price:     price,
		EmittedAt: time.Now(),
	}); err != nil {
		log.Printf("⚠️  sg: signal_history insert failed for %s: %v", symbol, err)
	}

	s.cohort.RecordEmit(symbol, time.Now())
	s.cohort.MarkTradedToday(symbol)
}

// marketSessionOpen reports whether market's exchange is inside its
// intraday trading window at Beijing time beijing: HK 09:30-12:00 &
// 13:00-15:00, US 21:30-04:00. The day-granularity trading-calendar check
// in s.db.IsMarketOpen only says the exchange trades that day at all; this
// catches the HK lunch break and the hours outside any session on a
// trading day, mirroring internal/regime's isHKSession/isUSSession windows.
func marketSessionOpen(market string, beijing time.Time) bool {
	mins := beijing.Hour()*60 + beijing.Minute()
	switch market {
	case "HK":
		return (mins >= 9*60+30 && mins < 12*60) || (mins >= 13*60 && mins < 15*60)
	case "US":
		return mins >= 21*60+30 || mins < 4*60
	default:
		return false
	}
}

// dedupBlocksEntry applies spec.md §4.5.2's four layers in order (layer 5,
// the cooldown, was already checked by the realtime handler before
// dispatch, but the scan loop re-checks it here too since it doesn't go
// through handleTick).
func (s *Service) dedupBlocksEntry(ctx context.Context, symbol string, typ signal.Type) bool {
	if s.cohort.WithinCooldown(symbol, time.Now(), s.cfg.EntryCooldown) {
		return true
	}

	pending, err := s.queue.HasPending(ctx, symbol, &typ, true)
	if err != nil {
		log.Printf("⚠️  sg: has_pending check failed for %s: %v", symbol, err)
		return true
	}
	if pending {
		return true
	}

	opposite, err := s.queue.HasOppositeDirection(ctx, symbol, signal.SideBuy)
	if err != nil {
		log.Printf("⚠️  sg: opposite-direction check failed for %s: %v", symbol, err)
		return true
	}
	if opposite {
		return true
	}

	if typ != signal.TypeAddPosition && s.cohort.IsCurrentPosition(symbol) {
		return true
	}

	if typ != signal.TypeAddPosition && s.cohort.IsTradedToday(symbol) {
		return true
	}

	return false
}
