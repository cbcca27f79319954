package sg

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/entry"
	"hkus-trading-core/internal/exit"
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/positionstop"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
)

// partialExitState is the KV-persisted observation-window record spec.md
// §4.5.3 calls for: "record observation window (5-10 min); if score stays
// >= 60 at window end, exit remainder."
type partialExitState struct {
	Score     int       `json:"score"`
	EmittedAt time.Time `json:"emitted_at"`
}

func partialExitKey(account, symbol string) string {
	return fmt.Sprintf("trading:partial_exit:%s:%s", account, symbol)
}

// evaluateHeldPosition runs spec.md §4.5.3's dynamic exit scorer plus its
// hard floors for one held position, and §4.5.4's ADD_POSITION gate when
// the score lands in STRONG_HOLD territory.
func (s *Service) evaluateHeldPosition(ctx context.Context, symbol string, pos broker.Position, r regime.Regime) {
	stopRow, err := s.db.ActivePositionStop(s.cfg.Account, symbol)
	if err != nil {
		log.Printf("ℹ️  sg: no active position_stop for %s, skipping exit check: %v", symbol, err)
		return
	}

	candles, err := s.klineLoader.Load(ctx, symbol)
	if err != nil {
		log.Printf("ℹ️  sg: skipping exit check for %s, kline load failed: %v", symbol, err)
		return
	}
	highs, lows, closes, volumes := seriesFromCandles(candles)
	if len(closes) < 2 {
		return
	}
	snap := indicator.Compute(highs, lows, closes, volumes)
	prevSnap := indicator.Compute(highs[:len(highs)-1], lows[:len(lows)-1], closes[:len(closes)-1], volumes[:len(volumes)-1])
	price := closes[len(closes)-1]
	pMACD, pSig := prevMACD(closes)

	in := exit.Inputs{
		Snapshot:            snap,
		Price:               price,
		PrevRSI:             prevSnap.RSI,
		PrevSMA20:           prevSnap.SMA20,
		PrevSMA50:           prevSnap.SMA50,
		PrevMACD:            pMACD,
		PrevMACDSignal:      pSig,
		PrevHistogram:       pMACD - pSig,
		MACDBearishCrossNow: pMACD >= pSig && snap.MACD < snap.MACDSignal,
		RollingOffUpperBand: closes[len(closes)-2] >= prevSnap.BBUpper && snap.RSI < prevSnap.RSI,
		VolumeExpanding:     snap.VolumeRatio > 1.2,
	}
	score, reasons := exit.Score(in, r)
	priceDec := decimal.NewFromFloat(price)

	if positionstop.HitStopLoss(priceDec, stopRow) {
		s.emitSell(ctx, symbol, signal.TypeStopLoss, pos.Quantity, priceDec, 100, reasons)
		return
	}

	if positionstop.HitTakeProfit(priceDec, stopRow) {
		if score >= 0 {
			s.emitSell(ctx, symbol, signal.TypeTakeProfit, pos.Quantity, priceDec, 90, reasons)
			return
		}
		sl, tp := positionstop.SmartHold(priceDec)
		slF, _ := sl.Float64()
		tpF, _ := tp.Float64()
		if err := s.db.UpdateStopLevels(stopRow.ID, slF, tpF); err != nil {
			log.Printf("⚠️  sg: smart-hold stop update failed for %s: %v", symbol, err)
		}
		return
	}

	action := exit.DecideAction(score, s.cfg.GradualExit)
	switch action {
	case exit.ActionTakeProfitNow:
		s.emitSell(ctx, symbol, signal.TypeSmartTakeProfit, pos.Quantity, priceDec, 95, reasons)
	case exit.ActionPartialExit:
		s.emitGradualFollowup(ctx, symbol, signal.TypePartialExit, pos, priceDec, score, reasons)
	case exit.ActionGradualExit:
		s.emitGradualFollowup(ctx, symbol, signal.TypeGradualExit, pos, priceDec, score, reasons)
	case exit.ActionStrongHold:
		s.tryAddPosition(ctx, symbol, pos, r, score)
	case exit.ActionNoExit:
	}
}

// emitGradualFollowup emits the initial partial/gradual exit and records
// an observation-window state in KV; a later call for the same symbol
// whose window has elapsed escalates to a full exit if the score still
// qualifies, per spec.md §4.5.3. The initial emission leaves the quantity
// unset, so OE sizes it as its partial/gradual fraction of the holding.
func (s *Service) emitGradualFollowup(ctx context.Context, symbol string, typ signal.Type, pos broker.Position, price decimal.Decimal, score int, reasons []string) {
	var prior partialExitState
	hasPrior := s.kv != nil && s.kv.Get(ctx, partialExitKey(s.cfg.Account, symbol), &prior) == nil

	if hasPrior && time.Since(prior.EmittedAt) >= s.cfg.PartialExitWindow {
		if score >= 60 {
			s.emitSell(ctx, symbol, signal.TypeSmartTakeProfit, pos.Quantity, price, 90,
				append(reasons, "partial/gradual exit window elapsed, score still elevated"))
		}
		if s.kv != nil {
			_ = s.kv.Delete(ctx, partialExitKey(s.cfg.Account, symbol))
		}
		return
	}
	if hasPrior {
		return
	}

	s.emitSell(ctx, symbol, typ, 0, price, 85, reasons)
	if s.kv != nil {
		_ = s.kv.Set(ctx, partialExitKey(s.cfg.Account, symbol),
			partialExitState{Score: score, EmittedAt: time.Now()}, s.cfg.PartialExitWindow+time.Minute)
	}
}

// emitSell publishes a SELL-family signal for a held position, applying
// the queue's own exit-signal dedup (spec.md §4.5.2 note: "a pending SELL
// blocks a BUY... checked in SG at publish time").
func (s *Service) emitSell(ctx context.Context, symbol string, typ signal.Type, qty int64, price decimal.Decimal, priority int, reasons []string) {
	pending, err := s.queue.HasPending(ctx, symbol, &typ, true)
	if err != nil || pending {
		return
	}

	sig := &signal.Signal{
		Symbol:    symbol,
		Type:      typ,
		Side:      signal.SideSell,
		Priority:  priority,
		Price:     price,
		Quantity:  qty,
		Reasons:   reasons,
		Timestamp: time.Now(),
		QueuedAt:  time.Now(),
		Account:   s.cfg.Account,
	}
	published, err := s.queue.Publish(ctx, sig)
	if err != nil || !published {
		return
	}
	priceF, _ := price.Float64()
	if err := s.db.InsertSignalHistory(&pg.SignalHistory{
		AccountID: s.cfg.Account,
		Symbol:    symbol,
		Type:      string(typ),
		Score:     priority,
		Price:     priceF,
		EmittedAt: time.Now(),
	}); err != nil {
		log.Printf("⚠️  sg: signal_history insert failed for %s: %v", symbol, err)
	}
}

// tryAddPosition implements spec.md §4.5.4: on a STRONG_HOLD exit score,
// a fresh entry re-score of the same symbol that still qualifies as a
// strong BUY, subject to cohort's own cooldown/daily-cap, triggers an
// ADD_POSITION.
func (s *Service) tryAddPosition(ctx context.Context, symbol string, pos broker.Position, r regime.Regime, exitScore int) {
	if !s.cohort.CanAddPosition(symbol, time.Now(), s.cfg.AddPositionCooldown, s.cfg.AddPositionMaxPerDay) {
		return
	}

	candles, err := s.klineLoader.Load(ctx, symbol)
	if err != nil {
		return
	}
	highs, lows, closes, volumes := seriesFromCandles(candles)
	snap := indicator.Compute(highs, lows, closes, volumes)
	price := closes[len(closes)-1]
	upDay := len(closes) >= 2 && closes[len(closes)-1] > closes[len(closes)-2]
	pMACD, pSig := prevMACD(closes)

	freshScore, reasons := entry.Score(entry.Inputs{
		Snapshot:       snap,
		PrevMACD:       pMACD,
		PrevMACDSignal: pSig,
		PrevHistogram:  pMACD - pSig,
		Price:          price,
		UpDay:          upDay,
	})

	priceDec := decimal.NewFromFloat(price)
	avgPrice, _ := pos.AveragePrice.Float64()
	var profitPct float64
	if avgPrice > 0 {
		profitPct = (price - avgPrice) / avgPrice * 100
	}

	if !exit.CanAddPosition(s.cfg.AddPosition, r, profitPct, exitScore, freshScore) {
		return
	}

	if s.dedupBlocksEntry(ctx, symbol, signal.TypeAddPosition) {
		return
	}

	addQty := int64(float64(pos.Quantity) * s.cfg.AddPosition.Pct)
	if addQty < 1 {
		return
	}

	sig := &signal.Signal{
		Symbol:     symbol,
		Type:       signal.TypeAddPosition,
		Side:       signal.SideBuy,
		Score:      freshScore,
		Priority:   freshScore,
		Price:      priceDec,
		Quantity:   addQty,
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
	s.cohort.RecordAddPosition(symbol, time.Now())
}
