package sg

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/exit"
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/signal"
)

func beijingNow() time.Time {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return time.Now().In(loc)
}

// inHKPreClose reports whether t falls in the HK pre-close window
// (15:30-16:00 Beijing), spec.md §4.2's rotation trigger.
func inHKPreClose(t time.Time) bool {
	mins := t.Hour()*60 + t.Minute()
	return mins >= 15*60+30 && mins < 16*60
}

// inUSPreClose reports whether t falls in the US pre-close window
// (22:00-23:59 Beijing).
func inUSPreClose(t time.Time) bool {
	mins := t.Hour()*60 + t.Minute()
	return mins >= 22*60 && mins < 24*60
}

func anyMarketOpen(s *Service) bool {
	hkOpen, _ := s.db.IsMarketOpen("HK", time.Now())
	usOpen, _ := s.db.IsMarketOpen("US", time.Now())
	return hkOpen || usOpen
}

// rotationLoop runs spec.md §4.2's independent 30s rotation goroutine:
// pre-close weak-position rotation, and delayed/failed-queue capital
// liberation.
func (s *Service) rotationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rotationOnce(ctx)
		}
	}
}

type weaknessEntry struct {
	symbol string
	pos    broker.Position
	score  int
}

func (s *Service) rotationOnce(ctx context.Context) {
	if !anyMarketOpen(s) {
		return
	}

	info, err := s.broker.Account(ctx)
	if err != nil {
		log.Printf("⚠️  sg: rotation account snapshot failed: %v", err)
		return
	}
	r := s.regimeClassifier.Classify(ctx)

	now := beijingNow()
	var market string
	switch {
	case inHKPreClose(now):
		market = "HK"
	case inUSPreClose(now):
		market = "US"
	}
	if market != "" {
		s.rotatePreClose(ctx, info, market, r)
	}

	s.rotateForStuckBuys(ctx, info, r)
}

// weaknessScore scores a held position the same way evaluateHeldPosition
// does but without emitting — used purely to rank rotation candidates.
func (s *Service) weaknessScore(ctx context.Context, symbol string, r regime.Regime) (int, bool) {
	candles, err := s.klineLoader.Load(ctx, symbol)
	if err != nil {
		return 0, false
	}
	highs, lows, closes, volumes := seriesFromCandles(candles)
	if len(closes) < 2 {
		return 0, false
	}
	snap := indicator.Compute(highs, lows, closes, volumes)
	prevSnap := indicator.Compute(highs[:len(highs)-1], lows[:len(lows)-1], closes[:len(closes)-1], volumes[:len(volumes)-1])
	pMACD, pSig := prevMACD(closes)

	in := exit.Inputs{
		Snapshot:            snap,
		Price:               closes[len(closes)-1],
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
	score, _ := exit.Score(in, r)
	return score, true
}

// rotatePreClose identifies the weakest positions on market (by exit
// score, highest = weakest) and emits ROTATION_SELL for the bottom
// performers, per spec.md §4.2's rotation loop.
func (s *Service) rotatePreClose(ctx context.Context, info broker.AccountInfo, market string, r regime.Regime) {
	var candidates []weaknessEntry
	for symbol, pos := range info.OpenPositions {
		if marketOf(symbol) != market {
			continue
		}
		score, ok := s.weaknessScore(ctx, symbol, r)
		if !ok {
			continue
		}
		candidates = append(candidates, weaknessEntry{symbol: symbol, pos: pos, score: score})
	}
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	// Rotate out the weakest quartile, at least one.
	n := len(candidates) / 4
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(candidates); i++ {
		c := candidates[i]
		if c.score < 20 {
			continue // not actually weak, just the relative bottom
		}
		s.emitRotationSell(ctx, c.symbol, c.pos, "pre-close rotation: weakest position in market")
	}
}

// rotateForStuckBuys implements spec.md §4.2's capital-liberation check:
// a high-score unfilled BUY stuck in the delayed/failed queues can free
// capital by rotating out a sufficiently weaker held position.
func (s *Service) rotateForStuckBuys(ctx context.Context, info broker.AccountInfo, r regime.Regime) {
	const window = 5 * time.Minute
	const minBuyScore = 60
	const minGap = 10

	delayed, err := s.queue.GetDelayedSignals(ctx, minBuyScore, window)
	if err != nil {
		log.Printf("⚠️  sg: rotation delayed-signal scan failed: %v", err)
		delayed = nil
	}
	failed, err := s.queue.GetFailedSignals(ctx, minBuyScore, window)
	if err != nil {
		log.Printf("⚠️  sg: rotation failed-signal scan failed: %v", err)
		failed = nil
	}
	stuck := append(delayed, failed...)
	if len(stuck) == 0 {
		return
	}

	var candidates []weaknessEntry
	for symbol, pos := range info.OpenPositions {
		score, ok := s.weaknessScore(ctx, symbol, r)
		if !ok {
			continue
		}
		candidates = append(candidates, weaknessEntry{symbol: symbol, pos: pos, score: score})
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	weakest := candidates[0]

	for _, stuckSig := range stuck {
		if stuckSig.Priority-weakest.score < minGap {
			continue
		}
		s.emitRotationSell(ctx, weakest.symbol, weakest.pos, "rotation to free capital for stuck buy "+stuckSig.Symbol)
		recovered, err := s.queue.RecoverFailed(ctx, stuckSig)
		if err != nil {
			log.Printf("⚠️  sg: recover_failed for stuck buy %s failed: %v", stuckSig.Symbol, err)
		} else if !recovered {
			log.Printf("ℹ️  sg: stuck buy %s not in failed set (may be delayed, left as-is)", stuckSig.Symbol)
		}
		return
	}
}

func (s *Service) emitRotationSell(ctx context.Context, symbol string, pos broker.Position, reason string) {
	typ := signal.TypeRotationSell
	pending, err := s.queue.HasPending(ctx, symbol, &typ, true)
	if err != nil || pending {
		return
	}

	quote, err := s.broker.Quote(ctx, symbol)
	price := decimal.Zero
	if err == nil {
		price = quote.Price
	}

	sig := &signal.Signal{
		Symbol:    symbol,
		Type:      signal.TypeRotationSell,
		Side:      signal.SideSell,
		Priority:  70,
		Price:     price,
		Quantity:  pos.Quantity,
		Reasons:   []string{reason},
		Timestamp: time.Now(),
		QueuedAt:  time.Now(),
		Account:   s.cfg.Account,
	}
	if _, err := s.queue.Publish(ctx, sig); err != nil {
		log.Printf("⚠️  sg: rotation sell publish failed for %s: %v", symbol, err)
	}
}
