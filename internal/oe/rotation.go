package oe

import (
	"context"
	"log"
	"sort"
	"time"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/exit"
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/signal"
)

// attemptSmartRotation implements spec.md §4.3.1: when a BUY's budget
// yields <1 lot, rank current positions by the same exit-score weakness
// metric §4.5.3 uses (without issuing a signal from it), and free up
// capital by rotating out the weakest one whose score gap against the
// stuck buy clears the configured threshold. Attempts per signal are not
// limited: a BUY requeued after a rotation comes back through handleBuy
// and can trigger another rotation.
func (w *Worker) attemptSmartRotation(ctx context.Context, sig *signal.Signal, r regime.Regime) bool {
	if sig.Score < 55 {
		return false // below even the tightened-gap band
	}

	info, err := w.broker.Account(ctx)
	if err != nil {
		log.Printf("⚠️  oe[%s]: smart-rotation account snapshot failed: %v", w.cfg.Account, err)
		return false
	}

	type candidate struct {
		symbol string
		pos    broker.Position
		score  int
	}
	var candidates []candidate
	for symbol, pos := range info.OpenPositions {
		if symbol == sig.Symbol {
			continue
		}
		score, ok := w.weaknessScore(ctx, symbol, r)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{symbol: symbol, pos: pos, score: score})
	}
	if len(candidates) == 0 {
		return false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	weakest := candidates[0]

	gap := sig.Score - weakest.score
	if sig.Score >= 70 {
		// No band-specific tightening; the base RotationGap check below applies.
	} else if sig.Score >= 55 {
		if gap < w.cfg.RotationGap*2 {
			return false // tighter gap required in the 55-69 band
		}
	} else {
		return false
	}
	if gap < w.cfg.RotationGap {
		return false
	}

	rotSig := &signal.Signal{
		Symbol:    weakest.symbol,
		Type:      signal.TypeRotationSell,
		Side:      signal.SideSell,
		Priority:  70,
		Price:     sig.Price,
		Quantity:  weakest.pos.Quantity,
		Reasons:   []string{"smart rotation to free capital for " + sig.Symbol},
		Account:   w.cfg.Account,
	}
	published, err := w.queue.Publish(ctx, rotSig)
	if err != nil || !published {
		log.Printf("⚠️  oe[%s]: smart-rotation publish failed for %s: %v", w.cfg.Account, weakest.symbol, err)
		return false
	}
	log.Printf("🔄 oe[%s]: smart rotation selling %s to free capital for %s", w.cfg.Account, weakest.symbol, sig.Symbol)
	return true
}

// weaknessScore mirrors internal/sg's ranking helper: the same §4.5.3
// exit scorer, used here purely to compare positions, never to emit.
func (w *Worker) weaknessScore(ctx context.Context, symbol string, r regime.Regime) (int, bool) {
	to := time.Now()
	from := to.AddDate(0, 0, -100)
	candles, err := w.broker.History(ctx, symbol, from, to)
	if err != nil || len(candles) < 30 {
		return 0, false
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
		volumes[i] = float64(c.Volume)
	}
	if len(closes) < 2 {
		return 0, false
	}

	snap := indicator.Compute(highs, lows, closes, volumes)
	prevSnap := indicator.Compute(highs[:len(highs)-1], lows[:len(lows)-1], closes[:len(closes)-1], volumes[:len(volumes)-1])
	pMACD, pSig := indicator.MACD(closes[:len(closes)-1])

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
