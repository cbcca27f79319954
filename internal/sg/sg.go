// Package sg implements the signal generator: a per-account process that
// scans a symbol watchlist on a fixed interval, watches held positions for
// exit conditions, rotates out weak positions near market close, and reacts
// to realtime quote pushes (spec.md §4.2). Grounded on app/app.go's
// App-owns-every-dependency, single Start()-loop-plus-background-goroutines
// shape, translated from that repo's single Stockbit feed to this spec's
// scan/rotation/realtime trio.
package sg

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/cohort"
	"hkus-trading-core/internal/exit"
	"hkus-trading-core/internal/indicator"
	"hkus-trading-core/internal/kline"
	"hkus-trading-core/internal/marketpanic"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
	"hkus-trading-core/internal/store/rediskv"
)

// Config tunes the service's loop intervals and decision thresholds,
// assembled by cmd/signal-generator from internal/config.Config.
type Config struct {
	Account       string
	Watchlist     []string
	VixyThreshold decimal.Decimal

	ScanInterval        time.Duration // default 60s
	RotationInterval    time.Duration // default 30s
	EntryCooldown       time.Duration // default 300s (§4.5.2 layer 5)
	SignalHistoryMaxAge time.Duration // default 1h, pruned every 10 scans
	NotificationCooldown time.Duration // default 3600s

	EnableWeakBuy    bool
	Budget           budget.Config
	Kline            kline.Config
	Regime           regime.Config
	GradualExit      exit.GradualExitConfig
	AddPosition      exit.AddPositionConfig
	PartialExitWindow time.Duration // observation window, default 5-10 min

	AddPositionCooldown time.Duration // default 60 min
	AddPositionMaxPerDay int          // default 2
}

func DefaultConfig(account string) Config {
	return Config{
		Account:               account,
		VixyThreshold:         decimal.NewFromFloat(30.0),
		ScanInterval:          60 * time.Second,
		RotationInterval:      30 * time.Second,
		EntryCooldown:         300 * time.Second,
		SignalHistoryMaxAge:   time.Hour,
		NotificationCooldown:  3600 * time.Second,
		EnableWeakBuy:         false,
		Budget:                budget.DefaultConfig(),
		Kline:                 kline.DefaultConfig(),
		Regime:                regime.DefaultConfig(),
		GradualExit:           exit.DefaultGradualExitConfig(),
		AddPosition:           exit.DefaultAddPositionConfig(),
		PartialExitWindow:     7 * time.Minute,
		AddPositionCooldown:   60 * time.Minute,
		AddPositionMaxPerDay:  2,
	}
}

// Service owns every dependency the scan/rotation/realtime loops share.
type Service struct {
	cfg     Config
	queue   *queue.Queue
	db      *pg.DB
	broker  broker.Client
	notifier *notify.Notifier

	regimeClassifier *regime.Classifier
	panicMonitor     *marketpanic.Monitor
	klineLoader      *kline.Loader
	cohort           *cohort.Tracker
	kv               *rediskv.Client

	mu         sync.Mutex
	iteration  int
	lastExitEval map[string]time.Time
	tradingDay string // Beijing-local YYYY-MM-DD, used to detect day rollover
}

func New(cfg Config, q *queue.Queue, db *pg.DB, client broker.Client, notifier *notify.Notifier,
	regimeClassifier *regime.Classifier, panicMonitor *marketpanic.Monitor, kv *rediskv.Client) *Service {
	return &Service{
		cfg:              cfg,
		queue:            q,
		db:               db,
		broker:           client,
		notifier:         notifier,
		regimeClassifier: regimeClassifier,
		panicMonitor:     panicMonitor,
		klineLoader:      kline.New(db, client, cfg.Kline),
		cohort:           cohort.New(),
		kv:               kv,
		lastExitEval:     make(map[string]time.Time),
	}
}

// subscribeSymbols returns the union of watchlist, the positions held when
// the subscription starts (best effort — skipped if the account snapshot
// fails), and VIXY.US, per spec.md §4.2 "realtime WebSocket subscription...
// for watchlist ∪ current positions ∪ VIXY". The set is rebuilt only when
// feedLoop subscribes again.
func (s *Service) subscribeSymbols(ctx context.Context) []string {
	out := append([]string{}, s.cfg.Watchlist...)
	seen := make(map[string]bool, len(out))
	for _, sym := range out {
		seen[sym] = true
	}
	if info, err := s.broker.Account(ctx); err == nil {
		for sym := range info.OpenPositions {
			if !seen[sym] {
				out = append(out, sym)
			}
		}
	}
	out = append(out, "VIXY.US")
	return out
}

// Run starts the scan ticker plus the rotation and realtime background
// loops, blocking until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	quoteCh := make(chan broker.Quote, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.feedLoop(ctx, quoteCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.realtimeConsumer(ctx, quoteCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.rotationLoop(ctx)
	}()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// feedLoop keeps the broker's push subscription alive, reconnecting on
// error with a short backoff; wsfeed.Client.Run already handles its own
// reconnect, this is the outer guard for Subscribe itself returning.
func (s *Service) feedLoop(ctx context.Context, quoteCh chan<- broker.Quote) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.broker.Subscribe(ctx, s.subscribeSymbols(ctx), func(q broker.Quote) {
			select {
			case quoteCh <- q:
			default:
				log.Printf("⚠️  sg: quote channel full, dropping tick for %s", q.Symbol)
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("⚠️  sg: quote feed subscription ended: %v, retrying in 5s", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// realtimeConsumer drains quoteCh in a single goroutine, so every push
// tick is handled here, never directly in the feed's own goroutine.
// handleTick starts entry and held-position evaluations in goroutines of
// their own, and those update the dedup cohort under its own lock.
func (s *Service) realtimeConsumer(ctx context.Context, quoteCh <-chan broker.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-quoteCh:
			s.handleTick(ctx, q)
		}
	}
}

func (s *Service) handleTick(ctx context.Context, q broker.Quote) {
	if q.Symbol == "VIXY.US" {
		s.panicMonitor.OnTick(ctx, q.Price)
		return
	}

	if s.cohort.IsCurrentPosition(q.Symbol) {
		s.mu.Lock()
		last, seen := s.lastExitEval[q.Symbol]
		stale := !seen || time.Since(last) > 30*time.Second
		if stale {
			s.lastExitEval[q.Symbol] = time.Now()
		}
		s.mu.Unlock()
		if stale {
			go s.evaluateHeldPositionBySymbol(ctx, q.Symbol)
		}
		return
	}

	if !s.cohort.WithinCooldown(q.Symbol, time.Now(), s.cfg.EntryCooldown) {
		go s.evaluateEntry(ctx, q.Symbol)
	}
}

func marketOf(symbol string) string {
	if len(symbol) >= 2 && symbol[len(symbol)-2:] == "HK" {
		return "HK"
	}
	return "US"
}

func seriesFromCandles(candles []broker.Candle) (highs, lows, closes, volumes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	volumes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
		volumes[i] = float64(c.Volume)
	}
	return
}

// scanOnce runs spec.md §4.2's fixed-interval scan loop: cohort refresh,
// regime/panic classification, per-watchlist-symbol entry scoring, exit
// checks over held positions, and periodic signal_history pruning.
func (s *Service) scanOnce(ctx context.Context) {
	s.rolloverCohortIfNewDay()

	today := time.Now().UTC()
	if orders, err := s.db.OrdersToday(s.cfg.Account, today); err != nil {
		log.Printf("⚠️  sg: orders_today lookup failed: %v", err)
	} else {
		bought := make([]string, 0, len(orders))
		for _, o := range orders {
			if o.Side == string(signal.SideBuy) {
				bought = append(bought, o.Symbol)
			}
		}
		s.cohort.MergeTradedToday(bought)
	}

	info, err := s.broker.Account(ctx)
	if err != nil {
		log.Printf("⚠️  sg: account snapshot failed, skipping scan iteration: %v", err)
		return
	}
	heldSymbols := make([]string, 0, len(info.OpenPositions))
	for sym := range info.OpenPositions {
		heldSymbols = append(heldSymbols, sym)
	}
	s.cohort.ReplaceCurrentPositions(heldSymbols)

	r := s.regimeClassifier.Classify(ctx)

	for _, symbol := range s.cfg.Watchlist {
		s.evaluateEntry(ctx, symbol)
	}

	for symbol, pos := range info.OpenPositions {
		s.evaluateHeldPosition(ctx, symbol, pos, r)
	}

	s.mu.Lock()
	s.iteration++
	prune := s.iteration%10 == 0
	s.mu.Unlock()
	if prune {
		s.cohort.PruneSignalHistory(s.cfg.SignalHistoryMaxAge, time.Now())
	}
}

// rolloverCohortIfNewDay clears traded_today and the ADD_POSITION counters
// at the first scan of a new Beijing trading day, so spec.md §4.5.2's
// per-symbol daily buy cap (and §4.5.4's 2-adds/day/symbol ceiling) actually
// resets daily instead of accumulating for the lifetime of the process.
func (s *Service) rolloverCohortIfNewDay() {
	day := beijingNow().Format("2006-01-02")

	s.mu.Lock()
	first := s.tradingDay == ""
	changed := !first && s.tradingDay != day
	s.tradingDay = day
	s.mu.Unlock()

	if changed {
		log.Printf("ℹ️  sg: new trading day %s, resetting daily dedup cohort", day)
		s.cohort.ResetDaily()
	}
}

// evaluateHeldPositionBySymbol re-fetches the account snapshot for a
// single symbol's position, used by the realtime handler which only has
// a quote tick, not the full account snapshot, to work with.
func (s *Service) evaluateHeldPositionBySymbol(ctx context.Context, symbol string) {
	info, err := s.broker.Account(ctx)
	if err != nil {
		return
	}
	pos, ok := info.OpenPositions[symbol]
	if !ok {
		return
	}
	r := s.regimeClassifier.Classify(ctx)
	s.evaluateHeldPosition(ctx, symbol, pos, r)
}

// prevMACD returns the MACD line/signal computed one bar earlier, used by
// both the entry and exit scorers to detect fresh crosses.
func prevMACD(closes []float64) (macd, sig float64) {
	if len(closes) < 2 {
		return 0, 0
	}
	return indicator.MACD(closes[:len(closes)-1])
}
