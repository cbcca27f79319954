// Package regime classifies the market as BULL/RANGE/BEAR from index
// price vs. MA200 (spec.md §4.6), cached in-process for 10 minutes.
// Grounded on cache/llm_cache.go's cache-with-TTL shape, applied here to
// a single mutex-guarded value rather than Redis since the classifier
// output is tiny and process-local.
package regime

import (
	"context"
	"sync"
	"time"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/indicator"
)

type Regime string

const (
	Bull  Regime = "BULL"
	Range Regime = "RANGE"
	Bear  Regime = "BEAR"
)

// Config lists the index symbols voted on, split by trading session per
// spec.md §4.6, plus any symbols whose vote polarity is inverted (future
// VIX-family use).
type Config struct {
	HKActiveSymbols []string // default: HSI.HK
	USActiveSymbols []string // default: QQQ.US, SPY.US
	InverseSymbols  map[string]bool
	CacheTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HKActiveSymbols: []string{"HSI.HK"},
		USActiveSymbols: []string{"QQQ.US", "SPY.US"},
		InverseSymbols:  map[string]bool{},
		CacheTTL:        10 * time.Minute,
	}
}

type Classifier struct {
	client broker.Client
	cfg    Config

	mu        sync.Mutex
	cached    Regime
	cachedAt  time.Time
}

func New(client broker.Client, cfg Config) *Classifier {
	return &Classifier{client: client, cfg: cfg}
}

// symbolsFor returns the index universe for the current session: HK
// symbols during HK trading hours, US symbols during US trading hours,
// the union otherwise.
func (c *Classifier) symbolsFor(now time.Time) []string {
	beijing := now.In(beijingLocation())
	hkOpen := isHKSession(beijing)
	usOpen := isUSSession(beijing)

	switch {
	case hkOpen && !usOpen:
		return c.cfg.HKActiveSymbols
	case usOpen && !hkOpen:
		return c.cfg.USActiveSymbols
	default:
		out := append([]string{}, c.cfg.HKActiveSymbols...)
		return append(out, c.cfg.USActiveSymbols...)
	}
}

func beijingLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

func isHKSession(t time.Time) bool {
	h, m := t.Hour(), t.Minute()
	mins := h*60 + m
	return (mins >= 9*60+30 && mins < 12*60) || (mins >= 13*60 && mins < 15*60)
}

func isUSSession(t time.Time) bool {
	h, m := t.Hour(), t.Minute()
	mins := h*60 + m
	return mins >= 21*60+30 || mins < 4*60
}

// Classify returns the cached regime if fresh, otherwise recomputes by
// voting MA200 crosses across the active index symbols.
func (c *Classifier) Classify(ctx context.Context) Regime {
	c.mu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.cfg.CacheTTL {
		r := c.cached
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	now := time.Now()
	symbols := c.symbolsFor(now)
	r := c.classify(ctx, symbols)

	c.mu.Lock()
	c.cached = r
	c.cachedAt = now
	c.mu.Unlock()
	return r
}

func (c *Classifier) classify(ctx context.Context, symbols []string) Regime {
	if len(symbols) == 0 {
		return Range
	}

	positive, total := 0, 0
	for _, sym := range symbols {
		to := time.Now()
		from := to.AddDate(0, 0, -250)
		candles, err := c.client.History(ctx, sym, from, to)
		if err != nil || len(candles) < 200 {
			continue
		}

		closes := make([]float64, len(candles))
		for i, cd := range candles {
			f, _ := cd.Close.Float64()
			closes[i] = f
		}
		ma200 := indicator.SMA(closes, 200)
		if ma200 == 0 {
			continue
		}

		lastClose := closes[len(closes)-1]
		vote := lastClose >= ma200
		if c.cfg.InverseSymbols[sym] {
			vote = lastClose < ma200
		}

		total++
		if vote {
			positive++
		}
	}

	if total == 0 {
		return Range
	}

	ratio := float64(positive) / float64(total)
	switch {
	case ratio >= 0.60:
		return Bull
	case ratio <= 0.40:
		return Bear
	default:
		return Range
	}
}

// Scale returns the budget regime multiplier spec.md §4.4 defines.
func (r Regime) Scale() float64 {
	switch r {
	case Bull:
		return 1.0
	case Range:
		return 0.7
	case Bear:
		return 0.4
	default:
		return 0.7
	}
}

// ExitOverlay returns the additive exit-score adjustment spec.md §4.5.3
// applies per regime.
func (r Regime) ExitOverlay() int {
	switch r {
	case Bear:
		return 15
	case Bull:
		return -10
	default:
		return 0
	}
}
