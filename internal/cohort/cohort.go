// Package cohort implements SG's in-memory DeduplicationCohort (spec.md
// §3, §9 Design Note): traded_today, current_positions, and a
// signal_history emit-timestamp map, rebuilt by merge (never overwrite)
// every scan so in-memory additions survive DB lag. Grounded on spec.md
// §9's CohortTracker design note and the teacher's own
// lastMessageTime/lastMessageMu in-memory-map-with-mutex style from
// app/app.go.
package cohort

import (
	"sync"
	"time"
)

// Tracker owns SG's per-scan dedup state. Both the main scan loop and
// the evaluations the realtime handler starts in their own goroutines
// mutate it; every method takes mu.
type Tracker struct {
	mu sync.Mutex

	tradedToday      map[string]struct{}
	currentPositions map[string]struct{}
	signalHistory    map[string]time.Time // symbol -> last emit time
	addPositionAt    map[string]time.Time // symbol -> last ADD_POSITION time
	addPositionCount map[string]int       // symbol -> adds today
}

func New() *Tracker {
	return &Tracker{
		tradedToday:      make(map[string]struct{}),
		currentPositions: make(map[string]struct{}),
		signalHistory:    make(map[string]time.Time),
		addPositionAt:    make(map[string]time.Time),
		addPositionCount: make(map[string]int),
	}
}

// MergeTradedToday unions symbols into traded_today without clearing
// existing entries, so a signal published since the last DB read is not
// forgotten.
func (t *Tracker) MergeTradedToday(symbols []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range symbols {
		t.tradedToday[s] = struct{}{}
	}
}

// ReplaceCurrentPositions overwrites current_positions: unlike
// traded_today, a position snapshot from the account API is always
// authoritative for "currently held", so no merge is needed here.
func (t *Tracker) ReplaceCurrentPositions(symbols []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentPositions = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		t.currentPositions[s] = struct{}{}
	}
}

// MarkTradedToday records a just-published BUY-family signal locally,
// ahead of the DB reflecting it, so the next scan's dedup check still
// blocks a duplicate.
func (t *Tracker) MarkTradedToday(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tradedToday[symbol] = struct{}{}
}

func (t *Tracker) IsTradedToday(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tradedToday[symbol]
	return ok
}

func (t *Tracker) IsCurrentPosition(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.currentPositions[symbol]
	return ok
}

// RecordEmit stamps symbol's last-emit time, used by the 300-second
// cooldown dedup layer (spec.md §4.5.2 layer 5).
func (t *Tracker) RecordEmit(symbol string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signalHistory[symbol] = at
}

// WithinCooldown reports whether symbol was emitted within window of at.
func (t *Tracker) WithinCooldown(symbol string, at time.Time, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.signalHistory[symbol]
	if !ok {
		return false
	}
	return at.Sub(last) < window
}

// PruneSignalHistory drops entries older than maxAge, called every 10th
// scan iteration per spec.md §4.2 step 5.
func (t *Tracker) PruneSignalHistory(maxAge time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, at := range t.signalHistory {
		if now.Sub(at) > maxAge {
			delete(t.signalHistory, symbol)
		}
	}
}

// CanAddPosition enforces ADD_POSITION's own cooldown and daily cap
// (spec.md §4.5.4, resolved in DESIGN.md as "bypass daily buy cap, but
// own 60-min cooldown + 2/day/symbol ceiling").
func (t *Tracker) CanAddPosition(symbol string, now time.Time, cooldown time.Duration, maxPerDay int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addPositionCount[symbol] >= maxPerDay {
		return false
	}
	last, ok := t.addPositionAt[symbol]
	if ok && now.Sub(last) < cooldown {
		return false
	}
	return true
}

func (t *Tracker) RecordAddPosition(symbol string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addPositionAt[symbol] = now
	t.addPositionCount[symbol]++
}

// ResetDaily clears traded_today and ADD_POSITION counters; the signal
// generator calls it at the first scan after the Beijing date changes.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tradedToday = make(map[string]struct{})
	t.addPositionCount = make(map[string]int)
}
