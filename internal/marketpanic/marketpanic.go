// Package marketpanic implements the VIXY circuit breaker (spec.md
// §4.7): every VIXY.US tick is checked against a threshold, and a
// crossing flips an in-memory flag plus a KV snapshot other components
// can read without subscribing themselves. Grounded on spec.md §4.7 and
// cache/redis.go's Set-with-TTL shape for the snapshot write.
package marketpanic

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/store/rediskv"
)

type snapshot struct {
	Panic        bool    `json:"panic"`
	CurrentPrice float64 `json:"current_price"`
	MA200        float64 `json:"ma200"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Monitor tracks VIXY.US against a threshold and exposes the resulting
// panic flag to the entry scorer's BUY gate.
type Monitor struct {
	threshold decimal.Decimal
	kv        *rediskv.Client
	notifier  *notify.Notifier

	mu      sync.Mutex
	panic   bool
	ma200   decimal.Decimal
	lastMA  time.Time
}

func New(threshold decimal.Decimal, kv *rediskv.Client, notifier *notify.Notifier) *Monitor {
	return &Monitor{threshold: threshold, kv: kv, notifier: notifier}
}

// SetMA200 refreshes the cached MA200 used only for the KV snapshot's
// diagnostic value; the panic decision itself depends only on price vs
// threshold.
func (m *Monitor) SetMA200(ma200 decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ma200 = ma200
	m.lastMA = time.Now()
}

// OnTick evaluates a VIXY.US price tick, flipping the panic flag on
// threshold crossings and persisting a KV snapshot + notification.
func (m *Monitor) OnTick(ctx context.Context, price decimal.Decimal) {
	m.mu.Lock()
	wasPanic := m.panic
	nowPanic := price.GreaterThan(m.threshold)
	m.panic = nowPanic
	ma200 := m.ma200
	m.mu.Unlock()

	if nowPanic == wasPanic {
		return
	}

	if nowPanic {
		log.Printf("🚨 VIXY panic engaged: price=%s threshold=%s", price, m.threshold)
		if m.notifier != nil {
			m.notifier.SendWithCooldown("vixy_panic", "VIXY.US",
				"VIXY panic circuit breaker engaged: price "+price.String()+" above threshold "+m.threshold.String(),
				notify.SeverityCritical, 5*time.Minute)
		}
	} else {
		log.Printf("✅ VIXY panic cleared: price=%s threshold=%s", price, m.threshold)
	}

	if m.kv != nil {
		f, _ := price.Float64()
		ma, _ := ma200.Float64()
		_ = m.kv.Set(ctx, rediskv.VixySnapshotKey(), snapshot{
			Panic:        nowPanic,
			CurrentPrice: f,
			MA200:        ma,
			UpdatedAt:    time.Now().Unix(),
		}, 10*time.Minute)
	}
}

// InPanic reports the current panic state for the entry scorer's BUY
// gate (spec.md §4.7: "Exit signals are unaffected").
func (m *Monitor) InPanic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panic
}
