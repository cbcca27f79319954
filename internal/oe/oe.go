// Package oe implements the order executor: a per-account worker pool
// that consumes the signal queue and turns each signal into a broker
// order, applying the pre-checks, budget/quantity math, and error-class
// retry policy spec.md §4.3 describes. Grounded on app/app.go's
// App-owns-every-dependency shape, with the consume loop itself modeled
// on that repo's readAndProcessMessages reconnect-and-dispatch pattern,
// translated from a single websocket read loop to a blocking queue
// consume loop.
package oe

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/accountstate"
	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/errs"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/signal"
	"hkus-trading-core/internal/store/pg"
)

// Config tunes the worker's thresholds, assembled by cmd/order-executor
// from internal/config.Config.
type Config struct {
	Account string

	WeakBuyMinScore  int           // hard filter, default 35
	SignalTimeout    time.Duration // default 60s wall clock
	FundsRetryMax    int           // default 5
	FundsRetryDelay  time.Duration // default 1 min
	CashFallbackPct  decimal.Decimal // default 0.5
	CashFallbackMinLots decimal.Decimal // default 1.5
	SlippagePct      decimal.Decimal // default 0.001 (0.1%)
	RotationGap      int           // default 10, §4.3.1

	Budget      budget.Config
	GradualExit struct {
		PartialExitPct float64
		GradualExitPct float64
	}
}

func DefaultConfig(account string) Config {
	cfg := Config{
		Account:             account,
		WeakBuyMinScore:      35,
		SignalTimeout:        60 * time.Second,
		FundsRetryMax:        5,
		FundsRetryDelay:      time.Minute,
		CashFallbackPct:      decimal.NewFromFloat(0.5),
		CashFallbackMinLots:  decimal.NewFromFloat(1.5),
		SlippagePct:          decimal.NewFromFloat(0.001),
		RotationGap:          10,
		Budget:               budget.DefaultConfig(),
	}
	cfg.GradualExit.PartialExitPct = 0.5
	cfg.GradualExit.GradualExitPct = 0.25
	return cfg
}

// Worker consumes signal.Signal values off one account's queue and
// submits orders against broker.Client. Multiple Workers (1-3 per spec)
// may share the same Queue/DB/broker/notifier safely.
type Worker struct {
	cfg      Config
	queue    *queue.Queue
	db       *pg.DB
	broker   broker.Client
	notifier *notify.Notifier
	accounts *accountstate.Cache
	regime   *regime.Classifier
}

func New(cfg Config, q *queue.Queue, db *pg.DB, client broker.Client, notifier *notify.Notifier,
	accounts *accountstate.Cache, regimeClassifier *regime.Classifier) *Worker {
	return &Worker{
		cfg:      cfg,
		queue:    q,
		db:       db,
		broker:   client,
		notifier: notifier,
		accounts: accounts,
		regime:   regimeClassifier,
	}
}

// Run drains any zombies left by a previous run, then blocks consuming
// signals until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.RecoverZombies(ctx, 0); err != nil {
		log.Printf("⚠️  oe[%s]: startup zombie recovery failed: %v", w.cfg.Account, err)
	} else if n > 0 {
		log.Printf("🔄 oe[%s]: recovered %d zombie signal(s) on startup", w.cfg.Account, n)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sig, err := w.queue.Consume(ctx)
		if errors.Is(err, queue.ErrNoSignal) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if err != nil {
			log.Printf("⚠️  oe[%s]: consume failed: %v", w.cfg.Account, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}

		w.handleWithDeadline(ctx, sig)
	}
}

// handleWithDeadline dispatches sig within a 60s wall-clock timeout per
// spec.md §4.3 point 3; a timed-out signal goes back through
// mark_failed(retry=true) on the normal retry ladder, so repeated
// timeouts are retried until retry_count reaches MaxRetries. Timeouts
// have no counter of their own.
func (w *Worker) handleWithDeadline(ctx context.Context, sig *signal.Signal) {
	dctx, cancel := context.WithTimeout(ctx, w.cfg.SignalTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.handle(dctx, sig)
	}()

	select {
	case <-done:
	case <-dctx.Done():
		if dctx.Err() == context.DeadlineExceeded {
			log.Printf("⏱️  oe[%s]: signal %s %s timed out after %s", w.cfg.Account, sig.Symbol, sig.Type, w.cfg.SignalTimeout)
			if err := w.queue.MarkFailed(ctx, sig, queue.ClassTransient, true); err != nil {
				log.Printf("⚠️  oe[%s]: mark_failed after timeout failed for %s: %v", w.cfg.Account, sig.Symbol, err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, sig *signal.Signal) {
	info, err := w.accounts.Get(ctx, w.cfg.Account)
	if err != nil {
		log.Printf("⚠️  oe[%s]: account pre-check failed for %s: %v", w.cfg.Account, sig.Symbol, err)
		w.fail(ctx, sig, queue.ClassTransient, true)
		return
	}
	w.diagnoseCrossCurrency(sig.Symbol, info)

	if sig.Type.IsBuyFamily() {
		w.handleBuy(ctx, sig, info)
		return
	}
	w.handleSell(ctx, sig, info)
}

// diagnoseCrossCurrency logs (never blocks on) the case spec.md §4.3
// calls out: target-currency cash positive but buy_power negative,
// implying cross-currency margin debt the broker isn't surfacing
// directly.
func (w *Worker) diagnoseCrossCurrency(symbol string, info broker.AccountInfo) {
	currency := budget.Currency(symbol)
	bal := info.Balance(currency)
	if bal.Cash.IsPositive() && bal.BuyingPower.IsNegative() {
		log.Printf("⚠️  oe: %s cash is positive (%s) but buy_power is negative (%s) — likely cross-currency margin debt",
			currency, bal.Cash.String(), bal.BuyingPower.String())
	}
}

// complete marks sig completed, wakes delayed signals, and force-
// refreshes the account cache — the common post-fill bookkeeping both
// BUY and SELL paths share.
func (w *Worker) complete(ctx context.Context, sig *signal.Signal) {
	if err := w.queue.MarkCompleted(ctx, sig); err != nil {
		log.Printf("⚠️  oe[%s]: mark_completed failed for %s: %v", w.cfg.Account, sig.Symbol, err)
	}
	w.accounts.ForceRefresh()
	if _, err := w.queue.WakeUpDelayed(ctx); err != nil {
		log.Printf("⚠️  oe[%s]: wake_up_delayed failed: %v", w.cfg.Account, err)
	}
}

// fail classifies and dispatches a failure to mark_failed, with the
// insufficient-funds path going through RequeueWithDelay instead while
// retry_count is below FundsRetryMax (spec.md §4.3 error classes). Both
// paths share the one retry_count field, so funds retries also count
// against MaxRetries.
func (w *Worker) fail(ctx context.Context, sig *signal.Signal, class queue.ErrorClass, retry bool) {
	if class == queue.ClassInsufficientFunds {
		if sig.RetryCount < w.cfg.FundsRetryMax {
			if err := w.queue.RequeueWithDelay(ctx, sig, int(w.cfg.FundsRetryDelay.Minutes())); err != nil {
				log.Printf("⚠️  oe[%s]: requeue_with_delay failed for %s: %v", w.cfg.Account, sig.Symbol, err)
			}
			return
		}
		class = queue.ClassInsufficientFundsFinal
		w.notifier.Send("insufficient_funds_final", sig.Symbol,
			"giving up on "+string(sig.Type)+" for "+sig.Symbol+" after exhausting funds retries", notify.SeverityCritical)
	}
	if err := w.queue.MarkFailed(ctx, sig, class, retry); err != nil {
		log.Printf("⚠️  oe[%s]: mark_failed failed for %s: %v", w.cfg.Account, sig.Symbol, err)
	}
}

// inflateOnRateLimit widens the account cache's TTL for 5 minutes if err
// is a rate-limit error, per spec.md §4.3's "independently, inflate
// account-cache TTL temporarily".
func (w *Worker) inflateOnRateLimit(err error) {
	var rateLimited *errs.RateLimitError
	if errors.As(err, &rateLimited) {
		w.accounts.InflateTTLFor(2*time.Minute, 5*time.Minute)
	}
}

// failBrokerError classifies err and routes it to mark_failed, except for
// InvalidSymbolError (not entitled / delisted), which spec.md §7 keeps out
// of the failed set entirely by marking the signal complete instead, so it
// doesn't linger as a permanent dead entry.
func (w *Worker) failBrokerError(ctx context.Context, sig *signal.Signal, err error) {
	var invalidSymbol *errs.InvalidSymbolError
	if errors.As(err, &invalidSymbol) {
		w.complete(ctx, sig)
		return
	}
	class, retry := classifyBrokerError(err)
	w.fail(ctx, sig, class, retry)
}

// classifyBrokerError maps a broker.Client error into a queue.ErrorClass
// and a retry decision, per spec.md §4.3's error-class table.
func classifyBrokerError(err error) (queue.ErrorClass, bool) {
	var rateLimited *errs.RateLimitError
	if errors.As(err, &rateLimited) {
		return queue.ClassTransient, true
	}
	var transient *errs.TransientBrokerError
	if errors.As(err, &transient) {
		return queue.ClassTransient, true
	}
	var insufficientFunds *errs.InsufficientFundsError
	if errors.As(err, &insufficientFunds) {
		return queue.ClassInsufficientFunds, true
	}
	var invalidSymbol *errs.InvalidSymbolError
	if errors.As(err, &invalidSymbol) {
		return queue.ClassRejected, false
	}
	return queue.ClassRejected, false
}
