// Package broker defines the boundary between the trading core and the
// external HK/US equities broker (spec.md §1's "out of scope" broker API,
// §5's quote/order surface). No concrete broker is implemented here —
// only the interface SG and OE code against, plus the generic quote-tick
// type the realtime feed adapter produces.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar, used both for intraday quotes and daily
// history.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Quote is a point-in-time price snapshot for a symbol.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

// CurrencyBalance is one currency leg of the account (spec.md §6's
// get_account shape: "per-currency {cash, buy_power, remaining_finance,
// net_assets}").
type CurrencyBalance struct {
	Cash             decimal.Decimal
	BuyingPower      decimal.Decimal
	RemainingFinance decimal.Decimal
	NetAssets        decimal.Decimal
}

// AccountInfo is the account snapshot SG/OE read every cycle, keyed by
// currency so a single account can hold both HKD and USD legs.
type AccountInfo struct {
	Balances      map[string]CurrencyBalance
	OpenPositions map[string]Position
}

// Balance returns the balance for currency, or a zero CurrencyBalance if
// the account holds nothing in it.
func (a AccountInfo) Balance(currency string) CurrencyBalance {
	return a.Balances[currency]
}

type Position struct {
	Symbol       string
	Quantity     int64
	AveragePrice decimal.Decimal
}

// MaxPurchaseQuantity is the broker's own margin- and cash-backed
// purchase estimate, which may differ once settlement/margin rules are
// applied (spec.md §6's estimate_max_purchase_quantity shape).
type MaxPurchaseQuantity struct {
	MarginMaxQty int64
	CashMaxQty   int64
}

// Max returns the larger of the two estimates, per spec.md §4.3 step 4:
// "take max of margin_max_qty and cash_max_qty".
func (m MaxPurchaseQuantity) Max() int64 {
	if m.MarginMaxQty > m.CashMaxQty {
		return m.MarginMaxQty
	}
	return m.CashMaxQty
}

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity int64
	// ClientRef correlates the request with SG's originating signal; the
	// broker is not expected to echo it back.
	ClientRef string
}

type OrderResult struct {
	OrderID    string
	Status     string // ACCEPTED, REJECTED, FILLED, PARTIAL
	RejectCode string
	FilledQty  int64
}

// QuoteHandler receives pushed quote ticks from Subscribe.
type QuoteHandler func(Quote)

// Client is the broker surface the core depends on. A concrete
// implementation owns authentication, transport, and rate-limit
// compliance; the core only ever sees this interface.
type Client interface {
	// Quote returns the latest price for symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)

	// History returns daily candles for symbol between from and to,
	// inclusive, used by internal/kline to backfill gaps.
	History(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)

	// Account returns the current account snapshot.
	Account(ctx context.Context) (AccountInfo, error)

	// EstimateMaxPurchaseQuantity asks the broker's own buying-power
	// calculation, which may differ from a naive cash/price computation
	// once margin and settlement rules are applied.
	EstimateMaxPurchaseQuantity(ctx context.Context, symbol string, side OrderSide, price decimal.Decimal, currency string) (MaxPurchaseQuantity, error)

	// LotSize returns the minimum tradable increment for symbol (HK
	// board lots vary by symbol; US defaults to 1).
	LotSize(ctx context.Context, symbol string) (int64, error)

	// SubmitOrder places an order and returns the broker's immediate
	// acknowledgement; fills may arrive later via Subscribe or a
	// follow-up OrdersToday poll.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	CancelOrder(ctx context.Context, orderID string) error

	// OrdersToday lists today's orders for reconciliation after a
	// restart or a missed push.
	OrdersToday(ctx context.Context) ([]OrderResult, error)

	// Subscribe starts a realtime quote feed for symbols, invoking
	// handler for every tick until ctx is cancelled.
	Subscribe(ctx context.Context, symbols []string, handler QuoteHandler) error
}
