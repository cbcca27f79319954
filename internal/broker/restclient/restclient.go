// Package restclient is the thin HTTP adapter over the broker OpenAPI
// spec.md §1 treats as an out-of-scope external collaborator ("Broker
// client... treated as an interface") — this package only translates
// broker.Client calls into REST requests against the documented
// operations (spec.md §6 "Broker (consumed)"), it does not implement any
// broker-specific authentication or order-matching logic. Grounded on
// auth/auth.go's httpClient-with-Bearer-token style; realtime pushes are
// handled separately by internal/broker/wsfeed.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/errs"
)

// Client is a broker.Client backed by REST calls to baseURL, with
// Subscribe delegated to a caller-supplied push feed since quote pushes
// arrive over a separate WebSocket connection (internal/broker/wsfeed).
//
// One rate.Limiter per broker-call class (quotes/orders/account) caps
// this account's request rate against each independently, so a quote-
// polling burst from the signal generator can't starve the order
// executor's submit_order/account calls against the same broker quota.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
	subscriber  func(ctx context.Context, symbols []string, handler broker.QuoteHandler) error

	quoteLimiter   *rate.Limiter
	orderLimiter   *rate.Limiter
	accountLimiter *rate.Limiter
}

// New builds a Client. subscribe is typically (*wsfeed.Client).Run bound
// to a quote-stream URL; passing nil makes Subscribe return an error,
// useful for OE processes that never subscribe.
func New(baseURL, accessToken string, subscribe func(ctx context.Context, symbols []string, handler broker.QuoteHandler) error) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 10 * time.Second},
		subscriber:  subscribe,

		quoteLimiter:   rate.NewLimiter(rate.Limit(10), 10),
		orderLimiter:   rate.NewLimiter(rate.Limit(5), 5),
		accountLimiter: rate.NewLimiter(rate.Limit(2), 2),
	}
}

// wait blocks until limiter admits a request, translating context
// cancellation into the same transient-error shape do() already returns
// for network failures.
func (c *Client) wait(ctx context.Context, limiter *rate.Limiter, op string) error {
	if err := limiter.Wait(ctx); err != nil {
		return &errs.TransientBrokerError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.TransientBrokerError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &errs.RateLimitError{Op: path}
	}
	if resp.StatusCode >= 500 {
		return &errs.TransientBrokerError{Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("restclient: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	var q broker.Quote
	if err := c.wait(ctx, c.quoteLimiter, "quote"); err != nil {
		return q, err
	}
	err := c.do(ctx, http.MethodGet, "/quote?symbol="+symbol, nil, &q, 10*time.Second)
	return q, err
}

func (c *Client) History(ctx context.Context, symbol string, from, to time.Time) ([]broker.Candle, error) {
	var rows []broker.Candle
	if err := c.wait(ctx, c.quoteLimiter, "history"); err != nil {
		return rows, err
	}
	path := fmt.Sprintf("/history?symbol=%s&from=%s&to=%s", symbol, from.Format("2006-01-02"), to.Format("2006-01-02"))
	err := c.do(ctx, http.MethodGet, path, nil, &rows, 10*time.Second)
	return rows, err
}

func (c *Client) Account(ctx context.Context) (broker.AccountInfo, error) {
	var info broker.AccountInfo
	if err := c.wait(ctx, c.accountLimiter, "account"); err != nil {
		return info, err
	}
	err := c.do(ctx, http.MethodGet, "/account", nil, &info, 8*time.Second)
	return info, err
}

func (c *Client) EstimateMaxPurchaseQuantity(ctx context.Context, symbol string, side broker.OrderSide, price decimal.Decimal, currency string) (broker.MaxPurchaseQuantity, error) {
	var out broker.MaxPurchaseQuantity
	if err := c.wait(ctx, c.accountLimiter, "estimate_max_purchase_quantity"); err != nil {
		return out, err
	}
	req := map[string]interface{}{
		"symbol": symbol, "side": side, "price": price.String(), "currency": currency, "order_type": "Limit",
	}
	err := c.do(ctx, http.MethodPost, "/estimate_max_purchase_quantity", req, &out, 10*time.Second)
	return out, err
}

func (c *Client) LotSize(ctx context.Context, symbol string) (int64, error) {
	var out struct {
		LotSize int64 `json:"lot_size"`
	}
	if err := c.wait(ctx, c.quoteLimiter, "lot_size"); err != nil {
		return 0, err
	}
	if err := c.do(ctx, http.MethodGet, "/lot_size?symbol="+symbol, nil, &out, 8*time.Second); err != nil {
		return 0, err
	}
	if out.LotSize <= 0 {
		return 1, nil
	}
	return out.LotSize, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	var out broker.OrderResult
	if err := c.wait(ctx, c.orderLimiter, "submit_order"); err != nil {
		return out, err
	}
	body := map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "price": req.Price.String(),
		"quantity": req.Quantity, "type": "Limit", "tif": "Day", "client_ref": req.ClientRef,
	}
	err := c.do(ctx, http.MethodPost, "/submit_order", body, &out, 60*time.Second)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.wait(ctx, c.orderLimiter, "cancel_order"); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/cancel_order", map[string]string{"order_id": orderID}, nil, 10*time.Second)
}

func (c *Client) OrdersToday(ctx context.Context) ([]broker.OrderResult, error) {
	var out []broker.OrderResult
	if err := c.wait(ctx, c.orderLimiter, "today_orders"); err != nil {
		return out, err
	}
	err := c.do(ctx, http.MethodGet, "/today_orders", nil, &out, 10*time.Second)
	return out, err
}

func (c *Client) Subscribe(ctx context.Context, symbols []string, handler broker.QuoteHandler) error {
	if c.subscriber == nil {
		return fmt.Errorf("restclient: no quote subscriber configured")
	}
	return c.subscriber(ctx, symbols, handler)
}
