// Package wsfeed is a realtime quote-feed adapter over a generic JSON
// websocket protocol, used by any broker.Client implementation whose push
// channel isn't protobuf-based. Grounded on websocket/client.go's
// Connect/StartPing/ReadMessage/Close shape and app.go's
// readAndProcessMessages/reconnectWebSocket reconnect-with-backoff loop,
// translated from that repo's Stockbit-specific protobuf wrapper to a
// plain JSON quote-tick frame.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
)

// tickFrame is the wire shape pushed by the feed: one JSON object per
// line/message, decoded straight into a broker.Quote.
type tickFrame struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

type subscribeFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Client is a long-lived connection to the realtime quote feed. Run
// connects, then reads and dispatches ticks until ctx is cancelled,
// reconnecting on its own with exponential backoff.
type Client struct {
	url    string
	header http.Header

	mu      sync.Mutex
	conn    *websocket.Conn
	pingCancel context.CancelFunc
}

func New(url, authToken string) *Client {
	header := make(http.Header)
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}
	header.Set("User-Agent", "hkus-trading-core/1.0")
	return &Client{url: url, header: header}
}

func (c *Client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Printf("✅ connected to quote feed %s", c.url)
	return nil
}

func (c *Client) subscribe(symbols []string) error {
	frame := subscribeFrame{Action: "subscribe", Symbols: symbols}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsfeed: connection is nil")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) startPing(ctx context.Context, interval time.Duration) {
	pingCtx, cancel := context.WithCancel(ctx)
	c.pingCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn == nil {
					continue
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Printf("⚠️  quote feed ping failed: %v", err)
					return
				}
			}
		}
	}()
}

func (c *Client) close() error {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run connects, subscribes to symbols, and dispatches ticks to handler
// until ctx is cancelled. On a read error it reconnects with exponential
// backoff (5s up to 60s), resubscribing on success — matching the
// teacher's readAndProcessMessages/reconnectWebSocket loop.
func (c *Client) Run(ctx context.Context, symbols []string, handler broker.QuoteHandler) error {
	if err := c.connect(); err != nil {
		return err
	}
	if err := c.subscribe(symbols); err != nil {
		return err
	}
	c.startPing(ctx, 25*time.Second)
	defer c.close()

	reconnectDelay := 5 * time.Second
	const maxReconnectDelay = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("wsfeed: connection lost and not reconnected")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			log.Printf("⚠️  quote feed read error: %v", err)
			log.Printf("🔄 reconnecting in %v...", reconnectDelay)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}

			if err := c.connect(); err != nil {
				log.Printf("❌ reconnect failed: %v", err)
				reconnectDelay *= 2
				if reconnectDelay > maxReconnectDelay {
					reconnectDelay = maxReconnectDelay
				}
				continue
			}
			if err := c.subscribe(symbols); err != nil {
				log.Printf("⚠️  resubscribe failed: %v", err)
			}
			reconnectDelay = 5 * time.Second
			log.Println("✅ quote feed reconnected, resuming")
			continue
		}

		var frame tickFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("⚠️  quote feed: dropping unparseable frame: %v", err)
			continue
		}
		handler(broker.Quote{
			Symbol:    frame.Symbol,
			Price:     frame.Price,
			Bid:       frame.Bid,
			Ask:       frame.Ask,
			Volume:    frame.Volume,
			Timestamp: frame.Timestamp,
		})
	}
}
