// Package collector streams public market data from Bybit's v5 WebSocket
// and hands parsed trades and top-of-book quotes to the caller's callbacks.
//
// The connection auto-reconnects with exponential backoff (1s doubling to a
// 60s cap, reset on every successful connect), tuned to Bybit's own
// published idle/backoff guidance.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

const (
	mainnetWSURL = "wss://stream.bybit.com/v5/public/linear"
	testnetWSURL = "wss://stream-testnet.bybit.com/v5/public/linear"

	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 60 * time.Second
	pingInterval      = 20 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// TradeFunc is invoked for every parsed trade, in arrival order.
type TradeFunc func(types.Trade)

// QuoteFunc is invoked for every parsed top-of-book update.
type QuoteFunc func(types.Quote)

// Stats tracks collector throughput and failures for observability.
type Stats struct {
	TradesReceived int64
	QuotesReceived int64
	Reconnections  int64
	Errors         int64
	LastTradeTsMs  int64
	LastQuoteTsMs  int64
}

// Collector streams publicTrade and orderbook.1 topics for a single
// linear perpetual symbol from Bybit's public WebSocket.
type Collector struct {
	url    string
	symbol string
	logger *slog.Logger

	OnTrade TradeFunc
	OnQuote QuoteFunc

	stats Stats

	mu           sync.Mutex
	latestQuote  types.Quote
	haveQuote    bool
}

// New builds a collector for the configured symbol, selecting testnet or
// mainnet WebSocket hosts per the instance's API config.
func New(cfg config.Config, logger *slog.Logger) *Collector {
	url := cfg.API.WSPublicURL
	if url == "" {
		if cfg.API.Testnet {
			url = testnetWSURL
		} else {
			url = mainnetWSURL
		}
	}
	return &Collector{
		url:    url,
		symbol: cfg.Instrument.Symbol,
		logger: logger.With("component", "collector"),
	}
}

// LatestQuote returns the most recently parsed top-of-book quote.
func (c *Collector) LatestQuote() (types.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestQuote, c.haveQuote
}

// Stats returns a snapshot of collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		TradesReceived: atomic.LoadInt64(&c.stats.TradesReceived),
		QuotesReceived: atomic.LoadInt64(&c.stats.QuotesReceived),
		Reconnections:  atomic.LoadInt64(&c.stats.Reconnections),
		Errors:         atomic.LoadInt64(&c.stats.Errors),
		LastTradeTsMs:  atomic.LoadInt64(&c.stats.LastTradeTsMs),
		LastQuoteTsMs:  atomic.LoadInt64(&c.stats.LastQuoteTsMs),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting on any
// error with exponential backoff.
func (c *Collector) Run(ctx context.Context) error {
	delay := minReconnectDelay

	for {
		connected, err := c.connectAndStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = minReconnectDelay
		}

		atomic.AddInt64(&c.stats.Reconnections, 1)
		c.logger.Warn("websocket disconnected, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Collector) connectAndStream(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.logger.Info("connected", "url", c.url)

	if err := c.subscribe(conn); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.handleMessage(msg)
	}
}

func (c *Collector) subscribe(conn *websocket.Conn) error {
	tradeSub := map[string]any{"op": "subscribe", "args": []string{"publicTrade." + c.symbol}}
	if err := c.writeJSON(conn, tradeSub); err != nil {
		return err
	}
	bookSub := map[string]any{"op": "subscribe", "args": []string{"orderbook.1." + c.symbol}}
	return c.writeJSON(conn, bookSub)
}

func (c *Collector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, map[string]string{"op": "ping"}); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Collector) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

type bybitMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Ts      int64           `json:"ts"`
}

func (c *Collector) handleMessage(raw []byte) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug("ignoring non-json message", "data", string(raw))
		return
	}
	if msg.Op != "" || msg.Success != nil {
		return
	}

	switch {
	case hasPrefix(msg.Topic, "publicTrade."):
		c.handleTrades(msg.Data)
	case hasPrefix(msg.Topic, "orderbook."):
		c.handleOrderbook(msg.Data, msg.Ts)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

type bybitTrade struct {
	TsMs  int64  `json:"T"`
	Side  string `json:"S"`
	Size  string `json:"v"`
	Price string `json:"p"`
}

func (c *Collector) handleTrades(data json.RawMessage) {
	var entries []bybitTrade
	if err := json.Unmarshal(data, &entries); err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.Warn("failed to parse trades", "error", err)
		return
	}
	for _, e := range entries {
		trade, err := parseTrade(e)
		if err != nil {
			atomic.AddInt64(&c.stats.Errors, 1)
			c.logger.Warn("failed to parse trade", "error", err)
			continue
		}
		atomic.AddInt64(&c.stats.TradesReceived, 1)
		atomic.StoreInt64(&c.stats.LastTradeTsMs, trade.TsMs)
		if c.OnTrade != nil {
			c.OnTrade(trade)
		}
	}
}

func parseTrade(e bybitTrade) (types.Trade, error) {
	price, err := decimal.NewFromString(e.Price)
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse price: %w", err)
	}
	size, err := decimal.NewFromString(e.Size)
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse size: %w", err)
	}
	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()
	return types.Trade{TsMs: e.TsMs, Price: priceF, Size: sizeF}, nil
}

type bybitOrderbook struct {
	Bids [][2]string `json:"b"`
	Asks [][2]string `json:"a"`
}

func (c *Collector) handleOrderbook(data json.RawMessage, tsMs int64) {
	var book bybitOrderbook
	if err := json.Unmarshal(data, &book); err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.Warn("failed to parse orderbook", "error", err)
		return
	}
	quote, ok, err := parseOrderbook(book, tsMs)
	if err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.Warn("failed to parse orderbook", "error", err)
		return
	}
	if !ok {
		return
	}

	c.mu.Lock()
	c.latestQuote = quote
	c.haveQuote = true
	c.mu.Unlock()

	atomic.AddInt64(&c.stats.QuotesReceived, 1)
	atomic.StoreInt64(&c.stats.LastQuoteTsMs, quote.TsMs)
	if c.OnQuote != nil {
		c.OnQuote(quote)
	}
}

// parseOrderbook extracts the best bid/ask from a Bybit L1 orderbook
// message. A delta update that doesn't touch the top of book carries empty
// b/a arrays and yields ok=false; the caller should keep its last quote.
func parseOrderbook(book bybitOrderbook, tsMs int64) (types.Quote, bool, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return types.Quote{}, false, nil
	}
	bidPx, err := decimal.NewFromString(book.Bids[0][0])
	if err != nil {
		return types.Quote{}, false, fmt.Errorf("parse bid price: %w", err)
	}
	bidSz, err := decimal.NewFromString(book.Bids[0][1])
	if err != nil {
		return types.Quote{}, false, fmt.Errorf("parse bid size: %w", err)
	}
	askPx, err := decimal.NewFromString(book.Asks[0][0])
	if err != nil {
		return types.Quote{}, false, fmt.Errorf("parse ask price: %w", err)
	}
	askSz, err := decimal.NewFromString(book.Asks[0][1])
	if err != nil {
		return types.Quote{}, false, fmt.Errorf("parse ask size: %w", err)
	}
	bidPxF, _ := bidPx.Float64()
	bidSzF, _ := bidSz.Float64()
	askPxF, _ := askPx.Float64()
	askSzF, _ := askSz.Float64()
	return types.Quote{TsMs: tsMs, BidPx: bidPxF, BidSz: bidSzF, AskPx: askPxF, AskSz: askSzF}, true, nil
}
