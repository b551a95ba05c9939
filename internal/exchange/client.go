// Package exchange implements the Bybit v5 linear perpetuals REST client
// used to enter and exit positions, plus a paper-trading counterpart for
// dry-run mode.
//
// The REST client (Client) talks to Bybit's v5 unified-account API:
//   - EnterPosition/ExitPosition: POST /v5/order/create — submit a market or limit order
//   - CancelOrder:  POST /v5/order/cancel   — cancel a resting order
//   - orderStatus:  GET  /v5/order/realtime — poll an order's fill state
//   - getFillPrice: GET  /v5/order/history  — look up the realized fill price
//   - GetPosition:  GET  /v5/position/list  — current exchange-side position
//
// Every request is HMAC-signed via Auth, and automatically retried on 5xx
// errors by the underlying resty client.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

// Client is the Bybit v5 REST API client used by the live executor.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	symbol string
	tick   float64
	logger *slog.Logger

	limitTimeout time.Duration
	pollInterval time.Duration
}

// NewClient creates a REST client with retry and HMAC auth configured
// for the symbol and tick size traded by this instance.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	baseURL := cfg.API.BaseURL
	if cfg.API.Testnet {
		baseURL = "https://api-testnet.bybit.com"
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:         httpClient,
		auth:         auth,
		rl:           NewRateLimiter(),
		symbol:       cfg.Instrument.Symbol,
		tick:         cfg.Instrument.TickSize,
		logger:       logger,
		limitTimeout: time.Duration(cfg.Execution.LimitOrderTimeoutMinutes) * time.Minute,
		pollInterval: 500 * time.Millisecond,
	}
}

// bybitEnvelope is the common response wrapper every v5 endpoint returns.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) signedGET(ctx context.Context, endpoint string, params map[string]string, out *bybitEnvelope) error {
	ts := Timestamp()
	query, sig := c.auth.SignGET(params, ts)
	headers := c.auth.Headers(ts, sig)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryString(query).
		SetResult(out).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("get %s: %w", endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	if out.RetCode != 0 {
		return fmt.Errorf("get %s: retCode %d: %s", endpoint, out.RetCode, out.RetMsg)
	}
	return nil
}

func (c *Client) signedPOST(ctx context.Context, endpoint string, body any, out *bybitEnvelope) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", endpoint, err)
	}
	ts := Timestamp()
	sig := c.auth.SignPOST(string(raw), ts)
	headers := c.auth.Headers(ts, sig)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(raw)).
		SetResult(out).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	if out.RetCode != 0 {
		return fmt.Errorf("post %s: retCode %d: %s", endpoint, out.RetCode, out.RetMsg)
	}
	return nil
}

// orderCreateRequest is the POST /v5/order/create payload.
type orderCreateRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	OrderLinkID string `json:"orderLinkId"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// EnterPosition opens a new position, using a limit order with a timeout
// fallback to market when useLimit is set, otherwise a plain market order.
func (c *Client) EnterPosition(ctx context.Context, side types.PositionSide, size float64, limitPrice float64, useLimit bool) types.ExecutionResult {
	if useLimit {
		return c.executeLimitWithTimeout(ctx, side, size, limitPrice, false)
	}
	return c.executeMarket(ctx, side, size, false)
}

// ExitPosition always closes at market, reduce-only.
func (c *Client) ExitPosition(ctx context.Context, side types.PositionSide, size float64) types.ExecutionResult {
	return c.executeMarket(ctx, side, size, true)
}

func (c *Client) executeMarket(ctx context.Context, side types.PositionSide, size float64, reduceOnly bool) types.ExecutionResult {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.ExecutionResult{Success: false, Error: err.Error()}
	}
	linkID := GenerateClientOrderID()
	req := orderCreateRequest{
		Category:    "linear",
		Symbol:      c.symbol,
		Side:        sideString(side),
		OrderType:   "Market",
		Qty:         formatQty(size),
		OrderLinkID: linkID,
		ReduceOnly:  reduceOnly,
	}

	var env bybitEnvelope
	if err := c.signedPOST(ctx, "/v5/order/create", req, &env); err != nil {
		return types.ExecutionResult{Success: false, Error: err.Error()}
	}
	var result orderCreateResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return types.ExecutionResult{Success: false, Error: fmt.Sprintf("decode order result: %v", err)}
	}

	fillPrice, filledQty, err := c.waitForFill(ctx, result.OrderID)
	if err != nil {
		return types.ExecutionResult{Success: false, OrderID: result.OrderID, Error: err.Error()}
	}
	return types.ExecutionResult{Success: true, FilledPrice: fillPrice, FilledQty: filledQty, OrderID: result.OrderID}
}

func (c *Client) executeLimitWithTimeout(ctx context.Context, side types.PositionSide, size float64, limitPrice float64, reduceOnly bool) types.ExecutionResult {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.ExecutionResult{Success: false, Error: err.Error()}
	}
	linkID := GenerateClientOrderID()
	price := c.roundToTick(limitPrice)
	req := orderCreateRequest{
		Category:    "linear",
		Symbol:      c.symbol,
		Side:        sideString(side),
		OrderType:   "Limit",
		Qty:         formatQty(size),
		Price:       strconv.FormatFloat(price, 'f', -1, 64),
		OrderLinkID: linkID,
		TimeInForce: "GTC",
		ReduceOnly:  reduceOnly,
	}

	var env bybitEnvelope
	if err := c.signedPOST(ctx, "/v5/order/create", req, &env); err != nil {
		return types.ExecutionResult{Success: false, Error: err.Error()}
	}
	var result orderCreateResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return types.ExecutionResult{Success: false, Error: fmt.Sprintf("decode order result: %v", err)}
	}

	deadline := time.Now().Add(c.limitTimeout)
	for time.Now().Before(deadline) {
		status, filledQty, avgPrice, err := c.orderStatus(ctx, result.OrderID)
		if err != nil {
			return types.ExecutionResult{Success: false, OrderID: result.OrderID, Error: err.Error()}
		}
		if status == "Filled" {
			return types.ExecutionResult{Success: true, FilledPrice: avgPrice, FilledQty: filledQty, OrderID: result.OrderID}
		}
		select {
		case <-ctx.Done():
			return types.ExecutionResult{Success: false, OrderID: result.OrderID, Error: ctx.Err().Error()}
		case <-time.After(c.pollInterval):
		}
	}

	c.logger.Warn("limit order timed out, cancelling and falling back to market", "order_id", result.OrderID)
	_ = c.CancelOrder(ctx, result.OrderID)
	return c.executeMarket(ctx, side, size, reduceOnly)
}

// waitForFill polls order status until the order reaches a terminal state.
func (c *Client) waitForFill(ctx context.Context, orderID string) (price, qty float64, err error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		status, filledQty, avgPrice, err := c.orderStatus(ctx, orderID)
		if err != nil {
			return 0, 0, err
		}
		switch status {
		case "Filled":
			return avgPrice, filledQty, nil
		case "Cancelled", "Rejected":
			return 0, 0, fmt.Errorf("order %s ended in status %s", orderID, status)
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return c.getFillPrice(ctx, orderID)
}

type orderRealtimeEntry struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
}

type orderListResult struct {
	List []orderRealtimeEntry `json:"list"`
}

func (c *Client) orderStatus(ctx context.Context, orderID string) (status string, filledQty, avgPrice float64, err error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return "", 0, 0, err
	}
	params := map[string]string{"category": "linear", "symbol": c.symbol, "orderId": orderID}
	var env bybitEnvelope
	if err := c.signedGET(ctx, "/v5/order/realtime", params, &env); err != nil {
		return "", 0, 0, err
	}
	var result orderListResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", 0, 0, fmt.Errorf("decode order status: %w", err)
	}
	if len(result.List) == 0 {
		return "", 0, 0, nil
	}
	entry := result.List[0]
	qty, _ := strconv.ParseFloat(entry.CumExecQty, 64)
	price, _ := strconv.ParseFloat(entry.AvgPrice, 64)
	return entry.OrderStatus, qty, price, nil
}

// getFillPrice looks up the realized average price from order history, the
// terminal-state lookup used once realtime polling times out.
func (c *Client) getFillPrice(ctx context.Context, orderID string) (price, qty float64, err error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return 0, 0, err
	}
	params := map[string]string{"category": "linear", "symbol": c.symbol, "orderId": orderID}
	var env bybitEnvelope
	if err := c.signedGET(ctx, "/v5/order/history", params, &env); err != nil {
		return 0, 0, err
	}
	var result orderListResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, 0, fmt.Errorf("decode order history: %w", err)
	}
	if len(result.List) == 0 {
		return 0, 0, fmt.Errorf("order %s not found in history", orderID)
	}
	entry := result.List[0]
	qty, _ = strconv.ParseFloat(entry.CumExecQty, 64)
	price, _ = strconv.ParseFloat(entry.AvgPrice, 64)
	return price, qty, nil
}

// CancelOrder cancels a resting order by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) bool {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		c.logger.Warn("cancel order rate-limit wait failed", "order_id", orderID, "error", err)
		return false
	}
	req := struct {
		Category string `json:"category"`
		Symbol   string `json:"symbol"`
		OrderID  string `json:"orderId"`
	}{Category: "linear", Symbol: c.symbol, OrderID: orderID}

	var env bybitEnvelope
	if err := c.signedPOST(ctx, "/v5/order/cancel", req, &env); err != nil {
		c.logger.Warn("cancel order failed", "order_id", orderID, "error", err)
		return false
	}
	return true
}

type positionEntry struct {
	Side     string `json:"side"`
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
}

type positionListResult struct {
	List []positionEntry `json:"list"`
}

// GetPosition queries the exchange-side position, used to reconcile state
// on startup.
func (c *Client) GetPosition(ctx context.Context) (side string, size, avgPrice float64, err error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return "", 0, 0, err
	}
	params := map[string]string{"category": "linear", "symbol": c.symbol}
	var env bybitEnvelope
	if err := c.signedGET(ctx, "/v5/position/list", params, &env); err != nil {
		return "", 0, 0, err
	}
	var result positionListResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", 0, 0, fmt.Errorf("decode position list: %w", err)
	}
	if len(result.List) == 0 {
		return "", 0, 0, nil
	}
	entry := result.List[0]
	sz, _ := strconv.ParseFloat(entry.Size, 64)
	avg, _ := strconv.ParseFloat(entry.AvgPrice, 64)
	return entry.Side, sz, avg, nil
}

func (c *Client) roundToTick(price float64) float64 {
	if c.tick <= 0 {
		return price
	}
	ticks := price / c.tick
	rounded := float64(int64(ticks + 0.5))
	return rounded * c.tick
}

func sideString(side types.PositionSide) string {
	if side == types.Long {
		return "Buy"
	}
	return "Sell"
}

func formatQty(size float64) string {
	return strconv.FormatFloat(size, 'f', -1, 64)
}
