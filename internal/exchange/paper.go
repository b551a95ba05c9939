package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

// PaperExecutor simulates order execution against the last known quote,
// with no outbound HTTP calls. It fills instantly at the quote's touch
// price plus a configured slippage allowance, the same approximation the
// live executor's limit-timeout fallback converges to under liquid
// conditions.
type PaperExecutor struct {
	symbol       string
	tick         float64
	slipEntry    int
	slipExit     int

	mu      sync.Mutex
	orders  []types.OrderRecord
	nextID  int64
}

// NewPaperExecutor builds a dry-run executor for the configured symbol.
func NewPaperExecutor(cfg config.Config) *PaperExecutor {
	return &PaperExecutor{
		symbol:    cfg.Instrument.Symbol,
		tick:      cfg.Instrument.TickSize,
		slipEntry: cfg.Execution.SlippageTicksEntry,
		slipExit:  cfg.Execution.SlippageTicksExit,
		nextID:    1,
	}
}

// EnterPosition simulates a fill at the quote's touch price, worsened by
// slippage ticks in the adverse direction, or at limitPrice if no quote
// is available.
func (p *PaperExecutor) EnterPosition(side types.PositionSide, size float64, limitPrice float64, quote *types.Quote) types.ExecutionResult {
	var fillPrice float64
	switch {
	case quote != nil && side == types.Long:
		fillPrice = quote.AskPx + p.tick*float64(p.slipEntry)
	case quote != nil:
		fillPrice = quote.BidPx - p.tick*float64(p.slipEntry)
	case limitPrice > 0:
		fillPrice = limitPrice
	default:
		return types.ExecutionResult{Success: false, Error: "no price available"}
	}

	orderID := p.recordOrder(side, size, fillPrice)
	return types.ExecutionResult{Success: true, FilledPrice: fillPrice, FilledQty: size, OrderID: orderID}
}

// ExitPosition simulates a fill at the quote's touch price, worsened by
// slippage ticks in the adverse direction for the closing side.
func (p *PaperExecutor) ExitPosition(side types.PositionSide, size float64, quote *types.Quote) types.ExecutionResult {
	if quote == nil {
		return types.ExecutionResult{Success: false, Error: "no quote available"}
	}

	var fillPrice float64
	if side == types.Long {
		// closing a long sells into the bid
		fillPrice = quote.BidPx - p.tick*float64(p.slipExit)
	} else {
		fillPrice = quote.AskPx + p.tick*float64(p.slipExit)
	}

	orderID := p.recordOrder(side, size, fillPrice)
	return types.ExecutionResult{Success: true, FilledPrice: fillPrice, FilledQty: size, OrderID: orderID}
}

func (p *PaperExecutor) recordOrder(side types.PositionSide, size, fillPrice float64) string {
	id := atomic.AddInt64(&p.nextID, 1) - 1
	orderID := strconv.FormatInt(id, 10)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, types.OrderRecord{
		OrderID:       orderID,
		ClientOrderID: fmt.Sprintf("paper_%d", id),
		Symbol:        p.symbol,
		Side:          side,
		OrderType:     "Market",
		Price:         fillPrice,
		Qty:           size,
		Status:        "Filled",
		FilledQty:     size,
		AvgPrice:      fillPrice,
	})
	return orderID
}

// CancelOrder always succeeds in paper mode; there is nothing resting.
func (p *PaperExecutor) CancelOrder(orderID string) bool {
	return true
}

// Orders returns every simulated fill, newest last.
func (p *PaperExecutor) Orders() []types.OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.OrderRecord, len(p.orders))
	copy(out, p.orders)
	return out
}
