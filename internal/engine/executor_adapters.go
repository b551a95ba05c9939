package engine

import (
	"context"

	"auction-trader/internal/exchange"
	"auction-trader/pkg/types"
)

// liveAdapter bridges exchange.Client's context-aware, internally-polling
// methods to the executor interface.
type liveAdapter struct {
	client *exchange.Client
}

func newLiveAdapter(c *exchange.Client) *liveAdapter {
	return &liveAdapter{client: c}
}

func (a *liveAdapter) Enter(ctx context.Context, side types.PositionSide, size, limitPrice float64, _ types.Quote) types.ExecutionResult {
	return a.client.EnterPosition(ctx, side, size, limitPrice, true)
}

func (a *liveAdapter) Exit(ctx context.Context, side types.PositionSide, size float64, _ types.Quote) types.ExecutionResult {
	return a.client.ExitPosition(ctx, side, size)
}

// paperAdapter bridges exchange.PaperExecutor's quote-driven simulation to
// the executor interface; ctx is unused since paper fills are synchronous.
type paperAdapter struct {
	paper *exchange.PaperExecutor
}

func newPaperAdapter(p *exchange.PaperExecutor) *paperAdapter {
	return &paperAdapter{paper: p}
}

func (a *paperAdapter) Enter(_ context.Context, side types.PositionSide, size, limitPrice float64, quote types.Quote) types.ExecutionResult {
	return a.paper.EnterPosition(side, size, limitPrice, &quote)
}

func (a *paperAdapter) Exit(_ context.Context, side types.PositionSide, size float64, quote types.Quote) types.ExecutionResult {
	return a.paper.ExitPosition(side, size, &quote)
}
