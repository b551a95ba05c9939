// Package engine is the central orchestrator of the auction-theory trading
// core. A single market-data goroutine drives the collector -> bar ->
// feature -> signal -> position pipeline for one symbol with no internal
// concurrency; exchange calls are dispatched on their own goroutines so the
// event loop never blocks on network I/O, and persistence runs behind the
// store's own buffered write queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"auction-trader/internal/bar"
	"auction-trader/internal/collector"
	"auction-trader/internal/config"
	"auction-trader/internal/exchange"
	"auction-trader/internal/feature"
	"auction-trader/internal/metrics"
	"auction-trader/internal/position"
	"auction-trader/internal/signal"
	"auction-trader/internal/store"
	"auction-trader/pkg/types"
)

// ErrNoQuote is returned when a signal needs to execute but no top-of-book
// snapshot has been observed yet.
var ErrNoQuote = errors.New("engine: no quote available")

// executor is the subset of exchange.Client and exchange.PaperExecutor the
// orchestrator needs, letting live and paper trading share one dispatch
// path. Both concrete types are adapted to it in executor_adapters.go.
type executor interface {
	Enter(ctx context.Context, side types.PositionSide, size, limitPrice float64, quote types.Quote) types.ExecutionResult
	Exit(ctx context.Context, side types.PositionSide, size float64, quote types.Quote) types.ExecutionResult
}

// event is one unit of work for the market-data goroutine: a trade, a
// quote, or a settled execution result arriving from the execution task.
type event struct {
	trade    *types.Trade
	quote    *types.Quote
	execDone *execResult
}

// execResult carries an order outcome back from the concurrent execution
// task into the event loop, which is the only place allowed to mutate the
// position manager.
type execResult struct {
	action types.Action
	side   types.PositionSide
	size   float64
	result types.ExecutionResult
	ts     int64
}

// Engine wires the auction-theory pipeline to a Bybit linear perpetual and
// persists every stage to SQLite.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	collector *collector.Collector
	agg       *bar.Aggregator
	window    *bar.Window
	features  *feature.Engine
	signals   *signal.Engine
	positions *position.Manager
	exec      executor
	store     *store.Store
	metrics   *metrics.Metrics
	registry  *prometheus.Registry

	persistedTrades int
	events          chan event

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an Engine from cfg. It does not start any goroutines.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Database.DataDir, cfg.Database.DBFile, cfg.Instrument.Symbol)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	m, reg := metrics.New()

	col := collector.New(cfg, logger.With("component", "collector"))

	var exec executor
	if cfg.DryRun {
		exec = newPaperAdapter(exchange.NewPaperExecutor(cfg))
	} else {
		auth := exchange.NewAuth(cfg)
		exec = newLiveAdapter(exchange.NewClient(cfg, auth, logger.With("component", "exchange")))
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		collector: col,
		agg:       bar.New(),
		window:    bar.NewWindow(cfg.Instrument.RollingWindowMinutes + 60),
		features:  feature.New(cfg),
		signals:   signal.New(cfg),
		positions: position.New(cfg, cfg.Backtest.InitialCapital),
		exec:      exec,
		store:     st,
		metrics:   m,
		registry:  reg,
		events:    make(chan event, 4096),
	}, nil
}

// Registry exposes the Prometheus registry backing Metrics, for the
// dashboard's /metrics handler.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Metrics exposes the metrics struct for the dashboard snapshot handler.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Store exposes the persistence layer for the dashboard's read-only queries.
func (e *Engine) Store() *store.Store { return e.store }

// PositionManager exposes the position manager for the dashboard snapshot.
func (e *Engine) PositionManager() *position.Manager { return e.positions }

// Collector exposes the market-data collector for the dashboard's
// latest-quote and connection-health reporting.
func (e *Engine) Collector() *collector.Collector { return e.collector }

// Start runs the collector and the market-data event loop until ctx is
// canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.collector.OnTrade = func(t types.Trade) { e.enqueue(event{trade: &t}) }
	e.collector.OnQuote = func(q types.Quote) { e.enqueue(event{quote: &q}) }

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.collector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("collector stopped", "error", err)
		}
	}()

	e.runLoop(ctx)
	return nil
}

// Stop cancels the running event loop, waits for goroutines to exit, and
// closes the store so its write queue drains fully.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if err := e.store.Close(); err != nil {
		e.logger.Error("closing store", "error", err)
	}
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event queue full, dropping market data event")
	}
}

// runLoop is the single-threaded market-data event loop: the only goroutine
// that ever calls into the bar aggregator, feature engine, signal engine, or
// position manager. Each dispatched handler runs inside a recover wrapper so
// one bad event cannot take the whole loop down.
func (e *Engine) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.dispatch(ev)
		}
	}
}

func (e *Engine) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panic, continuing", "panic", fmt.Sprint(r))
		}
	}()

	switch {
	case ev.trade != nil:
		e.handleTrade(*ev.trade)
	case ev.quote != nil:
		e.handleQuote(*ev.quote)
	case ev.execDone != nil:
		e.applyExecResult(*ev.execDone)
	}
}

func (e *Engine) handleTrade(t types.Trade) {
	e.store.SaveTick(t)

	finalized, quotedTrades, ok := e.agg.FeedTrade(t)
	if !ok {
		return
	}
	e.processBar(finalized, quotedTrades)
}

func (e *Engine) handleQuote(q types.Quote) {
	e.agg.FeedQuote(q)
	e.store.SaveQuote(q)

	if !e.positions.HasPosition() {
		return
	}

	preExitPos, _ := e.positions.Position()

	now := time.Now().UnixMilli()
	if reason := e.positions.CheckExits(q.AskPx, q.BidPx, q.Mid(), now); reason != "" {
		e.logger.Info("position exit", "reason", reason)
		e.afterPositionChange(q.Mid())
		e.dispatchExitOrder(preExitPos, q, now)
	}
}

func (e *Engine) processBar(finalized types.Bar1m, quotedTrades []bar.QuotedTrade) {
	e.window.Append(finalized)
	e.store.SaveBar(finalized)
	e.metrics.BarsFinalized.Inc()

	feats := e.features.Compute(finalized, e.window.Tail(e.cfg.Instrument.RollingWindowMinutes), quotedTrades)
	e.store.SaveFeatures(feats)

	if err := e.features.CheckValueArea(feats.VA); err != nil && errors.Is(err, feature.ErrInvalidVA) {
		e.logger.Debug("value area not yet usable", "ts_min", feats.TsMin, "error", err)
	}

	sig := e.signals.Process(feats)
	e.store.SaveSignal(sig)

	if sig.SignalType != nil {
		e.metrics.SignalsByType.WithLabelValues(sig.SignalType.StrategyTag(), actionLabel(sig.Action)).Inc()
	}

	if sig.Action == types.ActionHold {
		return
	}

	preSignalPos, hadPosition := e.positions.Position()

	now := time.Now().UnixMilli()
	if err := e.positions.DailyLossBlocked(); err != nil && errors.Is(err, position.ErrDailyLossLimit) {
		e.logger.Warn("entries blocked", "error", err)
	}
	resultMsg := e.positions.ProcessSignal(sig, feats.MidClose, now)
	if resultMsg != "" {
		e.logger.Info("signal processed", "result", resultMsg, "strategy_tag", sig.StrategyTag)
	}
	e.afterPositionChange(feats.MidClose)

	quote, ok := e.collector.LatestQuote()
	if !ok {
		e.logger.Warn("skipping execution", "error", fmt.Errorf("ts_min %d: %w", sig.TsMin, ErrNoQuote))
		return
	}

	postSignalPos, hasPosition := e.positions.Position()

	var side types.PositionSide
	var size float64
	switch sig.Action {
	case types.ActionEnterLong, types.ActionEnterShort:
		wantSide := types.Long
		if sig.Action == types.ActionEnterShort {
			wantSide = types.Short
		}
		// ProcessSignal may have ignored the signal (same side already open,
		// daily-loss gate, zero-size sizing); only dispatch an order when it
		// actually opened the position this call.
		if hasPosition && postSignalPos.Side == wantSide && postSignalPos.EntryTs == now {
			side, size = wantSide, postSignalPos.OriginalSize
		}
	case types.ActionExit:
		if !hadPosition {
			return
		}
		side, size = preSignalPos.Side, preSignalPos.OriginalSize
	default:
		return
	}
	if size <= 0 {
		return
	}

	e.dispatchSignalOrder(sig, side, size, quote, now)
}

// dispatchSignalOrder submits the order implied by sig on its own goroutine
// so the event loop keeps consuming trades and quotes while the exchange
// round trip is in flight. The position manager has already applied the
// fill at the quote mid synchronously; this call places the real order and
// records its lifecycle without gating that ledger on network latency.
func (e *Engine) dispatchSignalOrder(sig types.Signal, side types.PositionSide, size float64, quote types.Quote, ts int64) {

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var result types.ExecutionResult
		if sig.Action == types.ActionExit {
			result = e.exec.Exit(ctx, side, size, quote)
		} else {
			result = e.exec.Enter(ctx, side, size, quote.Mid(), quote)
		}

		e.metrics.OrdersPlaced.WithLabelValues(sideLabel(side), "market").Inc()
		e.enqueue(event{execDone: &execResult{action: sig.Action, side: side, size: size, result: result, ts: ts}})
	}()
}

func (e *Engine) dispatchExitOrder(pos types.Position, quote types.Quote, ts int64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		result := e.exec.Exit(ctx, pos.Side, pos.OriginalSize, quote)
		e.enqueue(event{execDone: &execResult{action: types.ActionExit, side: pos.Side, size: pos.OriginalSize, result: result, ts: ts}})
	}()
}

// applyExecResult records the real order outcome. It never re-mutates the
// position ledger: the position manager already applied the fill
// synchronously at signal time, per the upstream reference behavior.
func (e *Engine) applyExecResult(r execResult) {
	if !r.result.Success {
		e.logger.Warn("execution rejected", "error", r.result.Error, "side", sideLabel(r.side), "size", r.size)
		return
	}
	e.store.SaveOrder(types.OrderRecord{
		OrderID:   r.result.OrderID,
		Symbol:    e.cfg.Instrument.Symbol,
		Side:      r.side,
		OrderType: "Market",
		Price:     r.result.FilledPrice,
		Qty:       r.size,
		Status:    "Filled",
		FilledQty: r.result.FilledQty,
		AvgPrice:  r.result.FilledPrice,
	})
}

// afterPositionChange persists the current position state (or its absence)
// and refreshes gauges. Called after every ProcessSignal/CheckExits call
// since both can open, modify, or close the tracked position.
func (e *Engine) afterPositionChange(currentPrice float64) {
	pos, has := e.positions.Position()
	if has {
		e.store.SavePosition(pos)
		e.metrics.OpenPositionPnL.Set(pos.UnrealizedPnL(currentPrice))
	} else {
		e.store.DeletePosition()
		e.metrics.OpenPositionPnL.Set(0)
	}
	e.metrics.Equity.Set(e.positions.Equity())

	stats := e.positions.GetStats()
	e.metrics.DailyRealizedPnL.Set(stats.TotalPnL)

	e.persistNewTrades()
}

// persistNewTrades saves every trade the position manager closed since the
// last call. The manager keeps the authoritative in-memory log; the store
// only needs the suffix that hasn't been written yet.
func (e *Engine) persistNewTrades() {
	trades := e.positions.Trades()
	for _, tr := range trades[e.persistedTrades:] {
		e.store.SaveTrade(tr)
		result := "loss"
		if tr.PnLNet > 0 {
			result = "win"
		}
		e.metrics.TradesTotal.WithLabelValues(result).Inc()
		e.metrics.ExitReasons.WithLabelValues(tr.ExitReason.String(), tr.Side.String()).Inc()
	}
	e.persistedTrades = len(trades)
}

func actionLabel(a types.Action) string {
	switch a {
	case types.ActionEnterLong:
		return "ENTER_LONG"
	case types.ActionEnterShort:
		return "ENTER_SHORT"
	case types.ActionExit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

func sideLabel(s types.PositionSide) string {
	return s.String()
}
