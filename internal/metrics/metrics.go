// Package metrics exposes Prometheus counters and gauges for the trading
// core. They are registered once in New and served at /metrics by
// the dashboard HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every exported series for the running instance.
type Metrics struct {
	BarsFinalized    prometheus.Counter
	SignalsByType    *prometheus.CounterVec
	TradesTotal      *prometheus.CounterVec
	ExitReasons      *prometheus.CounterVec
	OpenPositionPnL  prometheus.Gauge
	DailyRealizedPnL prometheus.Gauge
	Equity           prometheus.Gauge
	Reconnections    prometheus.Counter
	CollectorErrors  prometheus.Counter
	OrdersPlaced     *prometheus.CounterVec
	WriteQueueDrops  prometheus.Counter
}

// New builds and registers all series against a fresh registry so tests and
// multiple bot instances in one process don't collide on the default
// global registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BarsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_bars_finalized_total",
			Help: "Number of 1-minute bars finalized by the aggregator.",
		}),
		SignalsByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_signals_total",
			Help: "Signals emitted, labeled by strategy tag and action.",
		}, []string{"strategy_tag", "action"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_trades_total",
			Help: "Closed trades, labeled by result (win|loss).",
		}, []string{"result"}),
		ExitReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_exit_reasons_total",
			Help: "Closed trades, labeled by exit reason and side.",
		}, []string{"reason", "side"}),
		OpenPositionPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_open_position_pnl_usd",
			Help: "Unrealized PnL of the currently open position, in quote currency.",
		}),
		DailyRealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_daily_realized_pnl_usd",
			Help: "Realized PnL accumulated since the last UTC daily reset.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_equity_usd",
			Help: "Initial capital plus realized PnL.",
		}),
		Reconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_collector_reconnections_total",
			Help: "WebSocket reconnect attempts by the market data collector.",
		}),
		CollectorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_collector_errors_total",
			Help: "Parse or transport errors observed by the market data collector.",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_orders_placed_total",
			Help: "Orders submitted to the exchange, labeled by side and order type.",
		}, []string{"side", "order_type"}),
		WriteQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_store_write_queue_drops_total",
			Help: "Persistence writes dropped because the write-through queue was full.",
		}),
	}

	reg.MustRegister(
		m.BarsFinalized, m.SignalsByType, m.TradesTotal, m.ExitReasons,
		m.OpenPositionPnL, m.DailyRealizedPnL, m.Equity,
		m.Reconnections, m.CollectorErrors, m.OrdersPlaced, m.WriteQueueDrops,
	)

	return m, reg
}
