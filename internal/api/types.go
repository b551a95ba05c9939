package api

import (
	"time"

	"auction-trader/pkg/types"
)

// DashboardSnapshot is the full read-only view of the running core, served
// by the /api/snapshot endpoint.
type DashboardSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	DryRun    bool           `json:"dry_run"`
	Quote     *QuoteSnapshot `json:"quote,omitempty"`
	Position  *PositionSnap  `json:"position,omitempty"`
	Stats     StatsSnapshot  `json:"stats"`
	Daily     []DailyPnLSnap `json:"daily_pnl"`
	Collector CollectorSnap  `json:"collector"`
}

// QuoteSnapshot is the latest observed top-of-book.
type QuoteSnapshot struct {
	TsMs  int64   `json:"ts_ms"`
	BidPx float64 `json:"bid_px"`
	BidSz float64 `json:"bid_sz"`
	AskPx float64 `json:"ask_px"`
	AskSz float64 `json:"ask_sz"`
	Mid   float64 `json:"mid"`
}

// PositionSnap is the open position, if any, valued at the latest mid.
type PositionSnap struct {
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	Size          float64 `json:"size"`
	OriginalSize  float64 `json:"original_size"`
	StopPrice     float64 `json:"stop_price"`
	TP1Price      float64 `json:"tp1_price"`
	TP2Price      float64 `json:"tp2_price"`
	TP1Hit        bool    `json:"tp1_hit"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	StrategyTag   string  `json:"strategy_tag"`
}

// StatsSnapshot summarizes realized trade history to date.
type StatsSnapshot struct {
	TotalTrades  int     `json:"total_trades"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	AvgPnL       float64 `json:"avg_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalFees    float64 `json:"total_fees"`
	TotalFunding float64 `json:"total_funding"`
	Equity       float64 `json:"equity"`
}

// DailyPnLSnap is one persisted day of realized PnL and trade counts.
type DailyPnLSnap struct {
	Date        string  `json:"date"`
	RealizedPnL float64 `json:"realized_pnl"`
	TradesCount int     `json:"trades_count"`
	WinCount    int     `json:"win_count"`
	LossCount   int     `json:"loss_count"`
}

// CollectorSnap reports market-data connection health.
type CollectorSnap struct {
	Connected      bool  `json:"connected"`
	TradesReceived int64 `json:"trades_received"`
	QuotesReceived int64 `json:"quotes_received"`
	Reconnections  int64 `json:"reconnections"`
	Errors         int64 `json:"errors"`
}

func newStatsSnapshot(s types.Stats, equity float64) StatsSnapshot {
	return StatsSnapshot{
		TotalTrades:  s.TotalTrades,
		Winners:      s.Winners,
		Losers:       s.Losers,
		WinRate:      s.WinRate,
		TotalPnL:     s.TotalPnL,
		AvgPnL:       s.AvgPnL,
		MaxDrawdown:  s.MaxDrawdown,
		TotalFees:    s.TotalFees,
		TotalFunding: s.TotalFunding,
		Equity:       equity,
	}
}

// FlattenRequest is the body of a manual /api/flatten POST.
type FlattenRequest struct {
	Price float64 `json:"price"`
}

// FlattenResponse reports the outcome of a manual flatten request.
type FlattenResponse struct {
	Reason string `json:"reason"`
}
