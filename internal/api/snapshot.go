package api

import (
	"time"

	"auction-trader/internal/config"
	"auction-trader/internal/engine"
)

// BuildSnapshot aggregates state from the engine into a dashboard snapshot.
func BuildSnapshot(eng *engine.Engine, cfg config.Config) DashboardSnapshot {
	snap := DashboardSnapshot{
		Timestamp: time.Now(),
		Symbol:    cfg.Instrument.Symbol,
		DryRun:    cfg.DryRun,
	}

	if q, ok := eng.Collector().LatestQuote(); ok {
		snap.Quote = &QuoteSnapshot{
			TsMs:  q.TsMs,
			BidPx: q.BidPx,
			BidSz: q.BidSz,
			AskPx: q.AskPx,
			AskSz: q.AskSz,
			Mid:   q.Mid(),
		}
	}

	positions := eng.PositionManager()
	if pos, has := positions.Position(); has {
		mid := pos.EntryPrice
		if snap.Quote != nil {
			mid = snap.Quote.Mid
		}
		snap.Position = &PositionSnap{
			Side:          pos.Side.String(),
			EntryPrice:    pos.EntryPrice,
			Size:          pos.Size,
			OriginalSize:  pos.OriginalSize,
			StopPrice:     pos.StopPrice,
			TP1Price:      pos.TP1Price,
			TP2Price:      pos.TP2Price,
			TP1Hit:        pos.TP1Hit,
			UnrealizedPnL: pos.UnrealizedPnL(mid),
			StrategyTag:   pos.StrategyTag,
		}
	}

	snap.Stats = newStatsSnapshot(positions.GetStats(), positions.Equity())

	if daily, err := eng.Store().GetDailyPnL(); err == nil {
		snap.Daily = make([]DailyPnLSnap, 0, len(daily))
		for _, d := range daily {
			snap.Daily = append(snap.Daily, DailyPnLSnap{
				Date:        d.Date,
				RealizedPnL: d.RealizedPnL,
				TradesCount: d.TradesCount,
				WinCount:    d.WinCount,
				LossCount:   d.LossCount,
			})
		}
	}

	cstats := eng.Collector().Stats()
	snap.Collector = CollectorSnap{
		Connected:      cstats.LastTradeTsMs > 0 || cstats.LastQuoteTsMs > 0,
		TradesReceived: cstats.TradesReceived,
		QuotesReceived: cstats.QuotesReceived,
		Reconnections:  cstats.Reconnections,
		Errors:         cstats.Errors,
	}

	return snap
}
