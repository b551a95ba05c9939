package store

import (
	"testing"
	"time"

	"auction-trader/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "test.db", "BTCUSDT")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// waitDrained gives the background write goroutine a moment to apply a
// just-enqueued write before a synchronous read checks for it.
func waitDrained() {
	time.Sleep(20 * time.Millisecond)
}

func TestSaveAndGetPosition(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	pos := types.Position{
		EntryTs:      1700000000000,
		Side:         types.Long,
		EntryPrice:   42000,
		Size:         0.5,
		OriginalSize: 0.5,
		StopPrice:    41500,
		TP1Price:     42500,
		TP2Price:     43000,
		StrategyTag:  "breakin_long",
		FeesPaid:     2.1,
	}
	s.SavePosition(pos)
	waitDrained()

	loaded, err := s.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("GetPosition returned nil")
	}
	if loaded.EntryPrice != pos.EntryPrice || loaded.Side != pos.Side || loaded.StopPrice != pos.StopPrice {
		t.Errorf("loaded = %+v, want matching %+v", loaded, pos)
	}

	s.DeletePosition()
	waitDrained()

	loaded, err = s.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition after delete: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil position after delete, got %+v", loaded)
	}
}

func TestGetPositionMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	pos, err := s.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Errorf("expected nil for missing position, got %+v", pos)
	}
}

func TestSaveTradeUpdatesStatsAndDailyPnL(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	winner := types.TradeRecord{
		EntryTs: 1700000000000, ExitTs: 1700000600000,
		Side: types.Long, EntryPrice: 100, ExitPrice: 110, Size: 1,
		PnLGross: 10, PnLNet: 9, Fees: 1, ExitReason: types.ExitTP2,
		StrategyTag: "breakin_long", HoldMinutes: 10,
	}
	loser := types.TradeRecord{
		EntryTs: 1700000700000, ExitTs: 1700001000000,
		Side: types.Short, EntryPrice: 100, ExitPrice: 103, Size: 1,
		PnLGross: -3, PnLNet: -4, Fees: 1, ExitReason: types.ExitStopLoss,
		StrategyTag: "breakin_short", HoldMinutes: 5,
	}
	s.SaveTrade(winner)
	s.SaveTrade(loser)
	waitDrained()

	trades, err := s.GetTrades(0)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	// Most recent exit first.
	if trades[0].ExitReason != types.ExitStopLoss {
		t.Errorf("trades[0].ExitReason = %v, want ExitStopLoss", trades[0].ExitReason)
	}

	stats, err := s.GetTradeStats()
	if err != nil {
		t.Fatalf("GetTradeStats: %v", err)
	}
	if stats.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", stats.TotalTrades)
	}
	if stats.Winners != 1 || stats.Losers != 1 {
		t.Errorf("Winners/Losers = %d/%d, want 1/1", stats.Winners, stats.Losers)
	}
	if stats.TotalPnL != 5 {
		t.Errorf("TotalPnL = %v, want 5", stats.TotalPnL)
	}

	daily, err := s.GetDailyPnL()
	if err != nil {
		t.Fatalf("GetDailyPnL: %v", err)
	}
	if len(daily) != 1 {
		t.Fatalf("len(daily) = %d, want 1 (both trades same UTC day)", len(daily))
	}
	if daily[0].TradesCount != 2 || daily[0].WinCount != 1 || daily[0].LossCount != 1 {
		t.Errorf("daily[0] = %+v, unexpected counts", daily[0])
	}
}

func TestGetEquityCurveAccumulatesFromInitialCapital(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.SaveTrade(types.TradeRecord{ExitTs: 1000, PnLNet: 50, ExitReason: types.ExitTP1})
	s.SaveTrade(types.TradeRecord{ExitTs: 2000, PnLNet: -20, ExitReason: types.ExitStopLoss})
	waitDrained()

	curve, err := s.GetEquityCurve(10000)
	if err != nil {
		t.Fatalf("GetEquityCurve: %v", err)
	}
	if len(curve) != 3 {
		t.Fatalf("len(curve) = %d, want 3", len(curve))
	}
	if curve[0].Equity != 10000 {
		t.Errorf("curve[0].Equity = %v, want 10000", curve[0].Equity)
	}
	if got := curve[len(curve)-1].Equity; got != 10030 {
		t.Errorf("final equity = %v, want 10030", got)
	}
}

func TestSaveBarAndFeaturesRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	bar := types.Bar1m{TsMin: 28333333, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 12, VWAP: 100.2, TradeCount: 30}
	s.SaveBar(bar)

	features := types.Features1m{
		TsMin: bar.TsMin, MidClose: 100.5, Sigma240: 0.4, BinWidth: 0.1,
		VA: types.ValueArea{POC: 100, VAH: 101, VAL: 99, IsValid: true},
	}
	s.SaveFeatures(features)
	waitDrained()

	if err := s.LastWriteError(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	var gotClose, gotVWAP float64
	if err := s.db.QueryRow(`SELECT close, vwap FROM bars_1m WHERE ts_min = ? AND symbol = ?`, bar.TsMin, "BTCUSDT").Scan(&gotClose, &gotVWAP); err != nil {
		t.Fatalf("read back bar: %v", err)
	}
	if gotClose != bar.Close || gotVWAP != bar.VWAP {
		t.Errorf("bar close/vwap = %v/%v, want %v/%v", gotClose, gotVWAP, bar.Close, bar.VWAP)
	}

	var gotMid, gotPOC float64
	if err := s.db.QueryRow(`SELECT mid_close, va_poc FROM features_1m WHERE ts_min = ? AND symbol = ?`, features.TsMin, "BTCUSDT").Scan(&gotMid, &gotPOC); err != nil {
		t.Fatalf("read back features: %v", err)
	}
	if gotMid != features.MidClose || gotPOC != features.VA.POC {
		t.Errorf("features mid/poc = %v/%v, want %v/%v", gotMid, gotPOC, features.MidClose, features.VA.POC)
	}
}

func TestSaveTickAndQuote(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.SaveTick(types.Trade{TsMs: 1700000000000, Price: 42000, Size: 0.2})
	s.SaveQuote(types.Quote{TsMs: 1700000000100, BidPx: 41999, BidSz: 1, AskPx: 42001, AskSz: 1})
	waitDrained()

	if err := s.LastWriteError(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	// Fill the queue past capacity; enqueue must never block and the store
	// must still be usable afterward.
	for i := 0; i < writeQueueSize*2; i++ {
		s.SaveTick(types.Trade{TsMs: int64(i), Price: 1, Size: 1})
	}
	waitDrained()

	s.SaveTick(types.Trade{TsMs: 999999, Price: 2, Size: 2})
	waitDrained()

	if err := s.LastWriteError(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
}

func TestSaveOrderUpsertsByOrderID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	o := types.OrderRecord{OrderID: "abc123", Symbol: "BTCUSDT", Side: types.Long, OrderType: "Limit", Price: 42000, Qty: 0.1, Status: "New"}
	s.SaveOrder(o)
	waitDrained()

	o.Status = "Filled"
	o.FilledQty = 0.1
	o.AvgPrice = 42001
	s.SaveOrder(o)
	waitDrained()

	if err := s.LastWriteError(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
}
