package feature

import (
	"errors"
	"math"
	"testing"

	"auction-trader/internal/bar"
	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Instrument.TickSize = 0.1
	cfg.ValueArea.VAFraction = 0.70
	cfg.ValueArea.AlphaBin = 0.25
	cfg.ValueArea.BinWidthMaxTicks = 200
	cfg.ValueArea.MinVABins = 20
	cfg.OrderFlow.MaxQuoteStalenessMs = 250
	cfg.OrderFlow.SpreadLookbackMinutes = 60
	return cfg
}

func TestRollingVolatilityDefaultsBelowTwoBars(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	if got := e.rollingVolatility(nil, 0.01); got != 0.01 {
		t.Errorf("rollingVolatility(nil) = %v, want default 0.01", got)
	}
	bars := []types.Bar1m{{Close: 100}}
	if got := e.rollingVolatility(bars, 0.01); got != 0.01 {
		t.Errorf("rollingVolatility(1 bar) = %v, want default 0.01", got)
	}
}

func TestRollingVolatilityComputesStddevOfReturns(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	bars := []types.Bar1m{{Close: 100}, {Close: 101}, {Close: 99}, {Close: 100}}
	got := e.rollingVolatility(bars, 0.01)
	if got <= 0 {
		t.Errorf("rollingVolatility = %v, want > 0", got)
	}
}

func TestComputeValueAreaInvalidBelowMinBins(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	bars := []types.Bar1m{{Close: 100, VWAP: 100, Volume: 10}}
	va := e.computeValueArea(bars, 1.0)
	if va.IsValid {
		t.Error("want invalid value area with a single bin, below min_va_bins")
	}
}

func TestCheckValueAreaReportsErrInvalidVA(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	bars := []types.Bar1m{{Close: 100, VWAP: 100, Volume: 10}}
	va := e.computeValueArea(bars, 1.0)

	err := e.CheckValueArea(va)
	if !errors.Is(err, ErrInvalidVA) {
		t.Fatalf("CheckValueArea(invalid) = %v, want ErrInvalidVA", err)
	}
}

func TestCheckValueAreaAcceptsValid(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ValueArea.MinVABins = 1
	e := New(cfg)
	bars := []types.Bar1m{{Close: 100, VWAP: 100, Volume: 10}}
	va := e.computeValueArea(bars, 1.0)

	if err := e.CheckValueArea(va); err != nil {
		t.Errorf("CheckValueArea(valid) = %v, want nil", err)
	}
}

func TestComputeValueAreaExpandsAroundPOC(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ValueArea.MinVABins = 3
	cfg.ValueArea.VAFraction = 0.7
	e := New(cfg)

	var bars []types.Bar1m
	prices := []float64{100, 101, 102, 103, 104, 105, 106}
	volumes := []float64{1, 2, 3, 20, 3, 2, 1}
	for i, p := range prices {
		bars = append(bars, types.Bar1m{Close: p, VWAP: p, Volume: volumes[i]})
	}

	va := e.computeValueArea(bars, 1.0)
	if !va.IsValid {
		t.Fatal("want valid value area")
	}
	if va.POC < 103 || va.POC > 104 {
		t.Errorf("POC = %v, want near the heaviest bin (103-104)", va.POC)
	}
	if va.VAL > va.POC || va.VAH < va.POC {
		t.Errorf("VAL/VAH = %v/%v must bracket POC %v", va.VAL, va.VAH, va.POC)
	}
	if va.Coverage < cfg.ValueArea.VAFraction {
		t.Errorf("coverage = %v, want >= %v", va.Coverage, cfg.ValueArea.VAFraction)
	}
}

func TestComputeOrderFlowClosePositionFallback(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	b := types.Bar1m{Open: 100, High: 110, Low: 90, Close: 105, Volume: 10}
	of := e.computeOrderFlow(b, nil)

	if of.TotalVolume != 10 {
		t.Errorf("TotalVolume = %v, want 10", of.TotalVolume)
	}
	wantBuyFrac := (105.0 - 90) / (110 - 90)
	wantBuy := 10 * wantBuyFrac
	if math.Abs(of.BuyVolume-wantBuy) > 1e-9 {
		t.Errorf("BuyVolume = %v, want %v", of.BuyVolume, wantBuy)
	}
	if of.AmbiguousVolume != 0 {
		t.Errorf("AmbiguousVolume = %v, want 0", of.AmbiguousVolume)
	}
}

func TestComputeOrderFlowClassifiesByQuote(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	b := types.Bar1m{Open: 100, High: 101, Low: 99, Close: 100, Volume: 3}
	quote := types.Quote{TsMs: 0, BidPx: 99.9, AskPx: 100.1}
	trades := []bar.QuotedTrade{
		{Trade: types.Trade{TsMs: 1, Price: 100.1, Size: 1}, Quote: quote, HasQuote: true},
		{Trade: types.Trade{TsMs: 2, Price: 99.9, Size: 1}, Quote: quote, HasQuote: true},
		{Trade: types.Trade{TsMs: 3, Price: 100.0, Size: 1}, Quote: quote, HasQuote: true},
	}

	of := e.computeOrderFlow(b, trades)
	if of.BuyVolume != 1 || of.SellVolume != 1 || of.AmbiguousVolume != 1 {
		t.Errorf("buy/sell/ambiguous = %v/%v/%v, want 1/1/1", of.BuyVolume, of.SellVolume, of.AmbiguousVolume)
	}
}

func TestComputeOrderFlowStaleQuoteIsAmbiguous(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OrderFlow.MaxQuoteStalenessMs = 100
	e := New(cfg)

	b := types.Bar1m{Volume: 1}
	quote := types.Quote{TsMs: 0, BidPx: 99, AskPx: 101}
	trades := []bar.QuotedTrade{
		{Trade: types.Trade{TsMs: 1000, Price: 101, Size: 1}, Quote: quote, HasQuote: true},
	}

	of := e.computeOrderFlow(b, trades)
	if of.AmbiguousVolume != 1 {
		t.Errorf("AmbiguousVolume = %v, want 1 (stale quote)", of.AmbiguousVolume)
	}
}

func TestComputeOrderFlowTickRuleReclassifiesAmbiguous(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OrderFlow.AmbiguousTradeFracMax = 0.1
	cfg.OrderFlow.UseTickRuleFallback = true
	e := New(cfg)

	b := types.Bar1m{Volume: 4}
	trades := []bar.QuotedTrade{
		{Trade: types.Trade{TsMs: 1, Price: 100, Size: 1}}, // no prior trade, stays ambiguous
		{Trade: types.Trade{TsMs: 2, Price: 101, Size: 1}}, // uptick -> buy
		{Trade: types.Trade{TsMs: 3, Price: 99, Size: 1}},  // downtick -> sell
		{Trade: types.Trade{TsMs: 4, Price: 99, Size: 1}},  // flat tick, stays ambiguous
	}

	of := e.computeOrderFlow(b, trades)
	if of.BuyVolume != 1 || of.SellVolume != 1 || of.AmbiguousVolume != 2 {
		t.Errorf("buy/sell/ambiguous = %v/%v/%v, want 1/1/2", of.BuyVolume, of.SellVolume, of.AmbiguousVolume)
	}
}

func TestComputeOrderFlowTickRuleSkippedBelowThreshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OrderFlow.AmbiguousTradeFracMax = 0.9
	cfg.OrderFlow.UseTickRuleFallback = true
	e := New(cfg)

	b := types.Bar1m{Volume: 2}
	quote := types.Quote{TsMs: 0, BidPx: 99.9, AskPx: 100.1}
	trades := []bar.QuotedTrade{
		{Trade: types.Trade{TsMs: 1, Price: 100.1, Size: 1}, Quote: quote, HasQuote: true},
		{Trade: types.Trade{TsMs: 2, Price: 100.0, Size: 1}, Quote: quote, HasQuote: true},
	}

	of := e.computeOrderFlow(b, trades)
	if of.AmbiguousVolume != 1 {
		t.Errorf("AmbiguousVolume = %v, want 1 (below ambiguous_trade_frac_max, fallback not applied)", of.AmbiguousVolume)
	}
}

func TestAdvanceQIMBEMASeedsOnFirstCall(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	e.advanceQIMBEMA(0.5)
	if e.qimbEMA != 0.5 {
		t.Errorf("qimbEMA after seed = %v, want 0.5", e.qimbEMA)
	}

	e.advanceQIMBEMA(-0.5)
	if e.qimbEMA == 0.5 || e.qimbEMA == -0.5 {
		t.Errorf("qimbEMA after second update = %v, want smoothed value strictly between", e.qimbEMA)
	}
}

func TestComputeReturnsFullFeatureVector(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	history := []types.Bar1m{
		{TsMin: 0, Close: 100, VWAP: 100, Volume: 10, BidPxClose: 99.9, AskPxClose: 100.1},
		{TsMin: 60_000, Close: 101, VWAP: 101, Volume: 10, BidPxClose: 100.9, AskPxClose: 101.1},
	}
	latest := history[len(history)-1]

	feat := e.Compute(latest, history, nil)
	if feat.TsMin != latest.TsMin {
		t.Errorf("TsMin = %d, want %d", feat.TsMin, latest.TsMin)
	}
	if feat.BinWidth <= 0 {
		t.Error("BinWidth must be positive")
	}
	if feat.QIMBEMA != feat.QIMBClose {
		t.Errorf("first-ever QIMBEMA should equal QIMBClose, got %v vs %v", feat.QIMBEMA, feat.QIMBClose)
	}
}
