// Package bar folds a stream of trades and quotes into closed one-minute
// bars and keeps a bounded rolling history of them. It is owned by a single
// goroutine: the market-data event loop that also drives the feature and
// signal engines.
package bar

import (
	"auction-trader/pkg/types"
)

// QuotedTrade pairs a trade with the most recent quote known at the moment
// it arrived, the input the feature engine's production order-flow
// classifier needs (HasQuote is false before any quote has been seen).
type QuotedTrade struct {
	Trade     types.Trade
	Quote     types.Quote
	QuoteTsMs int64
	HasQuote  bool
}

// Aggregator accumulates trades into the current minute and emits a closed
// Bar1m each time a trade arrives for a later minute. It never itself
// advances the clock: absence of trades means absence of bars, by design.
type Aggregator struct {
	currentBarStart int64
	haveBar         bool
	buffer          []QuotedTrade
	latestQuote     types.Quote
	haveQuote       bool
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// FeedQuote records the latest top-of-book snapshot. Quotes never trigger a
// bar boundary on their own.
func (a *Aggregator) FeedQuote(q types.Quote) {
	a.latestQuote = q
	a.haveQuote = true
}

// FeedTrade buffers a trade, finalizing and returning the previous bar (plus
// the quoted trades that made it up) if this trade belongs to a later
// minute. ok is false when no bar closed.
func (a *Aggregator) FeedTrade(t types.Trade) (finalized types.Bar1m, trades []QuotedTrade, ok bool) {
	tradeMinute := floorToMinute(t.TsMs)
	qt := a.snapshot(t)

	if !a.haveBar {
		a.currentBarStart = tradeMinute
		a.haveBar = true
		a.buffer = append(a.buffer[:0], qt)
		return types.Bar1m{}, nil, false
	}

	if tradeMinute < a.currentBarStart {
		return types.Bar1m{}, nil, false
	}

	if tradeMinute > a.currentBarStart {
		finalized, trades, ok = a.finalize()
		a.currentBarStart = tradeMinute
		a.buffer = append(a.buffer[:0], qt)
		return finalized, trades, ok
	}

	a.buffer = append(a.buffer, qt)
	return types.Bar1m{}, nil, false
}

func (a *Aggregator) snapshot(t types.Trade) QuotedTrade {
	return QuotedTrade{Trade: t, Quote: a.latestQuote, HasQuote: a.haveQuote}
}

// finalize builds a Bar1m from the buffered trades and the latest quote,
// dropping silently when either is unavailable per the no-quote/no-volume rule.
func (a *Aggregator) finalize() (types.Bar1m, []QuotedTrade, bool) {
	if len(a.buffer) == 0 || !a.haveQuote {
		return types.Bar1m{}, nil, false
	}

	var (
		totalVolume float64
		pxVolSum    float64
		open        = a.buffer[0].Trade.Price
		high        = a.buffer[0].Trade.Price
		low         = a.buffer[0].Trade.Price
		close       = a.buffer[len(a.buffer)-1].Trade.Price
	)

	for _, qt := range a.buffer {
		t := qt.Trade
		totalVolume += t.Size
		pxVolSum += t.Price * t.Size
		if t.Price > high {
			high = t.Price
		}
		if t.Price < low {
			low = t.Price
		}
	}

	if totalVolume <= 0 {
		return types.Bar1m{}, nil, false
	}

	vwap := pxVolSum / totalVolume

	trades := make([]QuotedTrade, len(a.buffer))
	copy(trades, a.buffer)

	return types.Bar1m{
		TsMin:      a.currentBarStart,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     totalVolume,
		VWAP:       vwap,
		TradeCount: len(a.buffer),
		BidPxClose: a.latestQuote.BidPx,
		AskPxClose: a.latestQuote.AskPx,
		BidSzClose: a.latestQuote.BidSz,
		AskSzClose: a.latestQuote.AskSz,
	}, trades, true
}

func floorToMinute(tsMs int64) int64 {
	const minuteMs = 60_000
	if tsMs >= 0 {
		return (tsMs / minuteMs) * minuteMs
	}
	// integer division truncates toward zero; adjust negative timestamps down.
	q := tsMs / minuteMs
	if tsMs%minuteMs != 0 {
		q--
	}
	return q * minuteMs
}
