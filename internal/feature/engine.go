// Package feature turns closed bars into the feature vector the signal
// engine consumes: rolling volatility, an adaptive volume-profile value
// area, order-flow imbalance, and the quote-size-imbalance EMA.
package feature

import (
	"fmt"
	"math"
	"sort"

	"auction-trader/internal/bar"
	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

// Engine computes Features1m from a rolling bar history. It keeps no state
// of its own beyond the QIMB EMA, which genuinely needs to carry across bars.
type Engine struct {
	cfg config.Config

	haveQIMBEMA bool
	qimbEMA     float64
}

// New returns an Engine configured from cfg.
func New(cfg config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compute builds the feature vector for the bar that just closed. history
// must include the bar itself as its last element, oldest first, already
// trimmed by the caller to the configured rolling window. quotedTrades are
// the trades that built the bar, each tagged with the quote known when it
// arrived; pass nil to fall back to the close-position approximation.
func (e *Engine) Compute(bar_ types.Bar1m, history []types.Bar1m, quotedTrades []bar.QuotedTrade) types.Features1m {
	sigma := e.rollingVolatility(history, 0.01)

	tickSize := e.cfg.Instrument.TickSize
	alpha := e.cfg.ValueArea.AlphaBin
	maxWidth := tickSize * float64(e.cfg.ValueArea.BinWidthMaxTicks)
	binWidth := math.Max(tickSize, math.Min(sigma*alpha*bar_.Close, maxWidth))

	va := e.computeValueArea(history, binWidth)
	orderFlow := e.computeOrderFlow(bar_, quotedTrades)

	qimbClose := bar_.QIMBClose()
	e.advanceQIMBEMA(qimbClose)

	spreadBars := history
	if len(spreadBars) > 60 {
		spreadBars = spreadBars[len(spreadBars)-60:]
	}
	var spreadSum float64
	for _, b := range spreadBars {
		spreadSum += b.SpreadClose()
	}
	spreadAvg := 0.0
	if len(spreadBars) > 0 {
		spreadAvg = spreadSum / float64(len(spreadBars))
	}

	return types.Features1m{
		TsMin:        bar_.TsMin,
		MidClose:     bar_.MidClose(),
		Sigma240:     sigma,
		BinWidth:     binWidth,
		VA:           va,
		OrderFlow:    orderFlow,
		QIMBClose:    qimbClose,
		QIMBEMA:      e.qimbEMA,
		SpreadAvg60m: spreadAvg,
	}
}

// rollingVolatility is the sample stddev of consecutive close-to-close
// returns.
func (e *Engine) rollingVolatility(bars []types.Bar1m, defaultVal float64) float64 {
	if len(bars) < 2 {
		return defaultVal
	}

	var returns []float64
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (bars[i].Close-prev)/prev)
	}
	if len(returns) < 2 {
		return defaultVal
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	if variance <= 0 {
		return defaultVal
	}
	return math.Sqrt(variance)
}

// advanceQIMBEMA folds qimbClose into the running EMA. The half-life is
// derived from the spread lookback window: a quarter of it, in minutes,
// since bars are one minute apart.
func (e *Engine) advanceQIMBEMA(qimbClose float64) {
	if !e.haveQIMBEMA {
		e.qimbEMA = qimbClose
		e.haveQIMBEMA = true
		return
	}
	halfLife := float64(e.cfg.OrderFlow.SpreadLookbackMinutes) / 4
	if halfLife <= 0 {
		halfLife = 1
	}
	lambda := 1 - math.Pow(0.5, 1/halfLife)
	e.qimbEMA = lambda*qimbClose + (1-lambda)*e.qimbEMA
}

// computeValueArea builds a volume profile keyed by price bin and expands
// outward from the point of control until it covers va_fraction of volume.
func (e *Engine) computeValueArea(bars []types.Bar1m, binWidth float64) types.ValueArea {
	if len(bars) == 0 || binWidth <= 0 {
		return types.InvalidValueArea()
	}

	volumeByBin := make(map[int]float64)
	var totalVolume float64

	for _, b := range bars {
		price := b.VWAP
		if price == 0 {
			price = b.Close
		}
		binIdx := int(price / binWidth)
		volumeByBin[binIdx] += b.Volume
		totalVolume += b.Volume
	}

	if totalVolume == 0 || len(volumeByBin) < e.cfg.ValueArea.MinVABins {
		return types.InvalidValueArea()
	}

	sortedBins := make([]int, 0, len(volumeByBin))
	for k := range volumeByBin {
		sortedBins = append(sortedBins, k)
	}
	sort.Ints(sortedBins)

	pocBin := sortedBins[0]
	for _, b := range sortedBins {
		if volumeByBin[b] > volumeByBin[pocBin] {
			pocBin = b
		}
	}
	poc := (float64(pocBin) + 0.5) * binWidth

	targetVolume := totalVolume * e.cfg.ValueArea.VAFraction

	vaBins := map[int]bool{pocBin: true}
	currentVolume := volumeByBin[pocBin]

	pocIdx := 0
	for i, b := range sortedBins {
		if b == pocBin {
			pocIdx = i
			break
		}
	}
	upperIdx := pocIdx + 1
	lowerIdx := pocIdx - 1

	for currentVolume < targetVolume {
		var upperVol, lowerVol float64
		if upperIdx < len(sortedBins) {
			upperVol = volumeByBin[sortedBins[upperIdx]]
		}
		if lowerIdx >= 0 {
			lowerVol = volumeByBin[sortedBins[lowerIdx]]
		}

		if upperVol == 0 && lowerVol == 0 {
			break
		}

		if upperVol >= lowerVol {
			if upperIdx < len(sortedBins) {
				vaBins[sortedBins[upperIdx]] = true
				currentVolume += upperVol
				upperIdx++
			}
		} else {
			if lowerIdx >= 0 {
				vaBins[sortedBins[lowerIdx]] = true
				currentVolume += lowerVol
				lowerIdx--
			}
		}
	}

	vahBin, valBin := pocBin, pocBin
	first := true
	for b := range vaBins {
		if first {
			vahBin, valBin = b, b
			first = false
			continue
		}
		if b > vahBin {
			vahBin = b
		}
		if b < valBin {
			valBin = b
		}
	}

	vah := float64(vahBin+1) * binWidth
	val := float64(valBin) * binWidth

	coverage := 0.0
	if totalVolume > 0 {
		coverage = currentVolume / totalVolume
	}

	return types.ValueArea{
		POC:         poc,
		VAH:         vah,
		VAL:         val,
		Coverage:    coverage,
		BinCount:    len(vaBins),
		TotalVolume: totalVolume,
		BinWidth:    binWidth,
		IsValid:     true,
	}
}

// computeOrderFlow classifies buy/sell volume for the bar. When quotedTrades
// are available it classifies each trade against the quote known at the
// moment it arrived; otherwise it falls back to the close-position
// approximation against the bar's own OHLC range.
func (e *Engine) computeOrderFlow(b types.Bar1m, quotedTrades []bar.QuotedTrade) types.OrderFlowMetrics {
	if len(quotedTrades) > 0 {
		return e.classifyTrades(b, quotedTrades)
	}
	return closePositionOrderFlow(b)
}

func (e *Engine) classifyTrades(b types.Bar1m, quotedTrades []bar.QuotedTrade) types.OrderFlowMetrics {
	maxStaleMs := int64(e.cfg.OrderFlow.MaxQuoteStalenessMs)

	sides := make([]types.TradeSide, len(quotedTrades))
	buyVolume, sellVolume, ambiguousVolume := 0.0, 0.0, 0.0
	for i, qt := range quotedTrades {
		sides[i] = classifyTrade(qt, maxStaleMs)
		switch sides[i] {
		case types.TradeBuy:
			buyVolume += qt.Trade.Size
		case types.TradeSell:
			sellVolume += qt.Trade.Size
		default:
			ambiguousVolume += qt.Trade.Size
		}
	}

	totalVolume := buyVolume + sellVolume + ambiguousVolume
	ambiguousFrac := 0.0
	if totalVolume > 0 {
		ambiguousFrac = ambiguousVolume / totalVolume
	}

	if totalVolume > 0 && ambiguousFrac > e.cfg.OrderFlow.AmbiguousTradeFracMax && e.cfg.OrderFlow.UseTickRuleFallback {
		buyVolume, sellVolume, ambiguousVolume = applyTickRule(quotedTrades, sides)
		ambiguousFrac = ambiguousVolume / totalVolume
	}

	ofRaw := buyVolume - sellVolume
	ofNorm := 0.0
	if totalVolume > 0 {
		ofNorm = ofRaw / totalVolume
	}

	return types.OrderFlowMetrics{
		OF1m:            ofRaw,
		OFNorm1m:        ofNorm,
		TotalVolume:     totalVolume,
		BuyVolume:       buyVolume,
		SellVolume:      sellVolume,
		AmbiguousVolume: ambiguousVolume,
		AmbiguousFrac:   ambiguousFrac,
	}
}

// applyTickRule reclassifies trades the quote rule left ambiguous by the
// sign of the price change from the immediately preceding trade: an uptick
// is a buy, a downtick is a sell, a flat tick stays ambiguous. Used only
// when the quote-rule ambiguous fraction exceeds order_flow.ambiguous_trade_frac_max.
func applyTickRule(quotedTrades []bar.QuotedTrade, sides []types.TradeSide) (buyVolume, sellVolume, ambiguousVolume float64) {
	for i, qt := range quotedTrades {
		side := sides[i]
		if side == types.TradeAmbiguous && i > 0 {
			switch prev := quotedTrades[i-1].Trade.Price; {
			case qt.Trade.Price > prev:
				side = types.TradeBuy
			case qt.Trade.Price < prev:
				side = types.TradeSell
			}
		}
		switch side {
		case types.TradeBuy:
			buyVolume += qt.Trade.Size
		case types.TradeSell:
			sellVolume += qt.Trade.Size
		default:
			ambiguousVolume += qt.Trade.Size
		}
	}
	return buyVolume, sellVolume, ambiguousVolume
}

// classifyTrade applies the quote rule: a trade at or above the ask known
// when it arrived is a buy, at or below the bid is a sell, otherwise it is
// ambiguous. A stale or missing quote is always ambiguous.
func classifyTrade(qt bar.QuotedTrade, maxStaleMs int64) types.TradeSide {
	if !qt.HasQuote {
		return types.TradeAmbiguous
	}
	if quoteStaleness(qt, maxStaleMs) != nil {
		return types.TradeAmbiguous
	}
	switch {
	case qt.Trade.Price >= qt.Quote.AskPx:
		return types.TradeBuy
	case qt.Trade.Price <= qt.Quote.BidPx:
		return types.TradeSell
	default:
		return types.TradeAmbiguous
	}
}

// CheckValueArea reports ErrInvalidVA when va does not meet the configured
// minimum bin coverage, the condition under which signal logic must treat
// the bar as having no usable value area.
func (e *Engine) CheckValueArea(va types.ValueArea) error {
	if !va.IsValid {
		return fmt.Errorf("bins=%d min=%d: %w", va.BinCount, e.cfg.ValueArea.MinVABins, ErrInvalidVA)
	}
	return nil
}

// quoteStaleness reports ErrStaleQuote when the quote known at the time a
// trade arrived is older than maxStaleMs. A non-positive threshold disables
// the check.
func quoteStaleness(qt bar.QuotedTrade, maxStaleMs int64) error {
	if maxStaleMs <= 0 {
		return nil
	}
	if age := qt.Trade.TsMs - qt.Quote.TsMs; age > maxStaleMs {
		return fmt.Errorf("trade at %d, quote age %dms: %w", qt.Trade.TsMs, age, ErrStaleQuote)
	}
	return nil
}

// closePositionOrderFlow estimates buy/sell split from where close sits in
// the bar's own high-low range, used when no per-trade quote history exists.
func closePositionOrderFlow(b types.Bar1m) types.OrderFlowMetrics {
	barRange := b.High - b.Low
	closePosition := 0.5
	if barRange > 0 {
		closePosition = (b.Close - b.Low) / barRange
	}

	buyVolume := b.Volume * closePosition
	sellVolume := b.Volume * (1 - closePosition)

	ofRaw := buyVolume - sellVolume
	ofNorm := 0.0
	if b.Volume > 0 {
		ofNorm = ofRaw / b.Volume
	}

	return types.OrderFlowMetrics{
		OF1m:            ofRaw,
		OFNorm1m:        ofNorm,
		TotalVolume:     b.Volume,
		BuyVolume:       buyVolume,
		SellVolume:      sellVolume,
		AmbiguousVolume: 0,
		AmbiguousFrac:   0,
	}
}
