// Package signal implements the Auction Market Theory setup detector: the
// state machine that turns a feature vector into a HOLD/ENTER_LONG/
// ENTER_SHORT signal.
//
// Three setups compete each minute: break-in (mean reversion back into
// value), failed breakout (a fakeout reversal), and breakout (trend
// continuation after acceptance outside value). When more than one
// qualifies, break-in wins over failed breakout, which wins over breakout.
package signal

import (
	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

// candidate is a potential signal before priority resolution.
type candidate struct {
	signalType types.SignalType
	stop       float64
	tp1        float64
	tp2        float64
	reason     string
	confidence float64
}

// Engine carries the acceptance state and cooldown clock across feature
// events. It is owned by the single goroutine driving the market-data loop.
type Engine struct {
	cfg config.Config

	acceptance types.AcceptanceState

	havePrevZone bool
	prevZone     types.PriceZone

	haveLastSignalTs bool
	lastSignalTs     int64
}

// New returns an Engine configured from cfg.
func New(cfg config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Process runs one feature vector through the state machine and returns the
// resulting signal. Mutates acceptance and cooldown state as a side effect.
func (e *Engine) Process(features types.Features1m) types.Signal {
	if !features.VA.IsValid {
		return e.hold(features, "Invalid VA")
	}

	if e.inCooldown(features.TsMin) {
		return e.hold(features, "In cooldown")
	}

	zone := priceZone(features.MidClose, features.VA)
	e.updateAcceptance(zone, features)

	var candidates []candidate
	if c := e.checkBreakin(features, zone); c != nil {
		candidates = append(candidates, *c)
	}
	if c := e.checkFailedBreakout(features, zone); c != nil {
		candidates = append(candidates, *c)
	}
	if c := e.checkBreakout(features, zone); c != nil {
		candidates = append(candidates, *c)
	}

	e.havePrevZone = true
	e.prevZone = zone

	if len(candidates) == 0 {
		return e.hold(features, "No setup detected")
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.signalType.Priority() < winner.signalType.Priority() {
			winner = c
		}
	}

	e.haveLastSignalTs = true
	e.lastSignalTs = features.TsMin

	st := winner.signalType
	stop := winner.stop
	tp1 := winner.tp1
	tp2 := winner.tp2

	return types.Signal{
		TsMin:            features.TsMin,
		SignalType:       &st,
		Action:           signalAction(st),
		Stop:             &stop,
		TP1:              &tp1,
		TP2:              &tp2,
		StrategyTag:      st.StrategyTag(),
		Confidence:       winner.confidence,
		Reason:           winner.reason,
		FeaturesSnapshot: &features,
	}
}

func priceZone(price float64, va types.ValueArea) types.PriceZone {
	switch {
	case price > va.VAH:
		return types.ZoneAboveVAH
	case price < va.VAL:
		return types.ZoneBelowVAL
	default:
		return types.ZoneInsideVA
	}
}

func (e *Engine) updateAcceptance(zone types.PriceZone, features types.Features1m) {
	va := features.VA

	switch zone {
	case types.ZoneAboveVAH:
		if e.acceptance.ConsecutiveAboveVAH == 0 {
			e.acceptance.LockedVAH = va.VAH
			e.acceptance.SequenceStartTs = features.TsMin
		}
		e.acceptance.ConsecutiveAboveVAH++
		e.acceptance.ResetBelow()

	case types.ZoneBelowVAL:
		if e.acceptance.ConsecutiveBelowVAL == 0 {
			e.acceptance.LockedVAL = va.VAL
			e.acceptance.SequenceStartTs = features.TsMin
		}
		e.acceptance.ConsecutiveBelowVAL++
		e.acceptance.ResetAbove()

	default:
		e.acceptance.ResetAbove()
		e.acceptance.ResetBelow()
	}
}

// checkBreakin fires when price just re-entered the value area from outside,
// with order flow confirming the reversal.
func (e *Engine) checkBreakin(features types.Features1m, zone types.PriceZone) *candidate {
	if !e.havePrevZone {
		return nil
	}

	va := features.VA
	of := features.OrderFlow

	if e.prevZone == types.ZoneBelowVAL && zone == types.ZoneInsideVA {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFEntryMin, e.cfg.Signal.OFEntryMinNorm, e.cfg.OrderFlow.QIMBEntryMin, true) {
			return &candidate{
				signalType: types.BreakinLong,
				stop:       va.VAL - e.stopBuffer(),
				tp1:        va.POC,
				tp2:        va.VAH,
				reason:     "Break-in long: price returned to VA from below VAL",
				confidence: 1.0,
			}
		}
	}

	if e.prevZone == types.ZoneAboveVAH && zone == types.ZoneInsideVA {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFEntryMin, e.cfg.Signal.OFEntryMinNorm, e.cfg.OrderFlow.QIMBEntryMin, false) {
			return &candidate{
				signalType: types.BreakinShort,
				stop:       va.VAH + e.stopBuffer(),
				tp1:        va.POC,
				tp2:        va.VAL,
				reason:     "Break-in short: price returned to VA from above VAH",
				confidence: 1.0,
			}
		}
	}

	return nil
}

// checkFailedBreakout fires when price probed outside value for between one
// and k-1 bars before returning, never achieving acceptance.
func (e *Engine) checkFailedBreakout(features types.Features1m, zone types.PriceZone) *candidate {
	va := features.VA
	of := features.OrderFlow
	k := e.cfg.Signal.AcceptOutsideK

	if zone == types.ZoneInsideVA && e.prevZone == types.ZoneBelowVAL &&
		e.acceptance.ConsecutiveBelowVAL >= 1 && e.acceptance.ConsecutiveBelowVAL < k {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFFailMax, e.cfg.Signal.OFFailMaxNorm, e.cfg.OrderFlow.QIMBFailMax, true) {
			return &candidate{
				signalType: types.FailedBreakoutLong,
				stop:       va.VAL - e.stopBuffer(),
				tp1:        va.POC,
				tp2:        va.VAH,
				reason:     "Failed breakout long: price returning from below VAL before acceptance",
				confidence: 1.0,
			}
		}
	}

	if zone == types.ZoneInsideVA && e.prevZone == types.ZoneAboveVAH &&
		e.acceptance.ConsecutiveAboveVAH >= 1 && e.acceptance.ConsecutiveAboveVAH < k {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFFailMax, e.cfg.Signal.OFFailMaxNorm, e.cfg.OrderFlow.QIMBFailMax, false) {
			return &candidate{
				signalType: types.FailedBreakoutShort,
				stop:       va.VAH + e.stopBuffer(),
				tp1:        va.POC,
				tp2:        va.VAL,
				reason:     "Failed breakout short: price returning from above VAH before acceptance",
				confidence: 1.0,
			}
		}
	}

	return nil
}

// checkBreakout fires once price has closed outside value for k consecutive
// bars (acceptance), with order flow confirming continuation.
func (e *Engine) checkBreakout(features types.Features1m, zone types.PriceZone) *candidate {
	va := features.VA
	of := features.OrderFlow
	k := e.cfg.Signal.AcceptOutsideK

	if zone == types.ZoneAboveVAH && e.acceptance.ConsecutiveAboveVAH >= k {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFBreakoutMin, e.cfg.Signal.OFBreakoutMinNorm, e.cfg.OrderFlow.QIMBBreakoutMin, true) {
			stopRef := e.acceptance.LockedVAH
			if stopRef == 0 {
				stopRef = va.VAH
			}
			stop := stopRef - e.stopBuffer()
			risk := features.MidClose - stop
			return &candidate{
				signalType: types.BreakoutLong,
				stop:       stop,
				tp1:        features.MidClose + risk,
				tp2:        features.MidClose + 2*risk,
				reason:     "Breakout long: acceptance above VAH",
				confidence: 0.9,
			}
		}
	}

	if zone == types.ZoneBelowVAL && e.acceptance.ConsecutiveBelowVAL >= k {
		if e.checkOFCondition(of, features, e.cfg.Signal.OFBreakoutMin, e.cfg.Signal.OFBreakoutMinNorm, e.cfg.OrderFlow.QIMBBreakoutMin, false) {
			stopRef := e.acceptance.LockedVAL
			if stopRef == 0 {
				stopRef = va.VAL
			}
			stop := stopRef + e.stopBuffer()
			risk := stop - features.MidClose
			return &candidate{
				signalType: types.BreakoutShort,
				stop:       stop,
				tp1:        features.MidClose - risk,
				tp2:        features.MidClose - 2*risk,
				reason:     "Breakout short: acceptance below VAL",
				confidence: 0.9,
			}
		}
	}

	return nil
}

// checkOFCondition gates a candidate on both raw/normalized order flow and,
// when enabled, the QIMB EMA, mirroring the sign convention of is_long.
func (e *Engine) checkOFCondition(of types.OrderFlowMetrics, features types.Features1m, ofThreshold, ofNormThreshold, qimbThreshold float64, isLong bool) bool {
	var ofOK, qimbOK bool
	if isLong {
		ofOK = of.OF1m >= ofThreshold || of.OFNorm1m >= ofNormThreshold
		qimbOK = !e.cfg.OrderFlow.UseQIMB || features.QIMBEMA >= qimbThreshold
	} else {
		ofOK = of.OF1m <= -ofThreshold || of.OFNorm1m <= -ofNormThreshold
		qimbOK = !e.cfg.OrderFlow.UseQIMB || features.QIMBEMA <= -qimbThreshold
	}
	return ofOK && qimbOK
}

func (e *Engine) stopBuffer() float64 {
	return float64(e.cfg.Risk.StopBufferTicks) * e.cfg.Instrument.TickSize
}

func signalAction(st types.SignalType) types.Action {
	if st.IsLong() {
		return types.ActionEnterLong
	}
	return types.ActionEnterShort
}

func (e *Engine) inCooldown(currentTs int64) bool {
	if !e.haveLastSignalTs {
		return false
	}
	cooldownMs := int64(e.cfg.Risk.CooldownMinutes) * 60_000
	return currentTs-e.lastSignalTs < cooldownMs
}

func (e *Engine) hold(features types.Features1m, reason string) types.Signal {
	return types.Signal{
		TsMin:            features.TsMin,
		Action:           types.ActionHold,
		Reason:           reason,
		FeaturesSnapshot: &features,
	}
}

// Reset clears all engine state, used between backtest runs.
func (e *Engine) Reset() {
	e.acceptance = types.AcceptanceState{}
	e.havePrevZone = false
	e.prevZone = types.PriceZone(0)
	e.haveLastSignalTs = false
	e.lastSignalTs = 0
}
