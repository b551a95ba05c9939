package signal

import (
	"testing"

	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Instrument.TickSize = 0.1
	cfg.Signal.AcceptOutsideK = 3
	cfg.Signal.OFEntryMin = 0
	cfg.Signal.OFEntryMinNorm = 0.1
	cfg.Signal.OFBreakoutMin = 0
	cfg.Signal.OFBreakoutMinNorm = 0.1
	cfg.Signal.OFFailMax = 0
	cfg.Signal.OFFailMaxNorm = -0.1
	cfg.OrderFlow.UseQIMB = true
	cfg.OrderFlow.QIMBEntryMin = 0.10
	cfg.OrderFlow.QIMBBreakoutMin = 0.10
	cfg.OrderFlow.QIMBFailMax = -0.10
	cfg.Risk.StopBufferTicks = 2
	cfg.Risk.CooldownMinutes = 3
	return cfg
}

func validVA() types.ValueArea {
	return types.ValueArea{POC: 100, VAH: 105, VAL: 95, IsValid: true, Coverage: 0.7}
}

func featuresAt(ts int64, mid float64, va types.ValueArea, of types.OrderFlowMetrics, qimbEMA float64) types.Features1m {
	return types.Features1m{TsMin: ts, MidClose: mid, VA: va, OrderFlow: of, QIMBEMA: qimbEMA}
}

func TestProcessHoldsOnInvalidVA(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	sig := e.Process(types.Features1m{TsMin: 0, VA: types.InvalidValueArea()})
	if sig.Action != types.ActionHold {
		t.Errorf("Action = %v, want Hold", sig.Action)
	}
}

func TestProcessHoldsInsideValueAreaWithNoAcceptance(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	sig := e.Process(featuresAt(0, 100, validVA(), types.OrderFlowMetrics{}, 0))
	if sig.Action != types.ActionHold {
		t.Errorf("Action = %v, want Hold", sig.Action)
	}
}

func TestProcessBreakinLongOnReturnFromBelowVAL(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()
	strongOF := types.OrderFlowMetrics{OF1m: 5, OFNorm1m: 0.5}

	// prime prevZone = BelowVAL
	e.Process(featuresAt(0, 90, va, types.OrderFlowMetrics{}, 0))

	sig := e.Process(featuresAt(60_000, 100, va, strongOF, 0.5))
	if sig.Action != types.ActionEnterLong {
		t.Fatalf("Action = %v, want EnterLong, reason=%q", sig.Action, sig.Reason)
	}
	if sig.SignalType == nil || *sig.SignalType != types.BreakinLong {
		t.Errorf("SignalType = %v, want BreakinLong", sig.SignalType)
	}
	if sig.StrategyTag != "breakin_long" {
		t.Errorf("StrategyTag = %q, want breakin_long", sig.StrategyTag)
	}
}

func TestProcessBreakinRequiresOrderFlowConfirmation(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()

	e.Process(featuresAt(0, 90, va, types.OrderFlowMetrics{}, 0))
	sig := e.Process(featuresAt(60_000, 100, va, types.OrderFlowMetrics{OF1m: 0, OFNorm1m: 0}, 0))
	if sig.Action != types.ActionHold {
		t.Errorf("Action = %v, want Hold without OF confirmation", sig.Action)
	}
}

func TestProcessFailedBreakoutBeforeAcceptance(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()
	weakOF := types.OrderFlowMetrics{OF1m: -5, OFNorm1m: -0.5}

	e.Process(featuresAt(0, 110, va, types.OrderFlowMetrics{}, 0)) // above VAH, count=1
	sig := e.Process(featuresAt(60_000, 100, va, weakOF, -0.5))    // back inside before k=3

	if sig.Action != types.ActionEnterShort {
		t.Fatalf("Action = %v, want EnterShort, reason=%q", sig.Action, sig.Reason)
	}
	if sig.SignalType == nil || *sig.SignalType != types.FailedBreakoutShort {
		t.Errorf("SignalType = %v, want FailedBreakoutShort", sig.SignalType)
	}
}

func TestProcessBreakoutAfterAcceptance(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()
	strongOF := types.OrderFlowMetrics{OF1m: 5, OFNorm1m: 0.5}

	e.Process(featuresAt(0, 110, va, strongOF, 0.5))
	e.Process(featuresAt(60_000, 111, va, strongOF, 0.5))
	sig := e.Process(featuresAt(120_000, 112, va, strongOF, 0.5)) // 3rd consecutive bar above VAH, k=3

	if sig.Action != types.ActionEnterLong {
		t.Fatalf("Action = %v, want EnterLong, reason=%q", sig.Action, sig.Reason)
	}
	if sig.SignalType == nil || *sig.SignalType != types.BreakoutLong {
		t.Errorf("SignalType = %v, want BreakoutLong", sig.SignalType)
	}
	if sig.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", sig.Confidence)
	}
}

func TestProcessCooldownSuppressesNewSignals(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()
	strongOF := types.OrderFlowMetrics{OF1m: 5, OFNorm1m: 0.5}

	e.Process(featuresAt(0, 90, va, types.OrderFlowMetrics{}, 0))
	sig := e.Process(featuresAt(60_000, 100, va, strongOF, 0.5))
	if sig.Action == types.ActionHold {
		t.Fatal("setup to prime cooldown failed to fire")
	}

	// within cooldown_minutes=3 of the previous signal
	sig2 := e.Process(featuresAt(120_000, 90, va, types.OrderFlowMetrics{}, 0))
	if sig2.Action != types.ActionHold {
		t.Errorf("Action = %v, want Hold during cooldown", sig2.Action)
	}
	if sig2.Reason != "In cooldown" {
		t.Errorf("Reason = %q, want In cooldown", sig2.Reason)
	}
}

func TestPriorityBreakinBeatsBreakoutOnSamePass(t *testing.T) {
	t.Parallel()

	if types.BreakinLong.Priority() >= types.BreakoutLong.Priority() {
		t.Fatal("sanity: BreakinLong must outrank BreakoutLong")
	}
	if types.FailedBreakoutLong.Priority() >= types.BreakoutLong.Priority() {
		t.Fatal("sanity: FailedBreakoutLong must outrank BreakoutLong")
	}
}

func TestResetClearsAcceptanceAndCooldown(t *testing.T) {
	t.Parallel()

	e := New(testConfig())
	va := validVA()
	e.Process(featuresAt(0, 110, va, types.OrderFlowMetrics{}, 0))
	if e.acceptance.ConsecutiveAboveVAH == 0 {
		t.Fatal("setup failed to accumulate acceptance state")
	}

	e.Reset()
	if e.acceptance.ConsecutiveAboveVAH != 0 || e.havePrevZone || e.haveLastSignalTs {
		t.Error("Reset() did not clear engine state")
	}
}
