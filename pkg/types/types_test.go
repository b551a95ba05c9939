package types

import "testing"

func TestQuoteDerived(t *testing.T) {
	t.Parallel()

	tests := []struct {
		q            Quote
		wantMid      float64
		wantSpread   float64
		wantQIMB     float64
	}{
		{Quote{BidPx: 100, BidSz: 10, AskPx: 102, AskSz: 10}, 101, 2, 0},
		{Quote{BidPx: 100, BidSz: 30, AskPx: 102, AskSz: 10}, 101, 2, 0.5},
		{Quote{BidPx: 100, BidSz: 10, AskPx: 102, AskSz: 30}, 101, 2, -0.5},
		{Quote{BidPx: 100, BidSz: 0, AskPx: 102, AskSz: 0}, 101, 2, 0},
	}

	for _, tt := range tests {
		if got := tt.q.Mid(); got != tt.wantMid {
			t.Errorf("Quote%+v.Mid() = %v, want %v", tt.q, got, tt.wantMid)
		}
		if got := tt.q.Spread(); got != tt.wantSpread {
			t.Errorf("Quote%+v.Spread() = %v, want %v", tt.q, got, tt.wantSpread)
		}
		if got := tt.q.QIMB(); got != tt.wantQIMB {
			t.Errorf("Quote%+v.QIMB() = %v, want %v", tt.q, got, tt.wantQIMB)
		}
	}
}

func TestBar1mClose(t *testing.T) {
	t.Parallel()

	b := Bar1m{BidPxClose: 99, AskPxClose: 101, BidSzClose: 20, AskSzClose: 10}

	if got := b.MidClose(); got != 100 {
		t.Errorf("MidClose() = %v, want 100", got)
	}
	if got := b.SpreadClose(); got != 2 {
		t.Errorf("SpreadClose() = %v, want 2", got)
	}
	want := (20.0 - 10.0) / 30.0
	if got := b.QIMBClose(); got != want {
		t.Errorf("QIMBClose() = %v, want %v", got, want)
	}
}

func TestSignalTypePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		st   SignalType
		want int
	}{
		{BreakinLong, 1},
		{BreakinShort, 1},
		{FailedBreakoutLong, 2},
		{FailedBreakoutShort, 2},
		{BreakoutLong, 3},
		{BreakoutShort, 3},
	}

	for _, tt := range tests {
		if got := tt.st.Priority(); got != tt.want {
			t.Errorf("SignalType(%v).Priority() = %d, want %d", tt.st, got, tt.want)
		}
	}

	// Break-in outranks failed-breakout outranks breakout.
	if BreakinLong.Priority() >= FailedBreakoutLong.Priority() {
		t.Error("expected break-in priority to be numerically lower (higher rank) than failed breakout")
	}
	if FailedBreakoutLong.Priority() >= BreakoutLong.Priority() {
		t.Error("expected failed-breakout priority to be numerically lower (higher rank) than breakout")
	}
}

func TestSignalTypeIsLong(t *testing.T) {
	t.Parallel()

	tests := []struct {
		st   SignalType
		want bool
	}{
		{BreakinLong, true},
		{FailedBreakoutLong, true},
		{BreakoutLong, true},
		{BreakinShort, false},
		{FailedBreakoutShort, false},
		{BreakoutShort, false},
	}

	for _, tt := range tests {
		if got := tt.st.IsLong(); got != tt.want {
			t.Errorf("SignalType(%v).IsLong() = %v, want %v", tt.st, got, tt.want)
		}
	}
}

func TestPositionSideSign(t *testing.T) {
	t.Parallel()

	if Long.Sign() != 1 {
		t.Errorf("Long.Sign() = %v, want 1", Long.Sign())
	}
	if Short.Sign() != -1 {
		t.Errorf("Short.Sign() = %v, want -1", Short.Sign())
	}
}

func TestAcceptanceStateReset(t *testing.T) {
	t.Parallel()

	a := AcceptanceState{ConsecutiveAboveVAH: 3, LockedVAH: 105, ConsecutiveBelowVAL: 2, LockedVAL: 95}

	a.ResetAbove()
	if a.ConsecutiveAboveVAH != 0 || a.LockedVAH != 0 {
		t.Errorf("ResetAbove() left state = %+v, want zeroed above fields", a)
	}
	if a.ConsecutiveBelowVAL != 2 || a.LockedVAL != 95 {
		t.Errorf("ResetAbove() unexpectedly touched below fields: %+v", a)
	}

	a.ResetBelow()
	if a.ConsecutiveBelowVAL != 0 || a.LockedVAL != 0 {
		t.Errorf("ResetBelow() left state = %+v, want zeroed below fields", a)
	}
}

func TestPositionUnrealizedPnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos   Position
		price float64
		want  float64
	}{
		{Position{Side: Long, EntryPrice: 100, Size: 2}, 105, 10},
		{Position{Side: Long, EntryPrice: 100, Size: 2}, 95, -10},
		{Position{Side: Short, EntryPrice: 100, Size: 2}, 95, 10},
		{Position{Side: Short, EntryPrice: 100, Size: 2}, 105, -10},
	}

	for _, tt := range tests {
		if got := tt.pos.UnrealizedPnL(tt.price); got != tt.want {
			t.Errorf("Position%+v.UnrealizedPnL(%v) = %v, want %v", tt.pos, tt.price, got, tt.want)
		}
		wantProfitable := tt.want > 0
		if got := tt.pos.IsProfitable(tt.price); got != wantProfitable {
			t.Errorf("Position%+v.IsProfitable(%v) = %v, want %v", tt.pos, tt.price, got, wantProfitable)
		}
	}
}

func TestOrderFlowIsHighAmbiguous(t *testing.T) {
	t.Parallel()

	tests := []struct {
		m       OrderFlowMetrics
		maxFrac float64
		want    bool
	}{
		{OrderFlowMetrics{AmbiguousFrac: 0.5}, 0.4, true},
		{OrderFlowMetrics{AmbiguousFrac: 0.3}, 0.4, false},
		{OrderFlowMetrics{AmbiguousFrac: 0.4}, 0.4, false},
	}

	for _, tt := range tests {
		if got := tt.m.IsHighAmbiguous(tt.maxFrac); got != tt.want {
			t.Errorf("OrderFlowMetrics%+v.IsHighAmbiguous(%v) = %v, want %v", tt.m, tt.maxFrac, got, tt.want)
		}
	}
}

func TestInvalidValueArea(t *testing.T) {
	t.Parallel()

	va := InvalidValueArea()
	if va.IsValid {
		t.Error("InvalidValueArea().IsValid = true, want false")
	}
}
