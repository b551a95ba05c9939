package bar

import (
	"testing"

	"auction-trader/pkg/types"
)

func TestWindowEvictsFromFront(t *testing.T) {
	t.Parallel()

	w := NewWindow(3)
	for i := int64(0); i < 5; i++ {
		w.Append(types.Bar1m{TsMin: i * 60_000})
	}

	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}

	bars := w.Bars()
	wantFirst := int64(2 * 60_000)
	if bars[0].TsMin != wantFirst {
		t.Errorf("oldest retained bar TsMin = %d, want %d", bars[0].TsMin, wantFirst)
	}
	wantLast := int64(4 * 60_000)
	if bars[len(bars)-1].TsMin != wantLast {
		t.Errorf("newest bar TsMin = %d, want %d", bars[len(bars)-1].TsMin, wantLast)
	}
}

func TestWindowTail(t *testing.T) {
	t.Parallel()

	w := NewWindow(10)
	for i := int64(0); i < 4; i++ {
		w.Append(types.Bar1m{TsMin: i})
	}

	tail := w.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("Tail(2) len = %d, want 2", len(tail))
	}
	if tail[0].TsMin != 2 || tail[1].TsMin != 3 {
		t.Errorf("Tail(2) = %+v, want TsMin 2,3", tail)
	}

	if got := w.Tail(100); len(got) != 4 {
		t.Errorf("Tail(100) len = %d, want 4 (all bars)", len(got))
	}

	if got := w.Tail(0); got != nil {
		t.Errorf("Tail(0) = %v, want nil", got)
	}
}
