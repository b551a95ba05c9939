package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllSeriesWithoutPanic(t *testing.T) {
	t.Parallel()

	m, reg := New()
	m.BarsFinalized.Inc()
	m.SignalsByType.WithLabelValues("breakin_long", "ENTER_LONG").Inc()
	m.Equity.Set(10250.5)

	if got := testutil.ToFloat64(m.BarsFinalized); got != 1 {
		t.Errorf("BarsFinalized = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Equity); got != 10250.5 {
		t.Errorf("Equity = %v, want 10250.5", got)
	}

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count == 0 {
		t.Error("expected at least one metric sample after Inc/Set")
	}
}
