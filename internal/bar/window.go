package bar

import "auction-trader/pkg/types"

// Window holds a bounded history of closed bars, appended at the back and
// evicted from the front.
// Capacity is rolling_window_minutes+60: the extra margin backs the feature
// engine's 60-bar spread average without growing the window itself.
type Window struct {
	bars     []types.Bar1m
	capacity int
}

// NewWindow returns an empty Window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{capacity: capacity}
}

// Append adds a closed bar, evicting the oldest entry once over capacity.
func (w *Window) Append(b types.Bar1m) {
	w.bars = append(w.bars, b)
	if len(w.bars) > w.capacity {
		w.bars = w.bars[len(w.bars)-w.capacity:]
	}
}

// Bars returns the current history, oldest first. The slice is owned by the
// window and must not be mutated by callers.
func (w *Window) Bars() []types.Bar1m {
	return w.bars
}

// Tail returns up to n most recent bars, oldest first.
func (w *Window) Tail(n int) []types.Bar1m {
	if n <= 0 || len(w.bars) == 0 {
		return nil
	}
	if n >= len(w.bars) {
		return w.bars
	}
	return w.bars[len(w.bars)-n:]
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	return len(w.bars)
}
