package warmup

import (
	"sync"
	"time"
)

// Window keeps the most recent arrival timestamps for rolling statistics.
// It is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow creates a window holding up to size timestamps.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records one arrival.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Reset forgets every recorded arrival.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next, w.full = 0, false
	w.mu.Unlock()
}

// Snapshot returns the recorded arrivals oldest first.
func (w *Window) Snapshot() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.full {
		return append([]time.Time(nil), w.times[:w.next]...)
	}
	out := make([]time.Time, 0, len(w.times))
	out = append(out, w.times[w.next:]...)
	return append(out, w.times[:w.next]...)
}

// Stats computes rate statistics over the window. The duration runs from the
// first recorded arrival to the last one plus one mean interval, so a steady
// stream reports its true rate.
func (w *Window) Stats() Stats {
	arrivals := w.Snapshot()
	n := len(arrivals)
	if n < 2 {
		return Stats{FramesReceived: n}
	}
	span := arrivals[n-1].Sub(arrivals[0])
	return Calculate(arrivals, span+span/time.Duration(n-1))
}
