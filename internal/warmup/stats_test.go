package warmup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// evenArrivals returns n timestamps spaced exactly interval apart.
func evenArrivals(n int, interval time.Duration) []time.Time {
	start := time.Unix(1700000000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * interval)
	}
	return out
}

func TestCalculateEmpty(t *testing.T) {
	stats := Calculate(nil, time.Second)
	assert.Zero(t, stats.FramesReceived)
	assert.False(t, stats.IsStable)

	stats = Calculate(evenArrivals(1, time.Millisecond), time.Second)
	assert.Equal(t, 1, stats.FramesReceived)
	assert.Equal(t, 1.0, stats.FPSMean)
	assert.False(t, stats.IsStable)
}

func TestCalculateSteadyStream(t *testing.T) {
	arrivals := evenArrivals(1000, time.Millisecond)
	stats := Calculate(arrivals, time.Second)

	assert.InDelta(t, 1000.0, stats.FPSMean, 0.001)
	assert.InDelta(t, 1000.0, stats.FPSMin, 0.001)
	assert.InDelta(t, 1000.0, stats.FPSMax, 0.001)
	assert.InDelta(t, 0, stats.JitterMean, 1e-9)
	assert.True(t, stats.IsStable)
	t.Logf("✅ steady 1000 fps stream: mean=%.1f stddev=%.3f", stats.FPSMean, stats.FPSStdDev)
}

func TestCalculateBurstyStreamIsUnstable(t *testing.T) {
	start := time.Unix(1700000000, 0)
	var arrivals []time.Time
	at := start
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			at = at.Add(time.Millisecond)
		} else {
			at = at.Add(9 * time.Millisecond)
		}
		arrivals = append(arrivals, at)
	}
	stats := Calculate(arrivals, at.Sub(start))

	assert.InDelta(t, 200.0, stats.FPSMean, 1.0)
	assert.False(t, stats.IsStable)
	assert.Greater(t, stats.JitterMax, 0.003)
}

func TestWindowKeepsMostRecent(t *testing.T) {
	w := NewWindow(4)
	arrivals := evenArrivals(6, 10*time.Millisecond)
	for _, at := range arrivals {
		w.Add(at)
	}
	assert.Equal(t, arrivals[2:], w.Snapshot())

	stats := w.Stats()
	assert.Equal(t, 4, stats.FramesReceived)
	assert.InDelta(t, 100.0, stats.FPSMean, 0.01)
	assert.True(t, stats.IsStable)

	w.Reset()
	assert.Empty(t, w.Snapshot())
	assert.Zero(t, w.Stats().FramesReceived)
}
