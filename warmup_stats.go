package puccapture

import (
	"time"

	"github.com/e7canasta/puc-capture/internal/warmup"
)

// WarmupStats describes frame arrival over a warm-up run.
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	// IsStable holds when the FPS stddev is under 15% of the mean and the
	// mean jitter is under 20% of the expected interval.
	IsStable     bool
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
}

// CalculateArrivalStats computes warm-up statistics from arrival timestamps
// observed over totalDuration.
func CalculateArrivalStats(arrivals []time.Time, totalDuration time.Duration) *WarmupStats {
	return fromWarmup(warmup.Calculate(arrivals, totalDuration))
}

func fromWarmup(s warmup.Stats) *WarmupStats {
	return &WarmupStats{
		FramesReceived: s.FramesReceived,
		Duration:       s.Duration,
		FPSMean:        s.FPSMean,
		FPSStdDev:      s.FPSStdDev,
		FPSMin:         s.FPSMin,
		FPSMax:         s.FPSMax,
		IsStable:       s.IsStable,
		JitterMean:     s.JitterMean,
		JitterStdDev:   s.JitterStdDev,
		JitterMax:      s.JitterMax,
	}
}
