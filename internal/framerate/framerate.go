// Package framerate computes decode-rate statistics from the arrival times of
// decoded frames.
package framerate

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// Stats contains decode-rate statistics over a run of frames
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	IsStable     bool
}

// Calculate computes rate statistics from frame timestamps
//
// This function:
//  1. Calculates mean FPS (frames / totalDuration)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter statistics (deviation from the expected interval)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20% of expected interval)
//
// A decoder fed from a buffered source usually bursts, so IsStable is mostly
// meaningful for live cameras.
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	stats := Stats{Frames: n, Duration: totalDuration}

	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	// Not enough data for stability assessment
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = minMax(instantaneous)
	stats.FPSStdDev = stdDev(instantaneous, stats.FPSMean)

	expectedInterval := 1.0 / stats.FPSMean

	jitters := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		actual := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		jitters = append(jitters, math.Abs(actual-expectedInterval))
	}

	var jitterSum float64
	for _, j := range jitters {
		jitterSum += j
	}
	stats.JitterMean = jitterSum / float64(len(jitters))
	_, stats.JitterMax = minMax(jitters)
	stats.JitterStdDev = stdDev(jitters, stats.JitterMean)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expectedInterval*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// stdDev is the population standard deviation of values around mean
func stdDev(values []float64, mean float64) float64 {
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
