package streampublish

import (
	"math"
	"time"
)

// RateStats summarizes the achieved submission rate over a measurement
// window.
type RateStats struct {
	// FramesSubmitted is the number of successful submissions observed.
	FramesSubmitted int
	// Duration is the measurement window.
	Duration time.Duration
	// RateMean is the overall achieved rate in frames per second.
	RateMean float64
	// RateStdDev is the standard deviation of the instantaneous rates.
	RateStdDev float64
	// RateMin is the lowest instantaneous rate observed.
	RateMin float64
	// RateMax is the highest instantaneous rate observed.
	RateMax float64
	// IsSteady is true when the instantaneous rate varies less than 15%
	// around the mean. Wild variance usually means the producer is being
	// throttled by demand flow control or is starved upstream.
	IsSteady bool
}

// CalculateRateStats derives rate statistics from the timestamps of
// successful submissions over elapsed wall time.
//
// With fewer than two timestamps only the overall mean is meaningful and
// IsSteady is false.
func CalculateRateStats(submitTimes []time.Time, elapsed time.Duration) *RateStats {
	stats := &RateStats{
		FramesSubmitted: len(submitTimes),
		Duration:        elapsed,
	}

	if elapsed > 0 {
		stats.RateMean = float64(len(submitTimes)) / elapsed.Seconds()
	}

	if len(submitTimes) < 2 {
		return stats
	}

	// Instantaneous rate per inter-submission interval.
	rates := make([]float64, 0, len(submitTimes)-1)
	for i := 1; i < len(submitTimes); i++ {
		interval := submitTimes[i].Sub(submitTimes[i-1]).Seconds()
		if interval <= 0 {
			continue
		}
		rates = append(rates, 1.0/interval)
	}
	if len(rates) == 0 {
		return stats
	}

	stats.RateMin = rates[0]
	stats.RateMax = rates[0]
	var sum float64
	for _, r := range rates {
		sum += r
		if r < stats.RateMin {
			stats.RateMin = r
		}
		if r > stats.RateMax {
			stats.RateMax = r
		}
	}
	mean := sum / float64(len(rates))

	var variance float64
	for _, r := range rates {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rates))
	stats.RateStdDev = math.Sqrt(variance)

	stats.IsSteady = mean > 0 && stats.RateStdDev < 0.15*mean
	return stats
}
