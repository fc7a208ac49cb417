package ephys

import (
	"math"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
)

// Check is the outcome of comparing an ephys tracking span to the video.
type Check struct {
	Bounds        pulse.Bounds
	Rate          float64
	DurationSec   float64
	DifferenceMs  float64
	LargestGapSec float64
	Within        bool
}

// Evaluate finds the camera-trigger span on the sync line (raw values,
// rising edges) and compares its duration with the shortest video.
// Bounds.Found is false when the line carries too few trigger pulses.
func Evaluate(sync pulse.Source, rate float64, totalFrames int, videoTimeSec, toleranceMs float64) Check {
	rising, _ := pulse.Transitions(sync, pulse.Options{Mode: pulse.ModeThreshold})
	b := pulse.FindBounds(rising, totalFrames)

	c := Check{
		Bounds:        b,
		Rate:          rate,
		LargestGapSec: math.Round(float64(b.LargestGap)/rate*1000) / 1000,
	}
	if !b.Found {
		return c
	}
	c.DurationSec = float64(b.End-b.Start) / rate
	c.DifferenceMs = math.Round((c.DurationSec-videoTimeSec)*1000*100) / 100
	c.Within = math.Abs(c.DifferenceMs) < toleranceMs
	return c
}
