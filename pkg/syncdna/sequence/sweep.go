package sequence

import (
	"fmt"
	"iter"
	"math"
)

// Thresholds lazily yields detection thresholds from start down to stop
// (both inclusive), coarse to fine.
func Thresholds(start, stop, step float64) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		if step <= 0 || start < stop {
			return
		}
		n := int(math.Round((start - stop) / step))
		for i := 0; i <= n; i++ {
			th := math.Round((start-float64(i)*step)*1e6) / 1e6
			if !yield(th) {
				return
			}
		}
	}
}

// Measurement is a detected pulse train: durations in milliseconds and the
// index (frame or sample) where each pulse starts.
type Measurement struct {
	DurationsMs []float64
	Starts      []int
}

// DetectFunc runs detection at one threshold. ok is false when the detected
// onsets and offsets are too unbalanced to be paired.
type DetectFunc func(threshold float64) (m Measurement, ok bool)

type SweepResult struct {
	Threshold   float64
	Window      Window
	Measurement Measurement
	Tried       int
}

// Sweep walks the thresholds in order and stops at the first one whose
// measurement has a unique match in reference.
func Sweep(thresholds iter.Seq[float64], detect DetectFunc, reference []float64, toleranceMs float64) (SweepResult, error) {
	tried := 0
	for th := range thresholds {
		tried++
		m, ok := detect(th)
		if !ok || len(m.DurationsMs) == 0 {
			continue
		}
		w, err := Match(m.DurationsMs, reference, toleranceMs)
		if err != nil {
			continue
		}
		return SweepResult{Threshold: th, Window: w, Measurement: m, Tried: tried}, nil
	}
	return SweepResult{Tried: tried}, fmt.Errorf("%w (tried %d thresholds)", ErrNoMatch, tried)
}
