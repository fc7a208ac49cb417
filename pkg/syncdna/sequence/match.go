// Package sequence aligns a measured pulse-duration train against the
// controller's reference train.
package sequence

import (
	"errors"
	"math"
)

var (
	ErrNoMatch   = errors.New("no reference window matches the measured train")
	ErrAmbiguous = errors.New("measured train matches more than one reference window")
)

// comparisons are made on rounded millisecond values, so allow for
// floating point noise at the tolerance boundary.
const epsilon = 1e-9

// Window is the reference subsequence a measured train was aligned to.
type Window struct {
	Offset    int
	Durations []float64
}

// Len returns the number of pulses in the window.
func (w Window) Len() int { return len(w.Durations) }

// Equal reports whether two windows cover the same reference pulses.
func (w Window) Equal(o Window) bool {
	if w.Offset != o.Offset || len(w.Durations) != len(o.Durations) {
		return false
	}
	for i := range w.Durations {
		if w.Durations[i] != o.Durations[i] {
			return false
		}
	}
	return true
}

// FindWindows returns the offsets of every contiguous reference window whose
// elementwise absolute difference to measured never exceeds toleranceMs.
func FindWindows(measured, reference []float64, toleranceMs float64) []int {
	k := len(measured)
	if k == 0 || k > len(reference) {
		return nil
	}

	var offsets []int
	for off := 0; off+k <= len(reference); off++ {
		if withinTolerance(measured, reference[off:off+k], toleranceMs) {
			offsets = append(offsets, off)
		}
	}
	return offsets
}

func withinTolerance(a, b []float64, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol+epsilon {
			return false
		}
	}
	return true
}

// Match returns the unique reference window matching measured.
func Match(measured, reference []float64, toleranceMs float64) (Window, error) {
	offsets := FindWindows(measured, reference, toleranceMs)
	switch len(offsets) {
	case 0:
		return Window{}, ErrNoMatch
	case 1:
		off := offsets[0]
		durations := make([]float64, len(measured))
		copy(durations, reference[off:off+len(measured)])
		return Window{Offset: off, Durations: durations}, nil
	default:
		return Window{}, ErrAmbiguous
	}
}

// DiffWithin reports whether two equally long duration trains agree
// elementwise within toleranceMs.
func DiffWithin(a, b []float64, toleranceMs float64) bool {
	return len(a) == len(b) && withinTolerance(a, b, toleranceMs)
}
