// Package report summarizes discrepancy measurements and renders the post-run
// batch report.
package report

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceLevel of the interval reported around the mean.
const ConfidenceLevel = 0.99

// Summary describes a set of discrepancies in milliseconds.
type Summary struct {
	N      int     `json:"n"`
	Median float64 `json:"median_ms"`
	Mean   float64 `json:"mean_ms"`
	Std    float64 `json:"std_ms"`
	CILow  float64 `json:"ci99_low_ms"`
	CIHigh float64 `json:"ci99_high_ms"`
	MaxAbs float64 `json:"max_abs_ms"`
}

// Summarize computes median, mean and a Student-t confidence interval. With
// fewer than two values the interval collapses onto the mean.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	s := Summary{N: len(xs), Median: median(xs)}
	for _, x := range xs {
		s.MaxAbs = max(s.MaxAbs, math.Abs(x))
	}
	if len(xs) == 1 {
		s.Mean, s.CILow, s.CIHigh = xs[0], xs[0], xs[0]
		return s
	}

	s.Mean, s.Std = stat.MeanStdDev(xs, nil)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(len(xs) - 1)}
	half := t.Quantile(1-(1-ConfidenceLevel)/2) * s.Std / math.Sqrt(float64(len(xs)))
	s.CILow, s.CIHigh = s.Mean-half, s.Mean+half
	return s
}

// Spread is the range and mean of a set of values, such as the IPI start
// sample differences between two audio devices.
type Spread struct {
	N    int     `json:"n"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// SpreadOf ignores NaNs. The mean is rounded to two decimals.
func SpreadOf(xs []float64) Spread {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return Spread{}
	}
	return Spread{
		N:    len(vals),
		Min:  floats.Min(vals),
		Max:  floats.Max(vals),
		Mean: math.Round(stat.Mean(vals, nil)*100) / 100,
	}
}

// median averages the two middle values for even counts, which
// stat.Quantile's estimators do not.
func median(xs []float64) float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PredictionErrors fits frame = a + b*sample on a random half of the matched
// pulses and returns, for the other half in order, predicted minus true
// frame. Predictions are floored to whole frames.
func PredictionErrors(samples, frames []float64, seed uint64) ([]float64, error) {
	if len(samples) != len(frames) {
		return nil, errors.New("samples and frames differ in length")
	}
	n := len(samples)
	train := int(math.Round(float64(n) * 0.5))
	if train < 2 || n-train < 1 {
		return nil, errors.New("too few points for a train/test split")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	picked := rng.Perm(n)[:train]
	slices.Sort(picked)
	inTrain := make([]bool, n)
	xs := make([]float64, 0, train)
	ys := make([]float64, 0, train)
	for _, i := range picked {
		inTrain[i] = true
		xs = append(xs, samples[i])
		ys = append(ys, frames[i])
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return nil, errors.New("degenerate regression")
	}

	out := make([]float64, 0, n-train)
	for i := range n {
		if inTrain[i] {
			continue
		}
		pred := math.Floor(alpha + beta*samples[i] + 1e-6)
		out = append(out, pred-frames[i])
	}
	return out, nil
}
