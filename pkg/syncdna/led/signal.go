package led

import "sort"

// Reducer combines per-LED brightness into one value per frame.
type Reducer int

const (
	Median Reducer = iota
	Max
)

func (r Reducer) String() string {
	if r == Max {
		return "max"
	}
	return "median"
}

// brightnessFloor keeps RelativeChange finite on fully dark frames.
const brightnessFloor = 1e-6

// Brightness averages RGB per LED, then reduces across LEDs.
func Brightness(s *Series, r Reducer) []float64 {
	frames, n := s.Frames(), s.LEDs()
	out := make([]float64, frames)
	vals := make([]float64, n)
	for fr := 0; fr < frames; fr++ {
		for i := 0; i < n; i++ {
			px := s.Pixel(fr, i)
			vals[i] = (float64(px[0]) + float64(px[1]) + float64(px[2])) / 3
		}
		out[fr] = reduce(vals, r) + brightnessFloor
	}
	return out
}

func reduce(vals []float64, r Reducer) float64 {
	if r == Max {
		m := vals[0]
		for _, v := range vals[1:] {
			m = max(m, v)
		}
		return m
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// RelativeChange returns 1 - b[t]/b[t-1] for every frame; frame 0 has no
// predecessor and is reported as 0.
func RelativeChange(b []float64) []float64 {
	out := make([]float64, len(b))
	for t := 1; t < len(b); t++ {
		out[t] = 1 - b[t]/b[t-1]
	}
	return out
}
