package drift

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// PhaseVocoder is an in-process constant-pitch time stretcher.
type PhaseVocoder struct {
	FrameSize int
	Hop       int
}

func NewPhaseVocoder() *PhaseVocoder {
	return &PhaseVocoder{FrameSize: 2048, Hop: 512}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func wrapPhase(p float64) float64 {
	return p - 2*math.Pi*math.Round(p/(2*math.Pi))
}

// spectrum returns the windowed FFT of the frame starting at j*hop.
func (p *PhaseVocoder) spectrum(samples []int16, j int, win []float64) []complex128 {
	buf := make([]float64, p.FrameSize)
	start := j * p.Hop
	for i := range buf {
		k := start + i
		if k >= 0 && k < len(samples) {
			buf[i] = float64(samples[k]) * win[i]
		}
	}
	return fft.FFTReal(buf)
}

func (p *PhaseVocoder) Stretch(samples []int16, factor float64) ([]int16, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, errors.New("stretch factor must be positive")
	}
	if p.FrameSize <= 0 || p.Hop <= 0 || p.Hop > p.FrameSize {
		return nil, errors.New("invalid phase vocoder geometry")
	}
	if len(samples) == 0 {
		return []int16{}, nil
	}

	n, hop := p.FrameSize, p.Hop
	half := n / 2
	win := hann(n)
	outLen := int(math.Round(float64(len(samples)) / factor))
	out := make([]float64, outLen+n)
	norm := make([]float64, outLen+n)

	advance := make([]float64, half+1)
	for b := range advance {
		advance[b] = 2 * math.Pi * float64(b) * float64(hop) / float64(n)
	}

	frames := outLen/hop + 1
	phase := make([]float64, half+1)
	var cachedJ = -1
	var x0, x1 []complex128

	for k := 0; k < frames; k++ {
		t := float64(k) * factor
		j := int(t)
		alpha := t - float64(j)

		switch {
		case j == cachedJ:
		case j == cachedJ+1 && x1 != nil:
			x0, x1 = x1, p.spectrum(samples, j+1, win)
		default:
			x0, x1 = p.spectrum(samples, j, win), p.spectrum(samples, j+1, win)
		}
		cachedJ = j

		if k == 0 {
			for b := 0; b <= half; b++ {
				phase[b] = cmplx.Phase(x0[b])
			}
		}

		y := make([]complex128, n)
		for b := 0; b <= half; b++ {
			mag := (1-alpha)*cmplx.Abs(x0[b]) + alpha*cmplx.Abs(x1[b])
			y[b] = cmplx.Rect(mag, phase[b])
			d := wrapPhase(cmplx.Phase(x1[b]) - cmplx.Phase(x0[b]) - advance[b])
			phase[b] += advance[b] + d
		}
		for b := 1; b < half; b++ {
			y[n-b] = cmplx.Conj(y[b])
		}

		frame := fft.IFFT(y)
		base := k * hop
		for i := 0; i < n && base+i < len(out); i++ {
			out[base+i] += real(frame[i]) * win[i]
			norm[base+i] += win[i] * win[i]
		}
	}

	res := make([]int16, outLen)
	for i := range res {
		v := out[i]
		if norm[i] > 1e-3 {
			v /= norm[i]
		}
		res[i] = int16(max(math.MinInt16, min(math.MaxInt16, math.Round(v))))
	}
	return res, nil
}
