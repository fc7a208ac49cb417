package drift

import (
	"errors"
	"fmt"
)

// Stretcher changes the duration of a signal by factor (output length is
// about len/factor) while keeping its pitch.
type Stretcher interface {
	Stretch(samples []int16, factor float64) ([]int16, error)
}

var ErrEmptyStream = errors.New("cannot align an empty stream")

// AlignLengths brings the longer stream to the length of the shorter one.
// The longer stream's LSB is resampled and re-spliced after the payload is
// stretched, so the sync bits never pass through the stretcher. Streams of
// equal length are returned unchanged.
func AlignLengths(a, b []int16, st Stretcher) ([]int16, []int16, error) {
	if len(a) == len(b) {
		return a, b, nil
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, nil, ErrEmptyStream
	}

	longer, shorter := a, b
	swapped := false
	if len(b) > len(a) {
		longer, shorter = b, a
		swapped = true
	}

	fixed, err := Fit(longer, len(shorter), st)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return a, fixed, nil
	}
	return fixed, b, nil
}

// Fit resamples one stream to exactly n samples: payload through the
// stretcher, sync bits by linear resampling.
func Fit(samples []int16, n int, st Stretcher) ([]int16, error) {
	if len(samples) == n {
		return samples, nil
	}
	if n <= 0 || len(samples) == 0 {
		return nil, ErrEmptyStream
	}

	bits := ResampleBits(samples, n)
	factor := float64(len(samples)) / float64(n)
	payload, err := st.Stretch(samples, factor)
	if err != nil {
		return nil, fmt.Errorf("stretching by %.6f: %w", factor, err)
	}
	return SpliceBits(payload, bits), nil
}
