package sequence

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomReference(n int) []float64 {
	r := rand.New(rand.NewPCG(7, 11))
	ref := make([]float64, n)
	for i := range ref {
		ref[i] = float64(250 + r.IntN(1250))
	}
	return ref
}

func TestMatchVerbatimWindow(t *testing.T) {
	ref := randomReference(300)
	for _, off := range []int{0, 17, 150, 288} {
		measured := slices.Clone(ref[off : off+12])
		w, err := Match(measured, ref, 10)
		require.NoError(t, err, "offset %d", off)
		assert.Equal(t, off, w.Offset)
		assert.Equal(t, measured, w.Durations)
	}
}

func TestMatchToleranceBoundary(t *testing.T) {
	ref := randomReference(200)
	const tol = 10.0
	measured := slices.Clone(ref[40:55])

	for i := range measured {
		if i%2 == 0 {
			measured[i] += tol
		} else {
			measured[i] -= tol
		}
	}
	w, err := Match(measured, ref, tol)
	require.NoError(t, err)
	assert.Equal(t, 40, w.Offset)

	measured[2] += 1
	_, err = Match(measured, ref, tol)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchAmbiguousAndDegenerate(t *testing.T) {
	ref := []float64{300, 500, 300, 500, 300}
	_, err := Match([]float64{300, 500}, ref, 1)
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.Equal(t, []int{0, 2}, FindWindows([]float64{300, 500}, ref, 1))

	_, err = Match(nil, ref, 1)
	assert.ErrorIs(t, err, ErrNoMatch)
	_, err = Match(make([]float64, 6), ref, 1)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestWindowEqual(t *testing.T) {
	a := Window{Offset: 3, Durations: []float64{1, 2}}
	assert.True(t, a.Equal(Window{Offset: 3, Durations: []float64{1, 2}}))
	assert.False(t, a.Equal(Window{Offset: 4, Durations: []float64{1, 2}}))
	assert.False(t, a.Equal(Window{Offset: 3, Durations: []float64{1, 3}}))
	assert.Equal(t, 2, a.Len())
}

func TestThresholds(t *testing.T) {
	got := slices.Collect(Thresholds(0.35, 0.20, 0.01))
	require.Len(t, got, 16)
	assert.Equal(t, 0.35, got[0])
	assert.Equal(t, 0.2, got[15])
	assert.True(t, slices.IsSortedFunc(got, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	}))

	assert.Empty(t, slices.Collect(Thresholds(0.2, 0.35, 0.01)))
	assert.Empty(t, slices.Collect(Thresholds(0.35, 0.2, 0)))

	// Lazy: consumers can stop early.
	n := 0
	for range Thresholds(0.35, 0.20, 0.01) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestSweepMatchesAtEveryThreshold(t *testing.T) {
	ref := randomReference(400)
	measured := Measurement{DurationsMs: slices.Clone(ref[123:140]), Starts: make([]int, 17)}

	for th := range Thresholds(0.35, 0.20, 0.01) {
		res, err := Sweep(slices.Values([]float64{th}), func(float64) (Measurement, bool) {
			return measured, true
		}, ref, 5)
		require.NoError(t, err, "threshold %v", th)
		assert.Equal(t, 123, res.Window.Offset)
		assert.Equal(t, th, res.Threshold)
	}
}

func TestSweepPicksCoarsestSuccess(t *testing.T) {
	ref := randomReference(100)
	var seen []float64
	detect := func(th float64) (Measurement, bool) {
		seen = append(seen, th)
		switch {
		case th > 0.30:
			return Measurement{}, false
		case th > 0.27:
			return Measurement{DurationsMs: []float64{1, 1, 1}}, true
		default:
			return Measurement{DurationsMs: slices.Clone(ref[10:20])}, true
		}
	}

	res, err := Sweep(Thresholds(0.35, 0.20, 0.01), detect, ref, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.27, res.Threshold)
	assert.Equal(t, 10, res.Window.Offset)
	assert.Equal(t, 9, res.Tried)
	assert.Len(t, seen, 9)
}

func TestSweepExhausted(t *testing.T) {
	res, err := Sweep(Thresholds(0.35, 0.20, 0.01), func(float64) (Measurement, bool) {
		return Measurement{}, false
	}, []float64{1, 2, 3}, 1)
	assert.True(t, errors.Is(err, ErrNoMatch))
	assert.Equal(t, 16, res.Tried)
}

func TestReadReference(t *testing.T) {
	log := "CoolTerm capture\r\nport: usbmodem\r\n\r\n412\r\n 980 \r\n\r\n330\r\n"
	ref, err := ReadReference(strings.NewReader(log), 3)
	require.NoError(t, err)
	assert.Equal(t, Reference{412, 980, 330}, ref)

	_, err = ReadReference(strings.NewReader("h\n12\nabc\n"), 1)
	assert.ErrorContains(t, err, "line 3")
}
