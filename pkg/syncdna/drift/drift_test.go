package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decimator is a crude stretcher: nearest-sample pick. Enough to exercise
// the bit handling without depending on audio quality.
type decimator struct{ calls int }

func (d *decimator) Stretch(s []int16, factor float64) ([]int16, error) {
	d.calls++
	n := int(math.Round(float64(len(s)) / factor))
	out := make([]int16, n)
	for i := range out {
		out[i] = s[min(len(s)-1, int(float64(i)*factor))]
	}
	return out, nil
}

// shortStretcher returns fewer samples than asked so padding kicks in.
type shortStretcher struct{}

func (shortStretcher) Stretch(s []int16, factor float64) ([]int16, error) {
	return []int16{100, 200, 301}, nil
}

func withBits(payload []int16, bits []uint8) []int16 {
	out := make([]int16, len(payload))
	for i := range payload {
		out[i] = payload[i]&^1 | int16(bits[i])
	}
	return out
}

func TestResampleBits(t *testing.T) {
	src := withBits([]int16{10, 20, 30, 40, 50}, []uint8{0, 0, 1, 1, 0})
	assert.Equal(t, []uint8{0, 0, 1, 1, 0}, ResampleBits(src, 5))

	// Halfway points sit at exactly 0.5 and are not set.
	assert.Equal(t, []uint8{0, 0, 0, 0, 1, 1, 1, 0, 0}, ResampleBits(src, 9))

	assert.Equal(t, []uint8{1, 1, 1}, ResampleBits([]int16{3}, 3))
	assert.Empty(t, ResampleBits(src, 0))
}

func TestSpliceBits(t *testing.T) {
	got := SpliceBits([]int16{100, 201, -3}, []uint8{1, 0, 1, 1, 0})
	assert.Equal(t, []int16{101, 200, -3, -3, -4}, got)

	got = SpliceBits([]int16{100, 201, -3, 8}, []uint8{0, 1})
	assert.Equal(t, []int16{100, 201}, got)
}

func TestAlignLengthsIdempotent(t *testing.T) {
	a := []int16{1, 2, 3}
	b := []int16{4, 5, 6}
	st := &decimator{}

	a2, b2, err := AlignLengths(a, b, st)
	require.NoError(t, err)
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
	assert.Zero(t, st.calls)

	a3, b3, err := AlignLengths(a2, b2, st)
	require.NoError(t, err)
	assert.Equal(t, a2, a3)
	assert.Equal(t, b2, b3)
}

func TestAlignLengthsBitExact(t *testing.T) {
	const shortLen, longLen = 10000, 10013
	short := make([]int16, shortLen)
	long := make([]int16, longLen)
	for i := range long {
		bit := uint8(0)
		if (i/700)%2 == 1 {
			bit = 1
		}
		long[i] = int16(1000*math.Sin(float64(i)/17))&^1 | int16(bit)
	}
	for i := range short {
		short[i] = int16(i % 300)
	}

	for _, swap := range []bool{false, true} {
		st := &decimator{}
		var a2, b2 []int16
		var err error
		if swap {
			b2, a2, err = AlignLengths(long, short, st)
		} else {
			a2, b2, err = AlignLengths(short, long, st)
		}
		require.NoError(t, err)
		assert.Equal(t, short, a2, "shorter stream must pass through untouched")
		require.Len(t, b2, shortLen)

		want := ResampleBits(long, shortLen)
		for i, v := range b2 {
			if uint8(v&1) != want[i] {
				t.Fatalf("bit %d = %d, want %d", i, v&1, want[i])
			}
		}
		assert.Equal(t, 1, st.calls)
	}
}

func TestFitPadsShortPayload(t *testing.T) {
	in := []int16{0, 0, 1, 1, 1, 1, 0, 0}
	got, err := Fit(in, 6, shortStretcher{})
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, int16(100), got[0]&^1)
	assert.Equal(t, int16(300), got[5]&^1)
	assert.Equal(t, ResampleBits(in, 6), []uint8{uint8(got[0] & 1), uint8(got[1] & 1), uint8(got[2] & 1), uint8(got[3] & 1), uint8(got[4] & 1), uint8(got[5] & 1)})

	_, _, err = AlignLengths(nil, []int16{1}, shortStretcher{})
	assert.ErrorIs(t, err, ErrEmptyStream)
}

func zeroCrossings(s []int16) int {
	n := 0
	for i := 1; i < len(s); i++ {
		if (s[i-1] < 0) != (s[i] < 0) {
			n++
		}
	}
	return n
}

func TestPhaseVocoderKeepsPitch(t *testing.T) {
	const rate, freq = 48000.0, 1000.0
	in := make([]int16, 48000)
	for i := range in {
		in[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}

	out, err := NewPhaseVocoder().Stretch(in, 1.25)
	require.NoError(t, err)
	require.Len(t, out, 38400)

	mid := out[4096 : len(out)-4096]
	want := 2 * freq * float64(len(mid)) / rate
	got := float64(zeroCrossings(mid))
	assert.InDelta(t, want, got, want*0.05)

	_, err = NewPhaseVocoder().Stretch(in, 0)
	assert.Error(t, err)
	empty, err := NewPhaseVocoder().Stretch(nil, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAlignLengthsWithPhaseVocoder(t *testing.T) {
	a := make([]int16, 20000)
	b := make([]int16, 20050)
	for i := range b {
		b[i] = int16(3000*math.Sin(float64(i)/9)) &^ 1
		if i%1000 < 400 {
			b[i] |= 1
		}
	}
	_, b2, err := AlignLengths(a, b, NewPhaseVocoder())
	require.NoError(t, err)
	require.Len(t, b2, len(a))

	want := ResampleBits(b, len(a))
	for i := range b2 {
		require.Equal(t, want[i], uint8(b2[i]&1), "bit %d", i)
	}
}
