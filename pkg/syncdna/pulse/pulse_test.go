package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stream builds n samples of noisy payload with the LSB set inside each pulse.
func stream(n int, pulses ...Event) Samples {
	s := make(Samples, n)
	for i := range s {
		s[i] = int16((i*7919)%2000-1000) &^ 1
	}
	for _, p := range pulses {
		for i := p.Start; i < p.End(); i++ {
			s[i] |= 1
		}
	}
	return s
}

func TestExtractEdgesLSB(t *testing.T) {
	want := Train{{Start: 10, Duration: 5}, {Start: 40, Duration: 12}, {Start: 90, Duration: 1}}
	got := ExtractEdges(stream(120, want...), Options{Mode: ModeLSB})
	assert.Equal(t, want, got)
}

func TestExtractEdgesDropsPartialPulses(t *testing.T) {
	s := stream(100, Event{Start: 0, Duration: 8}, Event{Start: 30, Duration: 10}, Event{Start: 95, Duration: 5})
	got := ExtractEdges(s, Options{Mode: ModeLSB})
	assert.Equal(t, Train{{Start: 30, Duration: 10}}, got)
}

func TestExtractEdgesActiveLow(t *testing.T) {
	// Line idles high; on-periods are the low stretches between the high pulses.
	s := stream(100, Event{Start: 0, Duration: 20}, Event{Start: 30, Duration: 20}, Event{Start: 65, Duration: 35})
	got := ExtractEdges(s, Options{Mode: ModeLSB, Polarity: ActiveLow})
	assert.Equal(t, Train{{Start: 20, Duration: 10}, {Start: 50, Duration: 15}}, got)
	assert.Equal(t, []float64{1, 1.5}, got.DurationsMs(10000))
	assert.Equal(t, []int{20, 50}, got.Starts())
}

func TestExtractEdgesOtherBit(t *testing.T) {
	s := make(Samples, 50)
	for i := 20; i < 30; i++ {
		s[i] = 1 << 3
	}
	got := ExtractEdges(s, Options{Mode: ModeLSB, Bit: 3})
	assert.Equal(t, Train{{Start: 20, Duration: 10}}, got)
	assert.Empty(t, ExtractEdges(s, Options{Mode: ModeLSB}))
}

func TestExtractEdgesThreshold(t *testing.T) {
	s := make(Samples, 60)
	for i := 10; i < 25; i++ {
		s[i] = 3000
	}
	for i := 40; i < 44; i++ {
		s[i] = 3000
	}
	got := ExtractEdges(s, Options{Mode: ModeThreshold})
	assert.Equal(t, Train{{Start: 10, Duration: 15}, {Start: 40, Duration: 4}}, got)
}

func TestTransitionsShortStream(t *testing.T) {
	r, f := Transitions(Samples{1}, Options{})
	assert.Nil(t, r)
	assert.Nil(t, f)
}

func TestSuppressGlitches(t *testing.T) {
	in := Train{
		{Start: 0, Duration: 50},
		{Start: 52, Duration: 48}, // 2-sample dropout inside one pulse
		{Start: 200, Duration: 3}, // contact bounce
		{Start: 300, Duration: 40},
	}
	got := SuppressGlitches(in, 10, 5)
	assert.Equal(t, Train{{Start: 0, Duration: 100}, {Start: 300, Duration: 40}}, got)
	assert.Equal(t, Train{}, SuppressGlitches(nil, 1, 1))
}

func TestFindBounds(t *testing.T) {
	// Ten early pulses, a long dead time, then frame triggers every 100 samples.
	var pulses []Event
	for i := 0; i < 10; i++ {
		pulses = append(pulses, Event{Start: 100 + i*50, Duration: 10})
	}
	firstFrame := 5000
	const frames = 20
	for i := 0; i <= frames; i++ {
		pulses = append(pulses, Event{Start: firstFrame + i*100, Duration: 10})
	}
	s := stream(firstFrame+frames*100+500, pulses...)
	rising, _ := Transitions(s, Options{Mode: ModeLSB})

	b := FindBounds(rising, frames)
	require.True(t, b.Found)
	assert.Equal(t, firstFrame, b.Start)
	assert.Equal(t, firstFrame+frames*100, b.End)
	assert.Equal(t, firstFrame-(100+9*50), b.LargestGap)
	assert.Equal(t, frames*100+1, b.Duration())

	starts := b.FrameStarts(rising, frames)
	require.Len(t, starts, frames)
	assert.Equal(t, 0, starts[0])
	assert.Equal(t, 100*(frames-1), starts[frames-1])
}

func TestFindBoundsInsufficientPulses(t *testing.T) {
	rising := []int{10, 20, 30, 1000, 1010, 1020}

	b := FindBounds(rising, 5)
	assert.False(t, b.Found)
	assert.Equal(t, 970, b.LargestGap)
	assert.Zero(t, b.Duration())
	assert.Nil(t, b.FrameStarts(rising, 5))

	b = FindBounds(rising, 2)
	require.True(t, b.Found)
	assert.Equal(t, 1001, b.Start)
	assert.Equal(t, 1021, b.End)

	assert.False(t, FindBounds([]int{4}, 1).Found)
}

func TestWindowReindexes(t *testing.T) {
	s := stream(100, Event{Start: 10, Duration: 5}, Event{Start: 40, Duration: 12}, Event{Start: 90, Duration: 4})
	w := Window{Src: s, From: 30, To: 92}
	assert.Equal(t, 62, w.Len())
	assert.Equal(t, s.At(45), w.At(15))
	// the pulse cut by To is dropped, the rest shift by From
	assert.Equal(t, Train{{Start: 10, Duration: 12}}, ExtractEdges(w, Options{Mode: ModeLSB}))
}
