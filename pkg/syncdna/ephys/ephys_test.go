package ephys

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
)

const sampleMeta = `acqApLfSy=384,384,1
imDatHs_sn=23280319
imDatPrb_sn=19011119
imSampRate=30000
~imroTbl=(0,384)(0 0 0 500 250 1)
garbage line without separator
`

func TestParseMeta(t *testing.T) {
	m, err := ParseMeta(strings.NewReader(sampleMeta))
	require.NoError(t, err)
	assert.Equal(t, 385, m.Channels)
	assert.Equal(t, "23280319", m.HeadstageSN)
	assert.Equal(t, "19011119", m.ProbeSN)
	assert.Equal(t, 30000.0, m.SampleRate)
	assert.Equal(t, "(0,384)(0 0 0 500 250 1)", m.Raw["~imroTbl"])

	_, err = ParseMeta(strings.NewReader("imDatHs_sn=1\n"))
	assert.Error(t, err)
	_, err = ParseMeta(strings.NewReader("acqApLfSy=a,b\n"))
	assert.Error(t, err)
}

func TestCalibrationRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibrated_sample_rates_imec.toml")
	require.NoError(t, os.WriteFile(path, []byte("[CalibratedHeadStages]\n\"23280319\" = 30000.1183\n"), 0o644))

	c, err := LoadCalibration(path)
	require.NoError(t, err)

	r, err := c.Rate(Meta{HeadstageSN: "23280319", SampleRate: 30000})
	require.NoError(t, err)
	assert.Equal(t, 30000.1183, r)

	r, err = c.Rate(Meta{HeadstageSN: "other", SampleRate: 30000})
	require.NoError(t, err)
	assert.Equal(t, 30000.0, r)

	_, err = c.Rate(Meta{HeadstageSN: "other"})
	assert.Error(t, err)
}

func TestParseAndFindRecordings(t *testing.T) {
	rec, ok := ParseRecording("/x/20240101_g0_t0.imec0.ap.bin")
	require.True(t, ok)
	assert.Equal(t, "20240101_g0_t0.imec0", rec.Key)
	assert.Equal(t, "imec0", rec.Probe)
	_, ok = ParseRecording("/x/data.bin")
	assert.False(t, ok)

	root := t.TempDir()
	dir := filepath.Join(root, "ephys", "20240101_g0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range []string{"20240101_g0_t0.imec1.ap.bin", "20240101_g0_t0.imec0.ap.bin", "20240101_g0_t0.imec0.lf.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	recs, err := FindRecordings(root, "ap")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "imec0", recs[0].Probe)
	assert.Equal(t, "imec1", recs[1].Probe)
}

// writeRecording interleaves channels-1 noise channels with a sync channel.
func writeRecording(t *testing.T, path string, channels int, sync []int16) {
	t.Helper()
	data := make([]int16, 0, len(sync)*channels)
	for i, s := range sync {
		for c := 0; c < channels-1; c++ {
			data = append(data, int16(i*31+c*7))
		}
		data = append(data, s)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, binary.Write(f, binary.LittleEndian, data))
}

// cameraSync has a few stray pulses, a long dead time and then frames
// triggers every period samples.
func cameraSync(frames, period int) []int16 {
	n := 2000 + (frames+2)*period
	s := make([]int16, n)
	for _, st := range []int{50, 150} {
		for i := st; i < st+3; i++ {
			s[i] = 64
		}
	}
	for f := 0; f <= frames; f++ {
		st := 1500 + f*period
		for i := st; i < st+3; i++ {
			s[i] = 64
		}
	}
	return s
}

func TestSyncChannelAndEvaluate(t *testing.T) {
	const channels, frames, period, rate = 5, 100, 10, 1000.0
	sync := cameraSync(frames, period)
	path := filepath.Join(t.TempDir(), "rec.imec0.ap.bin")
	writeRecording(t, path, channels, sync)

	b, err := OpenBinary(path, channels)
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, len(sync), b.Samples())
	view := b.SyncChannel()
	for _, i := range []int{0, 50, 1500, len(sync) - 1} {
		assert.Equal(t, sync[i], view.At(i), "sample %d", i)
	}
	assert.Equal(t, int16(2*31+7), b.Channel(1).At(2))

	videoTime := float64(frames*period) / rate
	c := Evaluate(view, rate, frames, videoTime, 5)
	require.True(t, c.Bounds.Found)
	assert.Equal(t, 1500, c.Bounds.Start)
	assert.Zero(t, c.DifferenceMs)
	assert.True(t, c.Within)
	assert.InDelta(t, 1.35, c.LargestGapSec, 1e-9)

	c = Evaluate(view, rate, frames, videoTime+0.02, 5)
	assert.Equal(t, -20.0, c.DifferenceMs)
	assert.False(t, c.Within)

	c = Evaluate(view, rate, frames+5, videoTime, 5)
	assert.False(t, c.Bounds.Found)
}

func TestValueHistogram(t *testing.T) {
	h := ValueHistogram(pulse.Samples{0, 64, 0, 0, 64, 3})
	assert.Equal(t, []ValueCount{{0, 3}, {64, 2}, {3, 1}}, h)
}

func TestParseNIDQMeta(t *testing.T) {
	m, err := ParseNIDQMeta(strings.NewReader("nSavedChans=9\nniSampRate=62500.1\nsnsMnMaXaDw=0,0,8,1\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, m.Channels)
	assert.Equal(t, 62500.1, m.SampleRate)

	_, err = ParseNIDQMeta(strings.NewReader("nSavedChans=nine\n"))
	assert.ErrorContains(t, err, "nSavedChans")

	m, err = LoadNIDQMeta(filepath.Join(t.TempDir(), "x.nidq.bin"))
	require.NoError(t, err)
	assert.Zero(t, m.Channels)
}

func TestFindNIDQ(t *testing.T) {
	root := t.TempDir()
	_, ok, err := FindNIDQ(root)
	require.NoError(t, err)
	assert.False(t, ok)

	dir := filepath.Join(root, "ephys")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range []string{"b_g0_t0.nidq.bin", "a_g0_t0.nidq.bin", "a_g0_t0.nidq.meta"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	path, ok, err := FindNIDQ(root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a_g0_t0.nidq.bin", filepath.Base(path))
}

// daqWord puts camera triggers on bit 0 and an active-low IPI line on bit 1.
func daqWord(frames, period int, ipis ...[2]int) pulse.Samples {
	s := make(pulse.Samples, 400+(frames+2)*period)
	for i := range s {
		s[i] = 2
	}
	trigger := func(st int) {
		for i := st; i < st+3; i++ {
			s[i] |= 1
		}
	}
	trigger(20)
	for f := 0; f <= frames; f++ {
		trigger(300 + f*period)
	}
	for _, p := range ipis {
		for i := p[0]; i < p[1]; i++ {
			s[i] &^= 2
		}
	}
	return s
}

func TestExtractNIDQ(t *testing.T) {
	word := daqWord(50, 10, [2]int{350, 400}, [2]int{500, 560}, [2]int{790, 900})
	n, err := ExtractNIDQ(word, NIDQOptions{SampleRate: 1000, SyncBit: 1, TotalFrames: 50, VideoSeconds: 0.49})
	require.NoError(t, err)
	assert.Equal(t, 300, n.Start)
	assert.Equal(t, 800, n.End)
	assert.Equal(t, 280, n.LargestBreakSamples)
	assert.InDelta(t, 0.5, n.DurationSeconds, 1e-12)
	assert.InDelta(t, 0.01, n.VideoDifferenceSeconds, 1e-12)
	// the pulse running past the tracking span is dropped
	assert.Equal(t, []int{50, 200}, n.Starts)
	assert.Equal(t, []float64{50, 60}, n.DurationsMs)

	d := n.DiscrepancyMs([]int{5, 19}, 100)
	require.Len(t, d, 2)
	assert.InDelta(t, 0, d[0], 1e-9)
	assert.InDelta(t, 10, d[1], 1e-9)
	assert.Nil(t, n.DiscrepancyMs([]int{5}, 100))

	_, err = ExtractNIDQ(word, NIDQOptions{SampleRate: 1000, SyncBit: 1, TotalFrames: 60})
	assert.ErrorIs(t, err, ErrNoTriggerSpan)
}

func TestExtractNIDQFromBinary(t *testing.T) {
	word := daqWord(50, 10, [2]int{350, 400})
	path := filepath.Join(t.TempDir(), "rec_g0_t0.nidq.bin")
	writeRecording(t, path, 3, word)

	b, err := OpenBinary(path, 3)
	require.NoError(t, err)
	defer b.Close()

	drop := func(tr pulse.Train) pulse.Train { return pulse.SuppressGlitches(tr, 60, 0) }
	n, err := ExtractNIDQ(b.SyncChannel(), NIDQOptions{SampleRate: 1000, SyncBit: 1, TotalFrames: 50, Clean: drop})
	require.NoError(t, err)
	assert.Empty(t, n.Starts)
}
