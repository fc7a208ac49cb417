package syncdna

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
)

func TestVerifyAudioVideoAt250kHz(t *testing.T) {
	ctx := context.Background()
	f := newFixtureAt(t, t.TempDir(), "20240315_142501", 250000, "cam3")
	require.Equal(t, 2500, f.Period)
	f.writeTriggers(t, "m", testFrames, f.Period)
	f.writeIPIs(t, "m", cam3Pulses, 0)
	svc := newTestService(t, testSettings(t, "cam3"))

	crop, err := svc.CropAudio(ctx, f.Root)
	require.NoError(t, err)
	assert.Equal(t, testFrames*f.Period+1, crop.Devices["m"].DurationSamples)
	assert.Equal(t, 250000.0, crop.Devices["m"].SampleRate)

	av, err := svc.VerifyAudioVideo(ctx, f.Root)
	require.NoError(t, err)
	require.Len(t, av.Cameras, 1)
	cam := av.Cameras[0]
	assert.Equal(t, 2, cam.Window.Offset)
	assert.Equal(t, []int{100, 212, 350, 451, 574}, cam.Starts)

	require.Len(t, av.Devices, 1)
	dev := av.Devices[0]
	assert.Equal(t, 250000, dev.AudioStarts[0])
	for i, d := range dev.DiscrepancyMs {
		assert.InDelta(t, 0, d, 1e-9, "pulse %d", i)
	}
	// the trigger of frame 100 sits on the IPI start, so frame 99 is the
	// last one strictly before it
	assert.Equal(t, -1, dev.FrameDiscrepancy[0])

	doc, err := loadDiscrepancy(dev.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, 250000, doc.AudioStarts[0])
	assert.Equal(t, 100, doc.VideoStarts[0])
	assert.InDelta(t, 0, doc.DiscrepancyMs[0], 1e-9)
	assert.Empty(t, doc.NIDQStarts)
	assert.True(t, av.Decision.Approved)
}

// addGlitches splits the first IPI of a device with a two-sample spike and
// adds a three-sample dropout before it.
func (f *fixture) addGlitches(t *testing.T, device string) {
	t.Helper()
	path := f.audioPath(device, 2)
	chans, rate, err := audio.ReadWAV(path)
	require.NoError(t, err)
	s := chans[0]

	split := recordingStart + cam1Pulses[0][0]*f.Period + 100
	s[split] |= 1
	s[split+1] |= 1
	drop := recordingStart + 20*f.Period
	for i := drop; i < drop+3; i++ {
		s[i] &^= 1
	}
	require.NoError(t, audio.WriteWAV(path, rate, s))
}

func TestVerifyAudioVideoSuppressesGlitches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir(), "20240315_142501", "cam1")
	f.writeTriggers(t, "m", testFrames, samplesPerFr)
	f.writeIPIs(t, "m", cam1Pulses, 0)
	f.addGlitches(t, "m")

	strict := newTestService(t, testSettings(t, "cam1"))
	_, err := strict.CropAudio(ctx, f.Root)
	require.NoError(t, err)
	_, err = strict.VerifyAudioVideo(ctx, f.Root)
	require.ErrorIs(t, err, ErrSequenceMismatch)

	set := testSettings(t, "cam1")
	set.Audio.GlitchMergeSamples = 5
	set.Audio.GlitchMinSamples = 10
	svc := newTestService(t, set)
	av, err := svc.VerifyAudioVideo(ctx, f.Root)
	require.NoError(t, err)
	dev := av.Devices[0]
	assert.Equal(t, 6, dev.Pulses)
	assert.Equal(t, cam1Pulses[0][0]*samplesPerFr, dev.AudioStarts[0])
	for i, d := range dev.DiscrepancyMs {
		assert.InDelta(t, 0, d, 1e-9, "pulse %d", i)
	}
}

func TestVerifyAudioVideoReportsDeviceStartSpread(t *testing.T) {
	f := newFixture(t, t.TempDir(), "20240315_142501", "cam1")
	f.writeTriggers(t, "m", testFrames, samplesPerFr)
	f.writeTriggers(t, "s", testFrames, samplesPerFr)
	f.writeIPIs(t, "m", cam1Pulses, 0)
	f.writeIPIs(t, "s", cam1Pulses, 3)
	set := testSettings(t, "cam1")
	set.Audio.TriggerboxDevices = []string{"m", "s"}
	svc := newTestService(t, set)

	out, err := svc.ProcessSession(context.Background(), f.Root)
	require.NoError(t, err)
	require.Len(t, out.AV.Devices, 2)
	want := report.Spread{N: 6, Min: 3, Max: 3, Mean: 3}
	require.NotNil(t, out.AV.DeviceStartDiff)
	assert.Equal(t, want, *out.AV.DeviceStartDiff)
	assert.Equal(t, &want, out.Result().DeviceStartDifference)
	assert.Nil(t, out.Result().NIDQ)
}

// writeNIDQ writes a two-channel DAQ recording at rate whose digital word
// carries camera triggers on bit 0 and the IPI train, offset by shift
// samples, active low on bit 1.
func (f *fixture) writeNIDQ(t *testing.T, rate, shift int, pulses [][2]int) string {
	t.Helper()
	const start = 1000
	period := rate / testFPS
	word := make([]int16, start+(testFrames+5)*period)
	for i := range word {
		word[i] = 2
	}
	trigger := func(st int) {
		for i := st; i < st+5; i++ {
			word[i] |= 1
		}
	}
	trigger(100)
	for k := 0; k <= testFrames; k++ {
		trigger(start + k*period)
	}
	for _, p := range pulses {
		for i := start + p[0]*period + shift; i < start+p[1]*period+shift; i++ {
			word[i] &^= 2
		}
	}

	data := make([]int16, 0, 2*len(word))
	for i, w := range word {
		data = append(data, int16(i%113), w)
	}
	path := filepath.Join(f.Root, "ephys", "20240315_g0_t0.nidq.bin")
	writeFile(t, filepath.Join(f.Root, "ephys", "20240315_g0_t0.nidq.meta"),
		fmt.Sprintf("nSavedChans=2\nniSampRate=%d\n", rate))
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, binary.Write(out, binary.LittleEndian, data))
	return path
}

func TestVerifyAudioVideoReadsNIDQ(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, t.TempDir(), "20240315_142501", "cam1")
	f.writeTriggers(t, "m", testFrames, samplesPerFr)
	f.writeIPIs(t, "m", cam1Pulses, 0)
	// 20 samples at 10 kHz: the DAQ sees every IPI 2 ms late
	nidqPath := f.writeNIDQ(t, 10000, 20, cam1Pulses)
	svc := newTestService(t, testSettings(t, "cam1"))

	out, err := svc.ProcessSession(ctx, f.Root)
	require.NoError(t, err)
	assert.Equal(t, Committed, out.State)
	assert.True(t, out.OriginalsDeleted)

	n := out.AV.NIDQ
	require.NotNil(t, n)
	assert.Equal(t, 1000, n.Start)
	assert.Equal(t, 1000+testFrames*100, n.End)
	assert.InDelta(t, 0, n.VideoDifferenceSeconds, 1e-9)
	assert.Equal(t, []int{5020, 16220, 30020, 40120, 52420, 66820}, n.Starts)
	assert.Equal(t, []float64{620, 880, 510, 730, 940, 400}, n.DurationsMs)
	require.Len(t, out.AV.NIDQDiscrepancyMs, 6)
	for i, d := range out.AV.NIDQDiscrepancyMs {
		assert.InDelta(t, 2, d, 1e-9, "pulse %d", i)
	}

	doc, err := loadDiscrepancy(out.AV.Devices[0].ReportPath)
	require.NoError(t, err)
	assert.Equal(t, n.Starts, doc.NIDQStarts)
	assert.Equal(t, n.DurationsMs, doc.NIDQDurationsMs)
	assert.InDelta(t, 2, doc.NIDQDiscrepancyMs[5], 1e-9)

	res := out.Result()
	require.NotNil(t, res.NIDQ)
	assert.Equal(t, 6, res.NIDQ.Pulses)
	assert.InDelta(t, 2, res.NIDQ.Discrepancy.Median, 1e-9)
	assert.FileExists(t, filepath.Join(f.Root, "sync", "nidq_ipi_data.json"))

	// later runs read the cached train
	require.NoError(t, os.Truncate(nidqPath, 0))
	av, err := svc.VerifyAudioVideo(ctx, f.Root)
	require.NoError(t, err)
	assert.Equal(t, n, av.NIDQ)
}

func TestVerifyAudioVideoSkipsNIDQWhenDisabled(t *testing.T) {
	f := newFixture(t, t.TempDir(), "20240315_142501", "cam1")
	f.writeTriggers(t, "m", testFrames, samplesPerFr)
	f.writeIPIs(t, "m", cam1Pulses, 0)
	f.writeNIDQ(t, 10000, 0, cam1Pulses)
	set := testSettings(t, "cam1")
	set.Ephys.NIDQ.Enabled = false
	svc := newTestService(t, set)

	_, err := svc.CropAudio(context.Background(), f.Root)
	require.NoError(t, err)
	av, err := svc.VerifyAudioVideo(context.Background(), f.Root)
	require.NoError(t, err)
	assert.Nil(t, av.NIDQ)
	assert.NoFileExists(t, filepath.Join(f.Root, "sync", "nidq_ipi_data.json"))
}
