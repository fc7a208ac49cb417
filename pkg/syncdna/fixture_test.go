package syncdna

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/SyncDNA/pkg/config"
	"github.com/himanishpuri/SyncDNA/pkg/logger"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/led"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
)

const (
	testFPS        = 100
	testRate       = 20000
	testFrames     = 760
	samplesPerFr   = testRate / testFPS
	recordingStart = 2000
	bright, dark   = 200, 20
)

var testReference = []float64{1000, 450, 620, 880, 510, 730, 940, 400, 560, 690, 810, 470}

// cam1 sees reference pulses 2..7, cam2 pulses 3..8 and cam3 pulses 2..6
// starting at frame 100. Each pair is the [first, last) dark frame.
var (
	cam1Pulses = [][2]int{{50, 112}, {162, 250}, {300, 351}, {401, 474}, {524, 618}, {668, 708}}
	cam2Pulses = [][2]int{{50, 138}, {188, 239}, {289, 362}, {412, 506}, {556, 596}, {646, 702}}
	cam3Pulses = [][2]int{{100, 162}, {212, 300}, {350, 401}, {451, 524}, {574, 668}}
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.FATAL, Output: io.Discard})
}

// ledFrames renders tiny uniform frames that go dark during each pulse.
func ledFrames(n int, pulses [][2]int) video.Frames {
	level := make([]uint8, n)
	for i := range level {
		level[i] = bright
	}
	for _, p := range pulses {
		for i := p[0]; i < p[1]; i++ {
			level[i] = dark
		}
	}
	frames := make(video.Frames, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.Set(x, y, color.RGBA{R: level[i], G: level[i], B: level[i], A: 255})
			}
		}
		frames[i] = img
	}
	return frames
}

func testPositions(t *testing.T) *led.PositionTable {
	t.Helper()
	tbl, err := led.NewPositionTable(map[string]map[string][]led.Region{
		led.CurrentVersion: {
			"cam1": {{Name: "LED_top", Row: 3, Col: 3}},
			"cam2": {{Name: "LED_top", Row: 4, Col: 4}},
			"cam3": {{Name: "LED_top", Row: 2, Col: 5}},
		},
	})
	require.NoError(t, err)
	return tbl
}

func testFrameSource(ctx context.Context, path string) (video.FrameSource, error) {
	switch {
	case strings.Contains(path, "cam2"):
		return ledFrames(testFrames, cam2Pulses), nil
	case strings.Contains(path, "cam3"):
		return ledFrames(testFrames, cam3Pulses), nil
	}
	return ledFrames(testFrames, cam1Pulses), nil
}

// fixture is an on-disk session whose audio was recorded at Rate with a
// camera trigger every Period samples.
type fixture struct {
	Root   string
	Rate   int
	Period int
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T, parent, name string, cameras ...string) *fixture {
	t.Helper()
	return newFixtureAt(t, parent, name, testRate, cameras...)
}

// newFixtureAt lays out a session whose audio runs at rate samples/s.
func newFixtureAt(t *testing.T, parent, name string, rate int, cameras ...string) *fixture {
	t.Helper()
	f := &fixture{Root: filepath.Join(parent, name), Rate: rate, Period: rate / testFPS}

	var b strings.Builder
	b.WriteString("{")
	for _, c := range cameras {
		fmt.Fprintf(&b, "%q: [%d, %d], ", c, testFrames, testFPS)
		writeFile(t, filepath.Join(f.Root, "video", c, c+".mp4"), "")
	}
	fmt.Fprintf(&b, `"total_frame_number_least": %d, "total_video_time_least": %g, "median_empirical_camera_sr": %d}`,
		testFrames, float64(testFrames)/testFPS, testFPS)
	writeFile(t, filepath.Join(f.Root, "video", name+video.CountDictSuffix), b.String())

	var ref strings.Builder
	ref.WriteString("CoolTerm capture\nport: usbmodem\n---\n")
	for _, v := range testReference {
		fmt.Fprintf(&ref, "%g\n", v)
	}
	writeFile(t, filepath.Join(f.Root, "sync", "CoolTerm Capture 2024-03-15.txt"), ref.String())
	return f
}

func (f *fixture) audioPath(device string, channel int) string {
	return filepath.Join(f.Root, "audio", "original", fmt.Sprintf("%s_20240315_ch%d.wav", device, channel))
}

func audioLength(period int) int {
	return recordingStart + period*testFrames + 1020
}

// writeTriggers writes a triggerbox channel with one stray trigger, a dead
// time, then frames+1 triggers spaced period samples apart.
func (f *fixture) writeTriggers(t *testing.T, device string, frames, period int) {
	t.Helper()
	f.writeSkewedTriggers(t, device, frames, period, 0)
}

// writeSkewedTriggers is writeTriggers with the final trigger delayed by
// skew samples.
func (f *fixture) writeSkewedTriggers(t *testing.T, device string, frames, period, skew int) {
	t.Helper()
	s := make([]int16, audioLength(period))
	for i := range s {
		s[i] = 1000
	}
	pulseAt := func(st int) {
		for i := st; i < st+20; i++ {
			s[i] |= 1
		}
	}
	pulseAt(100)
	for k := 0; k < frames; k++ {
		pulseAt(recordingStart + k*period)
	}
	pulseAt(recordingStart + frames*period + skew)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.audioPath(device, 4)), 0o755))
	require.NoError(t, audio.WriteWAV(f.audioPath(device, 4), f.Rate, s))
}

// writeIPIs writes an active-low IPI train mirroring the video pulses,
// offset by shift samples.
func (f *fixture) writeIPIs(t *testing.T, device string, pulses [][2]int, shift int) {
	t.Helper()
	s := make([]int16, audioLength(f.Period))
	for i := range s {
		s[i] = 1001
	}
	for _, p := range pulses {
		st := recordingStart + p[0]*f.Period + shift
		for i := st; i < st+(p[1]-p[0])*f.Period; i++ {
			s[i] &^= 1
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(f.audioPath(device, 2)), 0o755))
	require.NoError(t, audio.WriteWAV(f.audioPath(device, 2), f.Rate, s))
}

func testSettings(t *testing.T, cameras ...string) *config.Settings {
	t.Helper()
	set := config.Default()
	set.DBPath = filepath.Join(t.TempDir(), "runs.sqlite3")
	set.TempDir = t.TempDir()
	set.Audio.CropBackend = "native"
	set.Video.SyncCameras = cameras
	return set
}

// memStorage keeps runs in memory.
type memStorage struct {
	runs []Run
}

func (m *memStorage) RecordRun(run Run) (string, error) {
	run.ID = fmt.Sprintf("run-%d", len(m.runs)+1)
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *memStorage) ListRuns(limit int) ([]Run, error) { return m.runs, nil }

func (m *memStorage) SessionRuns(session string) ([]Run, error) {
	var out []Run
	for _, r := range m.runs {
		if r.Session == session {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStorage) GetRun(id string) (*Run, error) {
	for i := range m.runs {
		if m.runs[i].ID == id {
			return &m.runs[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found", id)
}

func (m *memStorage) DeleteRun(id string) error { return nil }
func (m *memStorage) Close() error              { return nil }

func (m *memStorage) CountRuns() (map[string]int, error) {
	out := map[string]int{}
	for _, r := range m.runs {
		out[r.Status]++
	}
	return out, nil
}

func newTestService(t *testing.T, set *config.Settings, opts ...Option) *syncService {
	t.Helper()
	base := []Option{
		WithSettings(set),
		WithLogger(quietLogger()),
		WithStorage(&memStorage{}),
		WithPositionTable(testPositions(t)),
		WithFrameSource(testFrameSource),
	}
	svc, err := NewService(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc.(*syncService)
}
