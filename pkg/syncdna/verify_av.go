package syncdna

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/ephys"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/sequence"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// DiscrepancyMs is how far an audio pulse start leads the matching video
// pulse start, in milliseconds.
func DiscrepancyMs(audioStart int, audioRate float64, videoStart int, fps float64) float64 {
	return (float64(audioStart)/audioRate - float64(videoStart)/fps) * 1000
}

// discrepancyDoc is the per-file report written to the sync directory and
// re-read by CommitDeletion.
type discrepancyDoc struct {
	AudioFile        string         `json:"audio_file"`
	Camera           string         `json:"camera"`
	DiscrepancyMs    []float64      `json:"ipi_discrepancy_ms"`
	AudioStarts      []int          `json:"audio_ipi_start_samples"`
	VideoStarts      []int          `json:"video_ipi_start_frames"`
	PredictionErrors []float64      `json:"prediction_error_frames"`
	FrameDiscrepancy []int          `json:"frame_discrepancy"`
	Summary          report.Summary `json:"summary"`

	NIDQDurationsMs   []float64 `json:"nidq_ipi_durations_ms,omitempty"`
	NIDQDiscrepancyMs []float64 `json:"nidq_ipi_discrepancy_ms,omitempty"`
	NIDQStarts        []int     `json:"nidq_ipi_start_samples,omitempty"`
}

func loadDiscrepancy(path string) (discrepancyDoc, error) {
	var doc discrepancyDoc
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// readFrameStarts loads the per-frame trigger samples written at crop time.
func readFrameStarts(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

// frameOf returns the frame whose trigger last precedes sample, or -1.
func frameOf(frameStarts []int, sample int) int {
	return sort.SearchInts(frameStarts, sample) - 1
}

func (s *syncService) audioPolarity() pulse.Polarity {
	if s.config.Settings.Audio.LSBPolarity == "active_high" {
		return pulse.ActiveHigh
	}
	return pulse.ActiveLow
}

// cleanTrain applies the configured glitch suppression to an IPI train.
func (s *syncService) cleanTrain(t pulse.Train) pulse.Train {
	a := s.config.Settings.Audio
	if a.GlitchMinSamples == 0 && a.GlitchMergeSamples == 0 {
		return t
	}
	return pulse.SuppressGlitches(t, a.GlitchMinSamples, a.GlitchMergeSamples)
}

// compareDevice aligns one cropped sync channel file with the video train.
func (s *syncService) compareDevice(sess *Session, f audio.ChannelFile, cam CameraSync, frameTimes *video.FrameStream, nidq *ephys.NIDQSync, log Logger) (DeviceSync, error) {
	set := s.config.Settings
	pcm, err := audio.OpenPCM(f.Path)
	if err != nil {
		return DeviceSync{}, err
	}
	view, err := pcm.Channel(0)
	if err != nil {
		pcm.Close()
		return DeviceSync{}, err
	}
	sr := pcm.SampleRate()
	train := s.cleanTrain(pulse.ExtractEdges(view, pulse.Options{Mode: pulse.ModeLSB, Polarity: s.audioPolarity(), Bit: set.Audio.SyncBit}))
	pcm.Close()

	name := filepath.Base(f.Path)
	if len(train) == 0 {
		return DeviceSync{}, fmt.Errorf("%w: no IPI pulses in %s", ErrInsufficientPulses, name)
	}
	if len(train) != cam.Window.Len() {
		return DeviceSync{}, fmt.Errorf("%w: %s has %d IPI pulses, video has %d",
			ErrSequenceMismatch, name, len(train), cam.Window.Len())
	}
	durations := train.DurationsMs(sr)
	for i := range durations {
		durations[i] = math.Round(durations[i])
	}
	if !sequence.DiffWithin(durations, cam.Window.Durations, set.Sync.ToleranceMs) {
		return DeviceSync{}, fmt.Errorf("%w: %s IPI durations differ from the LED train by more than %g ms",
			ErrSequenceMismatch, name, set.Sync.ToleranceMs)
	}

	starts := train.Starts()
	ds := DeviceSync{
		Device:        f.Device,
		File:          f.Path,
		Pulses:        len(train),
		AudioStarts:   starts,
		DiscrepancyMs: make([]float64, len(starts)),
		ReportPath:    sess.DiscrepancyPath(f.Path),
	}
	for i, a := range starts {
		v := cam.Starts[i]
		if frameTimes != nil {
			if t, ok := frameTimes.StartTime(v); ok {
				ds.DiscrepancyMs[i] = (float64(a)/sr - t) * 1000
				continue
			}
		}
		ds.DiscrepancyMs[i] = DiscrepancyMs(a, sr, v, cam.FPS)
	}

	if fs, err := readFrameStarts(sess.FrameStartsPath(f.Device)); err == nil {
		for i, a := range starts {
			ds.FrameDiscrepancy = append(ds.FrameDiscrepancy, frameOf(fs, a)-cam.Starts[i])
		}
	} else {
		log.Debugf("no frame starts for device %s: %v", f.Device, err)
	}

	xs := make([]float64, len(starts))
	ys := make([]float64, len(starts))
	for i := range starts {
		xs[i], ys[i] = float64(starts[i]), float64(cam.Starts[i])
	}
	if pe, err := report.PredictionErrors(xs, ys, set.Sync.RegressionSeed); err == nil {
		ds.PredictionErrors = pe
	} else {
		log.Debugf("%s: skipping regression check: %v", name, err)
	}
	ds.Summary = report.Summarize(ds.DiscrepancyMs)

	doc := discrepancyDoc{
		AudioFile:        name,
		Camera:           cam.Camera,
		DiscrepancyMs:    ds.DiscrepancyMs,
		AudioStarts:      starts,
		VideoStarts:      cam.Starts,
		PredictionErrors: ds.PredictionErrors,
		FrameDiscrepancy: ds.FrameDiscrepancy,
		Summary:          ds.Summary,
	}
	if nidq != nil {
		doc.NIDQDurationsMs = nidq.DurationsMs
		doc.NIDQDiscrepancyMs = nidq.DiscrepancyMs(cam.Starts, cam.FPS)
		doc.NIDQStarts = nidq.Starts
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return DeviceSync{}, err
	}
	if err := utils.WriteFileAtomic(ds.ReportPath, data, 0o644); err != nil {
		return DeviceSync{}, fmt.Errorf("writing %s: %w", filepath.Base(ds.ReportPath), err)
	}

	log.Infof("%s: %d IPIs, discrepancy median %.3f ms, mean %.3f ms, 99%% CI [%.3f, %.3f], max |%.3f| ms",
		name, ds.Pulses, ds.Summary.Median, ds.Summary.Mean, ds.Summary.CILow, ds.Summary.CIHigh, ds.Summary.MaxAbs)
	return ds, nil
}

func (s *syncService) verifyAudioVideo(ctx context.Context, sess *Session, log Logger) (*AVResult, error) {
	set := s.config.Settings
	cd, _, err := video.LoadCountDict(sess.VideoDir())
	if err != nil {
		return nil, err
	}
	ref, refPath, err := sequence.LoadReference(sess.SyncDir(), set.Sync.ReferencePattern, set.Sync.HeaderLines)
	if errors.Is(err, sequence.ErrNoReference) {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientPulses, err)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("controller log %s: %d pulses", filepath.Base(refPath), len(ref))

	cams, err := s.videoTrains(ctx, sess, cd, ref, log)
	if err != nil {
		return nil, err
	}
	cam := cams[0]

	var frameTimes *video.FrameStream
	if set.Video.UseFrameTimes {
		if p, ok := video.FindFrameTimes(sess.VideoDir(), cam.Camera); ok {
			st, err := video.LoadFrameTimes(p, cam.Camera)
			if err != nil {
				return nil, err
			}
			frameTimes = &st
		}
	}

	nidq, err := s.nidqSync(sess, cd, log)
	if err != nil {
		return nil, err
	}

	files, err := audio.ListChannelFiles(sess.AudioCroppedDir(), "")
	if err != nil {
		return nil, err
	}
	res := &AVResult{Cameras: cams, NIDQ: nidq}
	if nidq != nil {
		res.NIDQDiscrepancyMs = nidq.DiscrepancyMs(cam.Starts, cam.FPS)
		if res.NIDQDiscrepancyMs == nil {
			log.Warnf("NIDQ has %d IPIs, video has %d; skipping the NIDQ comparison", len(nidq.Starts), len(cam.Starts))
		} else {
			sum := report.Summarize(res.NIDQDiscrepancyMs)
			log.Infof("NIDQ: %d IPIs, discrepancy median %.3f ms, max |%.3f| ms", sum.N, sum.Median, sum.MaxAbs)
		}
	}
	for _, f := range files {
		if f.Channel != set.Audio.SyncChannel {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := s.compareDevice(sess, f, cam, frameTimes, nidq, log)
		if err != nil {
			return nil, err
		}
		res.Devices = append(res.Devices, ds)
	}
	if len(res.Devices) == 0 {
		return nil, fmt.Errorf("%w: no cropped channel %d files in %s",
			ErrInsufficientPulses, set.Audio.SyncChannel, sess.AudioCroppedDir())
	}

	if len(res.Devices) > 1 {
		res.DeviceStartDiff = deviceStartDiff(res.Devices[0].AudioStarts, res.Devices[1].AudioStarts)
		if sp := res.DeviceStartDiff; sp != nil {
			log.Infof("IPI start sample difference across %s/%s: smallest %g, largest %g, mean %.2f",
				res.Devices[0].Device, res.Devices[1].Device, sp.Min, sp.Max, sp.Mean)
		}
	}

	res.Decision = s.decide(sess, res)
	return res, nil
}

// deviceStartDiff measures |a[i] - b[i]| per IPI. It returns nil when the
// devices saw different pulse counts.
func deviceStartDiff(a, b []int) *report.Spread {
	if len(a) != len(b) || len(a) == 0 {
		return nil
	}
	diffs := make([]float64, len(a))
	for i := range a {
		diffs[i] = math.Abs(float64(a[i] - b[i]))
	}
	sp := report.SpreadOf(diffs)
	return &sp
}
