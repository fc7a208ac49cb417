package syncdna

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/drift"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/procpool"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

// findDeviceBounds locates the video span on one device's triggerbox
// channel and writes the per-frame trigger samples next to the sync data.
func (s *syncService) findDeviceBounds(sess *Session, device string, cd video.CountDict, log Logger) (DeviceBounds, error) {
	set := s.config.Settings
	cf, err := audio.FindChannelFile(sess.AudioOriginalDir(), device, set.Audio.TriggerboxChannel)
	if err != nil {
		return DeviceBounds{}, err
	}
	pcm, err := audio.OpenPCM(cf.Path)
	if err != nil {
		return DeviceBounds{}, err
	}
	defer pcm.Close()

	view, err := pcm.Channel(0)
	if err != nil {
		return DeviceBounds{}, err
	}
	total := cd.TotalFrameNumberLeast
	rising, _ := pulse.Transitions(view, pulse.Options{Mode: pulse.ModeLSB, Bit: set.Audio.SyncBit})
	b := pulse.FindBounds(rising, total)
	if !b.Found {
		after := 0
		if len(rising) > 1 {
			after = len(rising) - b.GapIndex - 1
		}
		return DeviceBounds{}, fmt.Errorf("%w: device %s has %d trigger pulses after the largest break, need %d",
			ErrInsufficientPulses, device, after, total)
	}

	sr := pcm.SampleRate()
	db := DeviceBounds{
		StartFirstRecordedFrame: b.Start,
		EndLastRecordedFrame:    b.End,
		LargestBreakDuration:    b.LargestGap,
		DurationSamples:         b.Duration(),
		SampleRate:              sr,
	}
	db.DurationSeconds = round4(float64(db.DurationSamples) / sr)
	db.AudioTrackingDiffSeconds = round4(db.DurationSeconds - cd.TotalVideoTimeLeast)

	log.Infof("device %s: largest break %.3f s, tracking starts at sample %s and ends at %s (%.4f s, %+.4f s vs video)",
		device, float64(b.LargestGap)/sr, humanize.Comma(int64(b.Start)), humanize.Comma(int64(b.End)),
		db.DurationSeconds, db.AudioTrackingDiffSeconds)

	startsPath := sess.FrameStartsPath(device)
	if !utils.FileExists(startsPath) {
		var sb strings.Builder
		for _, v := range b.FrameStarts(rising, total) {
			sb.WriteString(strconv.Itoa(v))
			sb.WriteByte('\n')
		}
		if err := utils.MakeDir(sess.SyncDir()); err != nil {
			return DeviceBounds{}, err
		}
		if err := utils.WriteFileAtomic(startsPath, []byte(sb.String()), 0o644); err != nil {
			return DeviceBounds{}, fmt.Errorf("writing frame starts: %w", err)
		}
	}
	return db, nil
}

// LoadTriggerboxInfo reads the bounds written by a previous crop.
func LoadTriggerboxInfo(path string) (TriggerboxInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := TriggerboxInfo{}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return info, nil
}

func (info TriggerboxInfo) save(path string) error {
	data, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// stretchTarget returns the longer device and the sample count to fit it
// to whenever both devices are present and their lengths differ.
func stretchTarget(info TriggerboxInfo) (string, int) {
	m, okM := info["m"]
	sl, okS := info["s"]
	if !okM || !okS || m.DurationSamples == sl.DurationSamples {
		return "", 0
	}
	if m.DurationSamples > sl.DurationSamples {
		return "m", sl.DurationSamples
	}
	return "s", m.DurationSamples
}

type cropPlan struct {
	file   audio.ChannelFile
	bounds DeviceBounds
	target int
	output string
}

func (s *syncService) cropAudio(ctx context.Context, sess *Session, log Logger) (*CropResult, error) {
	set := s.config.Settings
	cd, _, err := video.LoadCountDict(sess.VideoDir())
	if err != nil {
		return nil, err
	}

	info := TriggerboxInfo{}
	for _, device := range set.Audio.TriggerboxDevices {
		db, err := s.findDeviceBounds(sess, device, cd, log)
		if err != nil {
			return nil, err
		}
		info[device] = db
	}
	if err := info.save(sess.TriggerboxInfoPath()); err != nil {
		return nil, fmt.Errorf("saving triggerbox info: %w", err)
	}

	stretched, target := stretchTarget(info)
	if stretched != "" {
		gap := abs(info["m"].DurationSamples - info["s"].DurationSamples)
		logf := log.Infof
		if float64(gap)/info[stretched].SampleRate*1000 > set.Sync.MinResyncMs {
			logf = log.Warnf
		}
		logf("devices differ by %d samples; fitting %s to %s samples", gap, stretched, humanize.Comma(int64(target)))
	}

	files, err := audio.ListChannelFiles(sess.AudioOriginalDir(), "")
	if err != nil {
		return nil, err
	}
	if err := utils.MakeDir(sess.AudioCroppedDir()); err != nil {
		return nil, err
	}

	var only DeviceBounds
	for _, db := range info {
		only = db
	}
	plans := make([]cropPlan, 0, len(files))
	for _, f := range files {
		b, ok := info[f.Device]
		if !ok {
			if len(info) != 1 {
				return nil, fmt.Errorf("no triggerbox bounds for device %s", f.Device)
			}
			b = only
		}
		p := cropPlan{
			file:   f,
			bounds: b,
			target: b.DurationSamples,
			output: filepath.Join(sess.AudioCroppedDir(), audio.CroppedName(f.Path)),
		}
		if f.Device == stretched {
			p.target = target
		}
		plans = append(plans, p)
	}

	res := &CropResult{Devices: info, Stretched: stretched, Backend: set.Audio.CropBackend}
	switch set.Audio.CropBackend {
	case "sox":
		err = s.cropWithSox(ctx, plans, log)
	default:
		err = s.cropNative(ctx, plans)
	}
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		res.Outputs = append(res.Outputs, p.output)
	}
	log.Infof("cropped %d channel files to the video span", len(plans))
	return res, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// readSegment copies [start, start+n) of every channel of a file.
func readSegment(path string, start, n int) ([][]int16, int, error) {
	pcm, err := audio.OpenPCM(path)
	if err != nil {
		return nil, 0, err
	}
	defer pcm.Close()

	chans := make([][]int16, pcm.Channels())
	for ch := range chans {
		view, err := pcm.Channel(ch)
		if err != nil {
			return nil, 0, err
		}
		chans[ch] = view.Slice(start, start+n)
		if len(chans[ch]) != n {
			return nil, 0, fmt.Errorf("%s: %d samples past %d requested, %d available",
				filepath.Base(path), n, start, len(chans[ch]))
		}
	}
	return chans, int(pcm.SampleRate()), nil
}

func (s *syncService) cropNative(ctx context.Context, plans []cropPlan) error {
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return err
		}
		chans, sr, err := readSegment(p.file.Path, p.bounds.StartFirstRecordedFrame, p.bounds.DurationSamples)
		if err != nil {
			return err
		}
		for ch := range chans {
			chans[ch], err = drift.Fit(chans[ch], p.target, s.stretcher)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p.file.Path), err)
			}
		}
		if err := audio.WriteWAV(p.output, sr, chans...); err != nil {
			return err
		}
	}
	return nil
}

// cropWithSox runs every trim concurrently, then restores the sync bits of
// stretched files from the originals.
func (s *syncService) cropWithSox(ctx context.Context, plans []cropPlan, log Logger) error {
	set := s.config.Settings
	pool := procpool.New(log)
	for _, p := range plans {
		job := audio.TrimJob{
			Input:    p.file.Path,
			Output:   p.output,
			Start:    p.bounds.StartFirstRecordedFrame,
			Duration: p.bounds.DurationSamples,
		}
		if p.target != p.bounds.DurationSamples {
			job.Tempo = float64(p.bounds.DurationSamples) / float64(p.target)
		}
		log.Debugf("starting %s", job)
		if err := pool.Start(filepath.Base(p.file.Path), job.Command(ctx, set.Audio.SoxBin)); err != nil {
			return err
		}
	}
	if _, err := pool.Wait(ctx, set.Audio.PollInterval); err != nil {
		return fmt.Errorf("sox crop: %w", err)
	}

	for _, p := range plans {
		if p.target == p.bounds.DurationSamples {
			continue
		}
		if err := resplice(p); err != nil {
			return err
		}
	}
	return nil
}

func resplice(p cropPlan) error {
	orig, _, err := readSegment(p.file.Path, p.bounds.StartFirstRecordedFrame, p.bounds.DurationSamples)
	if err != nil {
		return err
	}
	stretched, sr, err := audio.ReadWAV(p.output)
	if err != nil {
		return err
	}
	if len(stretched) != len(orig) {
		return errors.New("stretched file lost channels")
	}
	for ch := range stretched {
		stretched[ch] = drift.SpliceBits(stretched[ch], drift.ResampleBits(orig[ch], p.target))
	}
	return audio.WriteWAV(p.output, sr, stretched...)
}
