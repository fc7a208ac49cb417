package syncdna

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/ephys"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// nidqSync reads the IPI train off the session's DAQ recording, or the copy
// cached by an earlier run. It returns nil when there is no recording or its
// triggerbox bit carries too few camera triggers.
func (s *syncService) nidqSync(sess *Session, cd video.CountDict, log Logger) (*ephys.NIDQSync, error) {
	set := s.config.Settings.Ephys
	if !set.NIDQ.Enabled {
		return nil, nil
	}
	path, ok, err := ephys.FindNIDQ(sess.Root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	cache := sess.NIDQDataPath()
	if data, err := os.ReadFile(cache); err == nil {
		var n ephys.NIDQSync
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(cache), err)
		}
		log.Debugf("NIDQ: using cached IPI train (%d pulses)", len(n.Starts))
		return &n, nil
	}

	meta, err := ephys.LoadNIDQMeta(path)
	if err != nil {
		return nil, err
	}
	channels, rate := meta.Channels, meta.SampleRate
	if set.NIDQ.Channels > 0 {
		channels = set.NIDQ.Channels
	}
	if set.NIDQ.SampleRate > 0 {
		rate = set.NIDQ.SampleRate
	}
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("%s: unknown channel count or sample rate; set ephys.nidq.channels and ephys.nidq.sample_rate",
			filepath.Base(path))
	}

	bin, err := ephys.OpenBinary(path, channels)
	if err != nil {
		return nil, err
	}
	defer bin.Close()

	n, err := ephys.ExtractNIDQ(bin.SyncChannel(), ephys.NIDQOptions{
		SampleRate:    rate,
		TriggerboxBit: set.NIDQ.TriggerboxBit,
		SyncBit:       set.NIDQ.SyncBit,
		TotalFrames:   cd.TotalFrameNumberLeast,
		VideoSeconds:  cd.TotalVideoTimeLeast,
		Clean:         s.cleanTrain,
	})
	if errors.Is(err, ephys.ErrNoTriggerSpan) {
		log.Warnf("NIDQ %s: %v (largest break %.3f s)", filepath.Base(path), err, float64(n.LargestBreakSamples)/rate)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Infof("NIDQ: largest break %.3f s; video recording starts at sample %s and ends at %s (%.4f s, %+.4f s vs video)",
		float64(n.LargestBreakSamples)/rate, humanize.Comma(int64(n.Start)), humanize.Comma(int64(n.End)),
		n.DurationSeconds, n.VideoDifferenceSeconds)
	if diffMs := n.VideoDifferenceSeconds * 1000; math.Abs(diffMs) >= set.ToleranceMs {
		log.Warnf("NIDQ tracking differs from video by %.2f ms (tolerance %g ms)", diffMs, set.ToleranceMs)
	}

	data, err := json.MarshalIndent(n, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := utils.MakeDir(sess.SyncDir()); err != nil {
		return nil, err
	}
	if err := utils.WriteFileAtomic(cache, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", filepath.Base(cache), err)
	}
	return &n, nil
}
