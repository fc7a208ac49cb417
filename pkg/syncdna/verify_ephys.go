package syncdna

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/changepoint"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/ephys"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// recordDir is the per-probe directory holding the changepoint record.
func (s *syncService) recordDir(sess *Session, probe string) (dir, date string) {
	date = sess.DateTag
	if date == "" {
		date, _, _ = strings.Cut(sess.Name, "_")
	}
	root := s.config.Settings.Ephys.RecordRoot
	if root == "" {
		root = filepath.Dir(sess.Root)
	}
	return filepath.Join(root, date+"_"+probe), date
}

func (s *syncService) verifyRecording(sess *Session, rec ephys.Recording, cal *ephys.Calibration, cd video.CountDict, log Logger) (EphysResult, error) {
	set := s.config.Settings.Ephys
	res := EphysResult{Recording: rec.Key, Probe: rec.Probe}

	meta, err := ephys.LoadMeta(rec.Path)
	if err != nil {
		return res, err
	}
	rate, err := cal.Rate(meta)
	if err != nil {
		return res, err
	}
	bin, err := ephys.OpenBinary(rec.Path, meta.Channels)
	if err != nil {
		return res, err
	}
	defer bin.Close()

	sync := bin.SyncChannel()
	check := ephys.Evaluate(sync, rate, cd.TotalFrameNumberLeast, cd.TotalVideoTimeLeast, set.ToleranceMs)
	if !check.Bounds.Found {
		res.State = Skipped
		res.Reason = fmt.Sprintf("too few camera triggers on the sync line (largest break %.3f s)", check.LargestGapSec)
		log.Warnf("%s: %s", rec.Key, res.Reason)
		return res, nil
	}
	res.DifferenceMs = check.DifferenceMs
	res.Within = check.Within

	if !check.Within {
		res.State = Flagged
		res.Reason = fmt.Sprintf("tracking differs from video by %.2f ms (tolerance %g ms)", check.DifferenceMs, set.ToleranceMs)
		hist := ephys.ValueHistogram(sync)
		log.Warnf("%s: %s; sync line values %v", rec.Key, res.Reason, hist[:min(len(hist), 5)])
		return res, nil
	}

	dir, date := s.recordDir(sess, rec.Probe)
	if err := utils.MakeDir(dir); err != nil {
		return res, err
	}
	res.RecordPath = filepath.Join(dir, changepoint.FileName(date, rec.Probe))
	samples := int64(bin.Samples())
	err = changepoint.Update(res.RecordPath, func(f changepoint.File) error {
		f.RecordTracking(rec.Key, changepoint.Tracking{
			Start:         int64(check.Bounds.Start),
			End:           int64(check.Bounds.End),
			LargestBreak:  int64(check.Bounds.LargestGap),
			RootDirectory: filepath.Dir(rec.Path),
			Channels:      meta.Channels,
			HeadstageSN:   meta.HeadstageSN,
			ProbeSN:       meta.ProbeSN,
		})
		f[rec.Key].FileDurationSamples = &samples
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("updating %s: %w", filepath.Base(res.RecordPath), err)
	}
	res.State = Committed
	log.Infof("%s: tracking %d-%d at %.4f Hz, %+.2f ms vs video", rec.Key, check.Bounds.Start, check.Bounds.End, rate, check.DifferenceMs)
	return res, nil
}

func (s *syncService) verifyEphysVideo(ctx context.Context, sess *Session, log Logger) ([]EphysResult, error) {
	set := s.config.Settings.Ephys
	recs, err := ephys.FindRecordings(sess.Root, set.FileType)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		log.Debugf("no .%s.bin recordings in %s", set.FileType, sess.Name)
		return nil, nil
	}
	cd, _, err := video.LoadCountDict(sess.VideoDir())
	if err != nil {
		return nil, err
	}

	var cal *ephys.Calibration
	if set.CalibrationFile != "" {
		if cal, err = ephys.LoadCalibration(set.CalibrationFile); err != nil {
			return nil, err
		}
	}

	out := make([]EphysResult, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.verifyRecording(sess, rec, cal, cd, log)
		if err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(rec.Path), err)
		}
		out = append(out, res)
	}
	return out, nil
}
