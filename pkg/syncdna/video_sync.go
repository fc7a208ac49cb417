package syncdna

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/led"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/sequence"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

func (s *syncService) ledVersion(sess *Session) string {
	v := s.config.Settings.Video.LEDVersion
	if v != "auto" {
		return v
	}
	if sess.Date.IsZero() {
		return led.CurrentVersion
	}
	return s.config.Positions.VersionFor(sess.Date)
}

// sampleLEDs calibrates the camera's LED pixels and persists their values
// for every frame. An existing series is reused.
func (s *syncService) sampleLEDs(ctx context.Context, sess *Session, videoPath string, regions []led.Region, fps float64, total int) (string, error) {
	path := sess.SeriesPath(videoPath)
	if utils.FileExists(path) {
		return path, nil
	}

	src, err := s.config.FrameSource(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", videoPath, err)
	}
	calibrated, err := led.Calibrate(ctx, src, regions, s.config.Settings.Video.LEDPixelDeviation, int(math.Ceil(1.5*fps)))
	if err != nil {
		return "", fmt.Errorf("calibrating LEDs: %w", err)
	}

	if err := utils.MakeDir(sess.SyncDir()); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	n, err := led.SampleRegions(ctx, src, calibrated, total, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("sampling LEDs: %w", err)
	}
	if n < total {
		return "", fmt.Errorf("%w: %s has %d frames, expected %d", ErrInsufficientPulses, videoPath, n, total)
	}
	return path, utils.MoveFile(tmp, path)
}

// cameraTrain recovers the LED pulse train of one sync camera and aligns it
// with the controller log, first on the median LED signal, then on the max.
func (s *syncService) cameraTrain(ctx context.Context, sess *Session, camera string, fps float64, total int, ref sequence.Reference, log Logger) (CameraSync, error) {
	set := s.config.Settings.Video
	videoPath, err := video.FindVideo(sess.VideoDir(), camera, set.Extension)
	if err != nil {
		return CameraSync{}, err
	}
	regions, err := s.config.Positions.Lookup(s.ledVersion(sess), camera)
	if err != nil {
		return CameraSync{}, err
	}

	seriesPath, err := s.sampleLEDs(ctx, sess, videoPath, regions, fps, total)
	if err != nil {
		return CameraSync{}, err
	}
	series, err := led.OpenSeries(seriesPath, len(regions))
	if err != nil {
		return CameraSync{}, err
	}
	defer series.Close()

	onset := led.Darkening
	if set.Onset == "brightening" {
		onset = led.Brightening
	}
	det := led.NewDetector(fps, set.MinStateFrames, onset)
	tol := s.config.Settings.Sync.ToleranceMs

	var lastErr error
	for _, r := range []led.Reducer{led.Median, led.Max} {
		change := led.RelativeChange(led.Brightness(series, r))
		res, err := sequence.Sweep(
			sequence.Thresholds(set.ThresholdStart, set.ThresholdStop, set.ThresholdStep),
			func(th float64) (sequence.Measurement, bool) { return det.Detect(change, th) },
			ref, tol,
		)
		if err != nil {
			log.Warnf("camera %s: no match on the %s LED signal (%v)", camera, r, err)
			lastErr = err
			continue
		}
		log.Infof("camera %s: %d pulses match the controller log at offset %d (threshold %.2f, %s signal)",
			camera, res.Window.Len(), res.Window.Offset, res.Threshold, r)
		return CameraSync{
			Camera:    camera,
			FPS:       fps,
			Threshold: res.Threshold,
			Reducer:   r.String(),
			Tried:     res.Tried,
			Window:    res.Window,
			Starts:    res.Measurement.Starts,
		}, nil
	}
	return CameraSync{}, fmt.Errorf("%w: camera %s: %w", ErrSequenceMismatch, camera, lastErr)
}

// videoTrains runs every sync camera and requires them to agree on the
// matched part of the controller log.
func (s *syncService) videoTrains(ctx context.Context, sess *Session, cd video.CountDict, ref sequence.Reference, log Logger) ([]CameraSync, error) {
	var out []CameraSync
	for _, camera := range s.config.Settings.Video.SyncCameras {
		cc, ok := cd.Camera(camera)
		if !ok {
			return nil, fmt.Errorf("camera %s missing from the frame count file", camera)
		}
		cs, err := s.cameraTrain(ctx, sess, camera, cc.FPS, cd.TotalFrameNumberLeast, ref, log)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && !out[0].Window.Equal(cs.Window) {
			return nil, fmt.Errorf("%w: %s matched offset %d (%d pulses), %s matched offset %d (%d pulses)",
				ErrCameraDisagreement, out[0].Camera, out[0].Window.Offset, out[0].Window.Len(),
				camera, cs.Window.Offset, cs.Window.Len())
		}
		out = append(out, cs)
	}
	if len(out) == 0 {
		return nil, errors.New("no sync cameras configured")
	}
	return out, nil
}
