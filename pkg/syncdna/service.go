package syncdna

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/logger"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/drift"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// soxStretchRate is the nominal rate written for sox tempo runs. tempo works
// on sample counts, so the value only sets its segment sizes.
const soxStretchRate = 250000

// syncService is the default implementation of the Service interface.
type syncService struct {
	storage   Storage
	log       Logger
	config    *Config
	stretcher drift.Stretcher
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		path := cfg.DBPath
		if path == "" {
			path = cfg.Settings.DBPath
		}
		stor, err = NewSQLiteStorage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	st := cfg.Stretcher
	if st == nil {
		if cfg.Settings.Audio.Stretcher == "sox" {
			st = drift.SoxStretcher{
				Bin:        cfg.Settings.Audio.SoxBin,
				SampleRate: soxStretchRate,
				TempDir:    cfg.Settings.TempDir,
			}
		} else {
			st = drift.NewPhaseVocoder()
		}
	}

	return &syncService{
		storage:   stor,
		log:       cfg.Logger,
		config:    cfg,
		stretcher: st,
	}, nil
}

// sessionLog prefixes messages with the session name when the logger
// supports it.
func (s *syncService) sessionLog(sess *Session) Logger {
	if l, ok := s.log.(interface{ With(string) *logger.Logger }); ok {
		return l.With(sess.Name)
	}
	return s.log
}

func (s *syncService) CropAudio(ctx context.Context, root string) (*CropResult, error) {
	sess, err := OpenSession(root)
	if err != nil {
		return nil, err
	}
	return s.cropAudio(ctx, sess, s.sessionLog(sess))
}

func (s *syncService) VerifyAudioVideo(ctx context.Context, root string) (*AVResult, error) {
	sess, err := OpenSession(root)
	if err != nil {
		return nil, err
	}
	return s.verifyAudioVideo(ctx, sess, s.sessionLog(sess))
}

func (s *syncService) VerifyEphysVideo(ctx context.Context, root string) ([]EphysResult, error) {
	sess, err := OpenSession(root)
	if err != nil {
		return nil, err
	}
	return s.verifyEphysVideo(ctx, sess, s.sessionLog(sess))
}

// priorCrop returns the result of an earlier crop of this session, if its
// outputs are all still present.
func priorCrop(sess *Session) (*CropResult, bool) {
	info, err := LoadTriggerboxInfo(sess.TriggerboxInfoPath())
	if err != nil {
		return nil, false
	}
	cropped, err := audio.ListChannelFiles(sess.AudioCroppedDir(), "")
	if err != nil || len(cropped) == 0 {
		return nil, false
	}
	if originals, err := audio.ListChannelFiles(sess.AudioOriginalDir(), ""); err == nil && len(originals) > len(cropped) {
		return nil, false
	}
	res := &CropResult{Devices: info, Backend: "previous run"}
	for _, f := range cropped {
		res.Outputs = append(res.Outputs, f.Path)
	}
	return res, true
}

// ProcessSession runs one session through crop, audio/video verification,
// ephys validation and the deletion commit. The returned outcome is always
// set; its Err is also returned.
func (s *syncService) ProcessSession(ctx context.Context, root string) (*SessionOutcome, error) {
	start := s.config.Now()
	m := NewMachine()
	out := &SessionOutcome{}
	finish := func(err error) (*SessionOutcome, error) {
		if err != nil {
			out.Err = err
			m.Fail(err)
		}
		out.State = m.State()
		out.History = m.History()
		out.Elapsed = s.config.Now().Sub(start)
		return out, err
	}

	sess, err := OpenSession(root)
	if err != nil {
		return finish(err)
	}
	out.Session = sess
	log := s.sessionLog(sess)

	if prev, ok := priorCrop(sess); ok {
		log.Infof("reusing %d cropped files", len(prev.Outputs))
		out.Crop = prev
		_ = m.Advance(BoundsFound)
	} else {
		if !utils.DirExists(sess.AudioOriginalDir()) {
			return finish(fmt.Errorf("%w: no audio in %s", ErrInsufficientPulses, sess.Name))
		}
		crop, err := s.cropAudio(ctx, sess, log)
		if err != nil {
			return finish(err)
		}
		_ = m.Advance(BoundsFound)
		out.Crop = crop
	}
	if err := m.Advance(Cropped); err != nil {
		return finish(err)
	}

	av, err := s.verifyAudioVideo(ctx, sess, log)
	if err != nil {
		return finish(err)
	}
	out.AV = av
	if err := m.Advance(Verified); err != nil {
		return finish(err)
	}

	if s.config.Settings.Ephys.Enabled {
		probes, err := s.verifyEphysVideo(ctx, sess, log)
		out.Ephys = probes
		if err != nil {
			return finish(err)
		}
		for _, p := range probes {
			if p.State == Flagged {
				return finish(fmt.Errorf("%w: probe recording %s: %s", ErrSequenceMismatch, p.Recording, p.Reason))
			}
		}
	}

	d := av.Decision
	switch {
	case d.Approved:
		if err := s.CommitDeletion(d); err != nil {
			return finish(err)
		}
		out.OriginalsDeleted = true
	case d.MaxAbsMs >= d.LimitMs:
		return finish(fmt.Errorf("%w: %s", ErrDeletionGate, d.Reason))
	default:
		log.Infof("keeping uncropped audio: %s", d.Reason)
	}

	if err := m.Advance(Committed); err != nil {
		return finish(err)
	}
	log.Infof("✅ synchronized in %s", s.config.Now().Sub(start).Round(time.Millisecond))
	return finish(nil)
}

func (s *syncService) toRun(batchID string, o *SessionOutcome) Run {
	res := o.Result()
	run := Run{
		BatchID:          batchID,
		Session:          res.Session,
		Status:           string(res.Status),
		State:            o.State.String(),
		Reason:           res.Reason,
		OriginalsDeleted: o.OriginalsDeleted,
		Elapsed:          o.Elapsed,
		CreatedAt:        s.config.Now(),
	}
	if o.Session != nil {
		run.RootDir = o.Session.Root
	}
	if o.AV != nil {
		run.Summary = report.Summarize(o.AV.AllDiscrepancies())
	}
	for _, d := range res.Devices {
		run.Devices = append(run.Devices, RunDevice{
			Kind:      "audio",
			Name:      d.Device,
			Pulses:    d.Pulses,
			Threshold: d.Threshold,
			MedianMs:  d.Discrepancy.Median,
			MeanMs:    d.Discrepancy.Mean,
			Within:    d.Discrepancy.MaxAbs < s.config.Settings.Sync.MaxResyncMs,
		})
	}
	for _, p := range o.Ephys {
		run.Devices = append(run.Devices, RunDevice{
			Kind:         "probe",
			Name:         p.Recording,
			DifferenceMs: p.DifferenceMs,
			Within:       p.Within,
		})
	}
	return run
}

// RunBatch processes every session found under roots. Session failures are
// recorded in the batch and do not stop it.
func (s *syncService) RunBatch(ctx context.Context, roots []string) (*report.Batch, error) {
	var sessions []string
	for _, root := range roots {
		found, err := FindSessions(root)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
		sessions = append(sessions, found...)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: nothing found under %v", ErrNotSession, roots)
	}

	batchID := utils.NewID()
	batch := report.NewBatch(s.config.Now())
	var pooled []float64
	for i, root := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.log.Infof("🎬 [%d/%d] %s", i+1, len(sessions), filepath.Base(root))

		o, err := s.ProcessSession(ctx, root)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if err != nil {
			s.log.Warnf("%s: %s (%v)", filepath.Base(root), o.State, err)
		}
		if o.Session == nil {
			o.Session = &Session{Root: root, Name: filepath.Base(root)}
		}
		batch.Add(o.Result())
		if o.AV != nil {
			pooled = append(pooled, o.AV.AllDiscrepancies()...)
		}
		if _, err := s.storage.RecordRun(s.toRun(batchID, o)); err != nil {
			s.log.Errorf("storing run for %s: %v", o.Session.Name, err)
		}
	}
	batch.Finish(s.config.Now(), pooled)

	if path := s.config.Settings.ReportPath; path != "" {
		if err := batch.WriteJSON(path); err != nil {
			return batch, fmt.Errorf("writing report: %w", err)
		}
	}
	return batch, nil
}

func (s *syncService) ListRuns(limit int) ([]Run, error) {
	return s.storage.ListRuns(limit)
}

func (s *syncService) SessionRuns(session string) ([]Run, error) {
	return s.storage.SessionRuns(session)
}

func (s *syncService) GetRun(id string) (*Run, error) {
	return s.storage.GetRun(id)
}

func (s *syncService) DeleteRun(id string) error {
	return s.storage.DeleteRun(id)
}

func (s *syncService) CountRuns() (map[string]int, error) {
	return s.storage.CountRuns()
}

func (s *syncService) Close() error {
	if s.storage != nil {
		return s.storage.Close()
	}
	return nil
}
