package syncdna

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

const (
	TriggerboxInfoFile = "audio_triggerbox_sync_info.json"
	discrepancySuffix  = "_ipi_discrepancy.json"
	frameStartsSuffix  = "_video_frames_in_audio_samples.txt"
	nidqDataFile       = "nidq_ipi_data.json"
)

// Session is one acquisition directory:
//
//	<root>/audio/original        per-channel WAV files
//	<root>/audio/cropped_to_video
//	<root>/video                 camera videos and the frame count file
//	<root>/sync                  controller log and derived sync files
type Session struct {
	Root string
	Name string
	// DateTag is the leading "YYYYMMDD" of the directory name, if any.
	DateTag string
	Date    time.Time
}

func OpenSession(root string) (*Session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(abs) {
		return nil, fmt.Errorf("%w: %s", ErrNotSession, root)
	}
	if !utils.DirExists(filepath.Join(abs, "video")) {
		return nil, fmt.Errorf("%w: %s has no video directory", ErrNotSession, root)
	}

	s := &Session{Root: abs, Name: filepath.Base(abs)}
	tag, _, _ := strings.Cut(s.Name, "_")
	if d, err := time.Parse("20060102", tag); err == nil {
		s.DateTag, s.Date = tag, d
	}
	return s, nil
}

func (s *Session) AudioOriginalDir() string { return filepath.Join(s.Root, "audio", "original") }
func (s *Session) AudioCroppedDir() string  { return filepath.Join(s.Root, "audio", "cropped_to_video") }
func (s *Session) VideoDir() string         { return filepath.Join(s.Root, "video") }
func (s *Session) SyncDir() string          { return filepath.Join(s.Root, "sync") }

func (s *Session) TriggerboxInfoPath() string {
	return filepath.Join(s.Root, "audio", TriggerboxInfoFile)
}

// FrameStartsPath lists, per video frame, its trigger sample on one device.
func (s *Session) FrameStartsPath(device string) string {
	return filepath.Join(s.SyncDir(), device+frameStartsSuffix)
}

// DiscrepancyPath is the report for one cropped sync channel file.
func (s *Session) DiscrepancyPath(audioFile string) string {
	base := strings.TrimSuffix(filepath.Base(audioFile), ".wav")
	return filepath.Join(s.SyncDir(), base+discrepancySuffix)
}

// NIDQDataPath caches the IPI train read from the DAQ recording.
func (s *Session) NIDQDataPath() string { return filepath.Join(s.SyncDir(), nidqDataFile) }

// SeriesPath is where the sampled LED pixels of a video are kept.
func (s *Session) SeriesPath(videoPath string) string {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return filepath.Join(s.SyncDir(), "sync_px_"+base)
}

// FindSessions returns every directory under root (root included) that
// looks like a session.
func FindSessions(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "video" && path != root {
			out = append(out, filepath.Dir(path))
			return filepath.SkipDir
		}
		return nil
	})
	return out, err
}
