// Package changepoint persists where each ephys recording sits inside a
// concatenated stream and where tracking starts and ends within it.
package changepoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// Entry describes one recording. Unknown sample positions are null.
type Entry struct {
	SessionStartEnd            [2]*int64 `json:"session_start_end"`
	TrackingStartEnd           [2]*int64 `json:"tracking_start_end"`
	LargestCameraBreakDuration *int64    `json:"largest_camera_break_duration"`
	FileDurationSamples        *int64    `json:"file_duration_samples"`
	RootDirectory              string    `json:"root_directory"`
	TotalNumChannels           int       `json:"total_num_channels"`
	HeadstageSN                string    `json:"headstage_sn"`
	ImecProbeSN                string    `json:"imec_probe_sn"`
}

// File maps recording names to entries.
type File map[string]*Entry

func ptr(v int64) *int64 { return &v }

// FileName is the per-probe record name, e.g. changepoints_info_20240101_imec0.json.
func FileName(date, probe string) string {
	return fmt.Sprintf("changepoints_info_%s_%s.json", date, probe)
}

// Older writers emitted bare NaN for unknown values.
var nanToken = regexp.MustCompile(`([\[,:]\s*)NaN(\s*[\],}])`)

// Load reads a record file. A missing file yields an empty File.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return nil, err
	}

	// twice: adjacent NaNs share a delimiter
	data = nanToken.ReplaceAll(data, []byte("${1}null${2}"))
	data = nanToken.ReplaceAll(data, []byte("${1}null${2}"))

	f := File{}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// Save writes the record atomically.
func (f File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Update performs a read-merge-write of the record at path.
func Update(path string, fn func(File) error) error {
	f, err := Load(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return f.Save(path)
}

// Keys returns the recording names in order.
func (f File) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tracking is what ephys/video validation establishes for one recording.
// Start and End are samples within the recording file.
type Tracking struct {
	Start         int64
	End           int64
	LargestBreak  int64
	RootDirectory string
	Channels      int
	HeadstageSN   string
	ProbeSN       string
}

// RecordTracking merges a validated tracking span. Tracking is stored in
// concatenated-stream coordinates when the recording's session offset is
// already known; otherwise it stays file-relative until RecordConcatenation
// supplies the offset. Other recordings are left untouched.
func (f File) RecordTracking(key string, t Tracking) {
	e, ok := f[key]
	if !ok {
		e = &Entry{}
		f[key] = e
	}

	var offset int64
	if s := e.SessionStartEnd[0]; s != nil {
		offset = *s
	}
	e.TrackingStartEnd = [2]*int64{ptr(t.Start + offset), ptr(t.End + offset)}
	e.LargestCameraBreakDuration = ptr(t.LargestBreak)
	e.RootDirectory = t.RootDirectory
	e.TotalNumChannels = t.Channels
	e.HeadstageSN = t.HeadstageSN
	e.ImecProbeSN = t.ProbeSN
}

// Segment is one recording in concatenation order. Empty strings leave
// the entry's provenance fields untouched.
type Segment struct {
	Key           string
	Samples       int64
	Channels      int
	RootDirectory string
	HeadstageSN   string
	ProbeSN       string
}

// RecordConcatenation lays the segments end to end and records each one's
// sample range. Tracking spans recorded before the offsets were known are
// shifted into concatenated coordinates.
func (f File) RecordConcatenation(segments []Segment) {
	var cursor int64
	for _, s := range segments {
		e, ok := f[s.Key]
		if !ok {
			e = &Entry{}
			f[s.Key] = e
		}

		hadOffset := e.SessionStartEnd[0] != nil
		var prevOffset int64
		if hadOffset {
			prevOffset = *e.SessionStartEnd[0]
		}

		e.SessionStartEnd = [2]*int64{ptr(cursor), ptr(cursor + s.Samples)}
		e.FileDurationSamples = ptr(s.Samples)
		if s.Channels > 0 {
			e.TotalNumChannels = s.Channels
		}
		if s.RootDirectory != "" {
			e.RootDirectory = s.RootDirectory
		}
		if s.HeadstageSN != "" {
			e.HeadstageSN = s.HeadstageSN
		}
		if s.ProbeSN != "" {
			e.ImecProbeSN = s.ProbeSN
		}

		if e.TrackingStartEnd[0] != nil && e.TrackingStartEnd[1] != nil {
			shift := cursor - prevOffset
			e.TrackingStartEnd = [2]*int64{ptr(*e.TrackingStartEnd[0] + shift), ptr(*e.TrackingStartEnd[1] + shift)}
		}
		cursor += s.Samples
	}
}
