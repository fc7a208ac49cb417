package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrameStream is the acquisition clock of one camera.
type FrameStream struct {
	CameraID   string
	Timestamps []float64
}

// EmpiricalFrameRate is the frame count over the recorded time span. It is
// what the camera actually delivered, which can differ from its nominal fps.
func (s FrameStream) EmpiricalFrameRate() float64 {
	n := len(s.Timestamps)
	if n < 2 {
		return 0
	}
	span := s.Timestamps[n-1] - s.Timestamps[0]
	if span <= 0 {
		return 0
	}
	return float64(n) / span
}

// StartTime returns the time of frame i relative to the first frame.
func (s FrameStream) StartTime(i int) (float64, bool) {
	if i < 0 || i >= len(s.Timestamps) {
		return 0, false
	}
	return s.Timestamps[i] - s.Timestamps[0], true
}

type frameTimesDoc struct {
	FrameTime   []float64 `yaml:"frame_time"`
	FrameNumber []int     `yaml:"frame_number"`
}

// LoadFrameTimes reads a camera's metadata YAML (frame_time list, seconds).
// When frame_number is present the times are ordered by it.
func LoadFrameTimes(path, cameraID string) (FrameStream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FrameStream{}, err
	}

	var doc frameTimesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return FrameStream{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if len(doc.FrameTime) == 0 {
		return FrameStream{}, fmt.Errorf("%s: no frame_time entries", filepath.Base(path))
	}

	times := doc.FrameTime
	if len(doc.FrameNumber) == len(times) {
		idx := make([]int, len(times))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return doc.FrameNumber[idx[a]] < doc.FrameNumber[idx[b]] })
		ordered := make([]float64, len(times))
		for i, k := range idx {
			ordered[i] = times[k]
		}
		times = ordered
	}

	return FrameStream{CameraID: cameraID, Timestamps: times}, nil
}

// FindVideo locates the recording of one camera under a session video dir.
// ext defaults to mp4.
func FindVideo(videoDir, cameraID, ext string) (string, error) {
	if ext == "" {
		ext = "mp4"
	}
	ext = "*." + strings.TrimPrefix(ext, ".")
	patterns := []string{
		filepath.Join(videoDir, "*", cameraID, ext),
		filepath.Join(videoDir, "*"+cameraID+"*", ext),
		filepath.Join(videoDir, "*"+cameraID+ext),
	}
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("no video for camera %s in %s", cameraID, videoDir)
}

// FindFrameTimes locates a camera's metadata YAML, if any.
func FindFrameTimes(videoDir, cameraID string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(videoDir, "*"+cameraID+"*", "metadata.yaml"))
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}
