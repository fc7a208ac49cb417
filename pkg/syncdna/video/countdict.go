package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

const (
	keyTotalFramesLeast = "total_frame_number_least"
	keyTotalTimeLeast   = "total_video_time_least"
	keyMedianEmpirical  = "median_empirical_camera_sr"

	// CountDictSuffix names the per-session frame count file.
	CountDictSuffix = "_camera_frame_count_dict.json"
)

var ErrNoCountDict = errors.New("camera frame count file not found")

type CameraCount struct {
	FrameCount int
	FPS        float64
}

// CountDict summarises all cameras of a session. Cropping uses the shortest
// camera so every stream covers the same span.
type CountDict struct {
	Cameras                 map[string]CameraCount
	TotalFrameNumberLeast   int
	TotalVideoTimeLeast     float64
	MedianEmpiricalCameraSR float64
}

// Camera returns the count entry for id.
func (d CountDict) Camera(id string) (CameraCount, bool) {
	c, ok := d.Cameras[id]
	return c, ok
}

// MarshalJSON writes the flat on-disk layout: one [frames, fps] pair per
// camera next to the three summary keys.
func (d CountDict) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Cameras)+3)
	for id, c := range d.Cameras {
		out[id] = [2]float64{float64(c.FrameCount), c.FPS}
	}
	out[keyTotalFramesLeast] = d.TotalFrameNumberLeast
	out[keyTotalTimeLeast] = d.TotalVideoTimeLeast
	out[keyMedianEmpirical] = d.MedianEmpiricalCameraSR
	return json.Marshal(out)
}

func (d *CountDict) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = CountDict{Cameras: make(map[string]CameraCount)}
	for key, val := range raw {
		switch key {
		case keyTotalFramesLeast:
			var f float64
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			d.TotalFrameNumberLeast = int(f)
		case keyTotalTimeLeast:
			if err := json.Unmarshal(val, &d.TotalVideoTimeLeast); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyMedianEmpirical:
			if err := json.Unmarshal(val, &d.MedianEmpiricalCameraSR); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		default:
			var pair []float64
			if err := json.Unmarshal(val, &pair); err != nil || len(pair) != 2 {
				return fmt.Errorf("camera %s: expected [frame_count, fps]", key)
			}
			d.Cameras[key] = CameraCount{FrameCount: int(pair[0]), FPS: pair[1]}
		}
	}
	return nil
}

// Validate checks the fields synchronization depends on.
func (d CountDict) Validate() error {
	if d.TotalFrameNumberLeast <= 0 {
		return fmt.Errorf("%s must be positive, got %d", keyTotalFramesLeast, d.TotalFrameNumberLeast)
	}
	if d.TotalVideoTimeLeast <= 0 {
		return fmt.Errorf("%s must be positive, got %g", keyTotalTimeLeast, d.TotalVideoTimeLeast)
	}
	return nil
}

// LoadCountDict reads the frame count file of a session video directory.
func LoadCountDict(videoDir string) (CountDict, string, error) {
	matches, _ := filepath.Glob(filepath.Join(videoDir, "*"+CountDictSuffix))
	if len(matches) == 0 {
		return CountDict{}, "", fmt.Errorf("%w in %s", ErrNoCountDict, videoDir)
	}
	sort.Strings(matches)

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return CountDict{}, "", err
	}
	var d CountDict
	if err := json.Unmarshal(data, &d); err != nil {
		return CountDict{}, "", fmt.Errorf("parsing %s: %w", filepath.Base(matches[0]), err)
	}
	if err := d.Validate(); err != nil {
		return CountDict{}, "", fmt.Errorf("%s: %w", filepath.Base(matches[0]), err)
	}
	return d, matches[0], nil
}

// Save writes the dict atomically.
func (d CountDict) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// BuildCountDict derives the session summary from per-camera frame clocks,
// using each camera's empirical rate.
func BuildCountDict(streams []FrameStream) (CountDict, error) {
	if len(streams) == 0 {
		return CountDict{}, errors.New("no camera streams")
	}

	d := CountDict{
		Cameras:               make(map[string]CameraCount, len(streams)),
		TotalFrameNumberLeast: math.MaxInt,
		TotalVideoTimeLeast:   math.Inf(1),
	}
	rates := make([]float64, 0, len(streams))
	for _, s := range streams {
		rate := s.EmpiricalFrameRate()
		if rate <= 0 {
			return CountDict{}, fmt.Errorf("camera %s: cannot estimate frame rate from %d timestamps", s.CameraID, len(s.Timestamps))
		}
		n := len(s.Timestamps)
		d.Cameras[s.CameraID] = CameraCount{FrameCount: n, FPS: rate}
		d.TotalFrameNumberLeast = min(d.TotalFrameNumberLeast, n)
		d.TotalVideoTimeLeast = min(d.TotalVideoTimeLeast, float64(n)/rate)
		rates = append(rates, rate)
	}

	sort.Float64s(rates)
	mid := len(rates) / 2
	if len(rates)%2 == 1 {
		d.MedianEmpiricalCameraSR = rates[mid]
	} else {
		d.MedianEmpiricalCameraSR = (rates[mid-1] + rates[mid]) / 2
	}
	d.MedianEmpiricalCameraSR = math.Round(d.MedianEmpiricalCameraSR*1000) / 1000
	return d, nil
}
