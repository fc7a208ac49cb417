package ephys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
)

// NIDQSuffix marks the binary of a National Instruments DAQ recording.
const NIDQSuffix = ".nidq.bin"

// ErrNoTriggerSpan means the triggerbox bit carries fewer camera triggers
// than the video has frames.
var ErrNoTriggerSpan = errors.New("too few camera triggers on the triggerbox bit")

// NIDQMeta is the part of a DAQ sidecar needed to read its digital word.
type NIDQMeta struct {
	Channels   int
	SampleRate float64
	Raw        map[string]string
}

// ParseNIDQMeta reads nSavedChans and niSampRate. Either may be missing when
// the caller supplies an override.
func ParseNIDQMeta(r io.Reader) (NIDQMeta, error) {
	raw, err := readPairs(r)
	if err != nil {
		return NIDQMeta{}, err
	}
	m := NIDQMeta{Raw: raw}
	if v, ok := raw["nSavedChans"]; ok {
		if m.Channels, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return NIDQMeta{}, fmt.Errorf("bad nSavedChans %q", v)
		}
	}
	if v, ok := raw["niSampRate"]; ok {
		if m.SampleRate, err = strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return NIDQMeta{}, fmt.Errorf("bad niSampRate %q", v)
		}
	}
	return m, nil
}

// LoadNIDQMeta reads the sidecar of a .nidq.bin. A missing sidecar yields an
// empty NIDQMeta so configured overrides can still apply.
func LoadNIDQMeta(binPath string) (NIDQMeta, error) {
	metaPath := strings.TrimSuffix(binPath, ".bin") + ".meta"
	f, err := os.Open(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return NIDQMeta{Raw: map[string]string{}}, nil
	}
	if err != nil {
		return NIDQMeta{}, err
	}
	defer f.Close()

	m, err := ParseNIDQMeta(f)
	if err != nil {
		return NIDQMeta{}, fmt.Errorf("%s: %w", filepath.Base(metaPath), err)
	}
	return m, nil
}

// FindNIDQ returns the first DAQ binary under root in lexical walk order.
func FindNIDQ(root string) (string, bool, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), NIDQSuffix) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return found, found != "", nil
}

type NIDQOptions struct {
	SampleRate    float64
	TriggerboxBit uint
	SyncBit       uint
	TotalFrames   int
	VideoSeconds  float64
	// Clean, if set, filters the IPI train before it is measured.
	Clean func(pulse.Train) pulse.Train
}

// NIDQSync is the IPI train read off the DAQ digital word within the
// tracking span. Starts are relative to Start.
type NIDQSync struct {
	Start                  int       `json:"start_sample"`
	End                    int       `json:"end_sample"`
	LargestBreakSamples    int       `json:"largest_break_samples"`
	SampleRate             float64   `json:"sample_rate"`
	DurationSeconds        float64   `json:"duration_seconds"`
	VideoDifferenceSeconds float64   `json:"video_difference_seconds"`
	DurationsMs            []float64 `json:"ipi_durations_ms"`
	Starts                 []int     `json:"ipi_start_samples"`
}

// DiscrepancyMs compares each IPI start with the video pulse start frame
// at the same index. It returns nil unless both trains have equal length.
func (n NIDQSync) DiscrepancyMs(videoStarts []int, fps float64) []float64 {
	if len(videoStarts) != len(n.Starts) || n.SampleRate <= 0 || fps <= 0 {
		return nil
	}
	out := make([]float64, len(n.Starts))
	for i, st := range n.Starts {
		out[i] = float64(st)/n.SampleRate*1000 - float64(videoStarts[i])/fps*1000
	}
	return out
}

// ExtractNIDQ finds the camera-trigger span on the triggerbox bit of word
// and reads the active-low IPI train on the sync bit inside it.
func ExtractNIDQ(word pulse.Source, opts NIDQOptions) (NIDQSync, error) {
	if opts.SampleRate <= 0 {
		return NIDQSync{}, fmt.Errorf("invalid NIDQ sample rate %g", opts.SampleRate)
	}
	rising, _ := pulse.Transitions(word, pulse.Options{Mode: pulse.ModeLSB, Bit: opts.TriggerboxBit})
	b := pulse.FindBounds(rising, opts.TotalFrames)
	if !b.Found {
		return NIDQSync{LargestBreakSamples: b.LargestGap, SampleRate: opts.SampleRate},
			fmt.Errorf("%w (bit %d, need %d)", ErrNoTriggerSpan, opts.TriggerboxBit, opts.TotalFrames)
	}

	train := pulse.ExtractEdges(pulse.Window{Src: word, From: b.Start, To: b.End},
		pulse.Options{Mode: pulse.ModeLSB, Polarity: pulse.ActiveLow, Bit: opts.SyncBit})
	if opts.Clean != nil {
		train = opts.Clean(train)
	}

	dur := float64(b.End-b.Start) / opts.SampleRate
	return NIDQSync{
		Start:                  b.Start,
		End:                    b.End,
		LargestBreakSamples:    b.LargestGap,
		SampleRate:             opts.SampleRate,
		DurationSeconds:        dur,
		VideoDifferenceSeconds: math.Round((dur-opts.VideoSeconds)*1e4) / 1e4,
		DurationsMs:            train.DurationsMs(opts.SampleRate),
		Starts:                 train.Starts(),
	}, nil
}
