package led

import (
	"math"
	"sort"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/sequence"
)

// Onset selects which direction of brightness change starts a pulse.
type Onset int

const (
	// Darkening: the LED goes off at the start of a pulse. This is how the
	// controller encodes inter-pulse intervals.
	Darkening Onset = iota
	Brightening
)

func (o Onset) sign() float64 {
	if o == Brightening {
		return -1
	}
	return 1
}

// DefaultMinStateFrames is the shortest on or off state kept as real.
const DefaultMinStateFrames = 35

// Detector turns a relative-change signal into a pulse-duration train.
type Detector struct {
	FPS            float64
	MinSeparation  int
	MinStateFrames int
	Onset          Onset
}

// NewDetector debounces same-type events closer than fps/2.5 frames.
func NewDetector(fps float64, minStateFrames int, onset Onset) Detector {
	if minStateFrames <= 0 {
		minStateFrames = DefaultMinStateFrames
	}
	return Detector{
		FPS:            fps,
		MinSeparation:  int(math.Ceil(fps / 2.5)),
		MinStateFrames: minStateFrames,
		Onset:          onset,
	}
}

type event struct {
	frame int
	on    bool
}

// Events returns debounced, glitch-filtered and strictly alternating pulse
// onsets and offsets. A frame t is an event when the change into it exceeds
// threshold while the change into t-1 did not.
func (d Detector) Events(change []float64, threshold float64) (onsets, offsets []int) {
	s := d.Onset.sign()
	for t := 1; t < len(change); t++ {
		if math.Abs(change[t-1]) >= threshold {
			continue
		}
		switch v := s * change[t]; {
		case v > threshold:
			onsets = append(onsets, t)
		case v < -threshold:
			offsets = append(offsets, t)
		}
	}

	onsets = debounce(onsets, d.MinSeparation)
	offsets = debounce(offsets, d.MinSeparation)

	events := merge(onsets, offsets)
	events = dropGlitches(events, d.MinStateFrames)
	events = alternate(events)

	onsets, offsets = onsets[:0], offsets[:0]
	for _, e := range events {
		if e.on {
			onsets = append(onsets, e.frame)
		} else {
			offsets = append(offsets, e.frame)
		}
	}
	return onsets, offsets
}

// debounce keeps an event only if it is more than sep frames after the
// previous candidate of the same type.
func debounce(frames []int, sep int) []int {
	if len(frames) < 2 {
		return frames
	}
	out := []int{frames[0]}
	for i := 1; i < len(frames); i++ {
		if frames[i]-frames[i-1] > sep {
			out = append(out, frames[i])
		}
	}
	return out
}

func merge(onsets, offsets []int) []event {
	events := make([]event, 0, len(onsets)+len(offsets))
	for _, f := range onsets {
		events = append(events, event{frame: f, on: true})
	}
	for _, f := range offsets {
		events = append(events, event{frame: f})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].frame < events[j].frame })
	return events
}

// dropGlitches removes both events of any opposite-type pair closer than
// minFrames.
func dropGlitches(events []event, minFrames int) []event {
	if len(events) < 2 {
		return events
	}
	drop := make([]bool, len(events))
	for i := 0; i+1 < len(events); i++ {
		if events[i].on != events[i+1].on && events[i+1].frame-events[i].frame < minFrames {
			drop[i], drop[i+1] = true, true
		}
	}
	out := events[:0:0]
	for i, e := range events {
		if !drop[i] {
			out = append(out, e)
		}
	}
	return out
}

// alternate keeps the first event of every run of same-type events.
func alternate(events []event) []event {
	var out []event
	for _, e := range events {
		if len(out) > 0 && out[len(out)-1].on == e.on {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Detect runs event detection at one threshold and pairs onsets with the
// following offsets. ok is false when there are no events or the onset and
// offset counts differ by more than one.
func (d Detector) Detect(change []float64, threshold float64) (sequence.Measurement, bool) {
	onsets, offsets := d.Events(change, threshold)
	if len(onsets) == 0 || len(offsets) == 0 {
		return sequence.Measurement{}, false
	}
	if diff := len(onsets) - len(offsets); diff > 1 || diff < -1 {
		return sequence.Measurement{}, false
	}

	var m sequence.Measurement
	j := 0
	for _, on := range onsets {
		for j < len(offsets) && offsets[j] <= on {
			j++
		}
		if j == len(offsets) {
			break
		}
		frames := offsets[j] - on
		m.DurationsMs = append(m.DurationsMs, math.Round(float64(frames)*1000/d.FPS))
		m.Starts = append(m.Starts, on)
		j++
	}
	return m, len(m.DurationsMs) > 0
}
