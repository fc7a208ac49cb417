// Package pulse recovers digital sync pulses embedded in sampled streams and
// locates the recording boundaries they mark.
package pulse

// Mode selects how the logical sync line is derived from raw samples.
type Mode int

const (
	// ModeLSB reads one bit of every sample (bit 0 unless Options.Bit says otherwise).
	ModeLSB Mode = iota
	// ModeThreshold uses the sign of the first difference of the raw values.
	ModeThreshold
)

func (m Mode) String() string {
	switch m {
	case ModeLSB:
		return "lsb"
	case ModeThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// Polarity tells which level of the line counts as "on".
type Polarity int

const (
	ActiveHigh Polarity = iota
	ActiveLow
)

func (p Polarity) String() string {
	if p == ActiveLow {
		return "active_low"
	}
	return "active_high"
}

// Source is a read-only, indexable sample stream. Implementations may be
// backed by memory-mapped files, so callers should not assume At is free.
type Source interface {
	Len() int
	At(i int) int16
}

// Samples adapts an in-memory slice to Source.
type Samples []int16

func (s Samples) Len() int       { return len(s) }
func (s Samples) At(i int) int16 { return s[i] }

// Window exposes samples [From, To) of Src, indexed from zero.
type Window struct {
	Src      Source
	From, To int
}

func (w Window) Len() int       { return w.To - w.From }
func (w Window) At(i int) int16 { return w.Src.At(w.From + i) }

type Options struct {
	Mode     Mode
	Polarity Polarity
	Bit      uint
}

// Event is one "on" period: Start is the first on sample, Duration the number
// of on samples.
type Event struct {
	Start    int
	Duration int
}

// End returns the first sample after the pulse.
func (e Event) End() int { return e.Start + e.Duration }

// Train is an ordered, non-overlapping sequence of pulses.
type Train []Event

// Transitions returns the indices where the line changes. An index i means
// samples i and i+1 differ, i.e. i is the last sample before the change.
func Transitions(src Source, opts Options) (rising, falling []int) {
	n := src.Len()
	if n < 2 {
		return nil, nil
	}

	switch opts.Mode {
	case ModeThreshold:
		prev := src.At(0)
		for i := 1; i < n; i++ {
			cur := src.At(i)
			switch {
			case cur > prev:
				rising = append(rising, i-1)
			case cur < prev:
				falling = append(falling, i-1)
			}
			prev = cur
		}
	default:
		mask := int16(1) << opts.Bit
		prev := src.At(0)&mask != 0
		for i := 1; i < n; i++ {
			cur := src.At(i)&mask != 0
			if cur != prev {
				if cur {
					rising = append(rising, i-1)
				} else {
					falling = append(falling, i-1)
				}
			}
			prev = cur
		}
	}
	return rising, falling
}

// ExtractEdges turns a stream into a pulse train. Pulses cut off by either
// end of the stream are dropped.
func ExtractEdges(src Source, opts Options) Train {
	rising, falling := Transitions(src, opts)

	onsets, offsets := rising, falling
	if opts.Polarity == ActiveLow {
		onsets, offsets = falling, rising
	}
	return pair(onsets, offsets)
}

func pair(onsets, offsets []int) Train {
	train := make(Train, 0, min(len(onsets), len(offsets)))
	j := 0
	for i := 0; i < len(onsets); i++ {
		on := onsets[i]
		for j < len(offsets) && offsets[j] <= on {
			j++
		}
		if j == len(offsets) {
			break
		}
		off := offsets[j]
		train = append(train, Event{Start: on + 1, Duration: off - on})
		for i+1 < len(onsets) && onsets[i+1] < off {
			i++
		}
	}
	return train
}

// Starts returns the first sample of every pulse.
func (t Train) Starts() []int {
	out := make([]int, len(t))
	for i, e := range t {
		out[i] = e.Start
	}
	return out
}

// DurationsMs converts pulse lengths to milliseconds at the given rate.
func (t Train) DurationsMs(rate float64) []float64 {
	out := make([]float64, len(t))
	for i, e := range t {
		out[i] = float64(e.Duration) * 1000 / rate
	}
	return out
}

// SuppressGlitches first merges pulses separated by fewer than minGap off
// samples, then drops pulses shorter than minDuration. Loose TTL contacts
// produce exactly these two artifacts.
func SuppressGlitches(t Train, minDuration, minGap int) Train {
	if len(t) == 0 {
		return Train{}
	}

	merged := Train{t[0]}
	for _, e := range t[1:] {
		last := &merged[len(merged)-1]
		if e.Start-last.End() < minGap {
			last.Duration = e.End() - last.Start
			continue
		}
		merged = append(merged, e)
	}

	out := merged[:0]
	for _, e := range merged {
		if e.Duration >= minDuration {
			out = append(out, e)
		}
	}
	return out
}
