package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// Status is the final disposition of one session.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusFlag  Status = "flag"
	StatusSkip  Status = "skip"
	StatusAbort Status = "abort"
)

// DeviceResult is the audio/video comparison for one audio device.
type DeviceResult struct {
	Device          string    `json:"device"`
	Pulses          int       `json:"pulses"`
	Threshold       float64   `json:"threshold"`
	Discrepancy     Summary   `json:"discrepancy"`
	PredictionError []float64 `json:"prediction_error_frames,omitempty"`
}

// ProbeResult is the ephys/video comparison for one probe recording.
type ProbeResult struct {
	Recording    string  `json:"recording"`
	DifferenceMs float64 `json:"difference_ms"`
	Within       bool    `json:"within_tolerance"`
}

type SessionResult struct {
	Session string         `json:"session"`
	Status  Status         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Devices []DeviceResult `json:"devices,omitempty"`
	// NIDQ compares the DAQ IPI train with the video. It does not gate
	// deletion.
	NIDQ *DeviceResult `json:"nidq,omitempty"`
	// DeviceStartDifference is |start_m - start_s| per IPI, in samples.
	DeviceStartDifference *Spread       `json:"device_start_difference_samples,omitempty"`
	Probes                []ProbeResult `json:"probes,omitempty"`
	OriginalsDeleted      bool          `json:"originals_deleted"`
	Elapsed               time.Duration `json:"elapsed_ns"`
}

// Batch collects session outcomes for one run.
type Batch struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Sessions []SessionResult `json:"sessions"`
	Overall  Summary         `json:"overall_discrepancy"`
}

func NewBatch(started time.Time) *Batch {
	return &Batch{Started: started}
}

func (b *Batch) Add(r SessionResult) {
	b.Sessions = append(b.Sessions, r)
}

// Finish stamps the end time and pools every per-pulse discrepancy across
// sessions that produced measurements.
func (b *Batch) Finish(at time.Time, discrepancies []float64) {
	b.Finished = at
	b.Overall = Summarize(discrepancies)
}

func (b *Batch) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, s := range b.Sessions {
		out[s.Status]++
	}
	return out
}

// Failed reports whether any session did not pass.
func (b *Batch) Failed() bool {
	for _, s := range b.Sessions {
		if s.Status != StatusPass {
			return true
		}
	}
	return false
}

func (b *Batch) WriteJSON(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Render writes a plain-text table of the batch.
func (b *Batch) Render(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sessions: %s", humanize.Comma(int64(len(b.Sessions))))
	if !b.Finished.IsZero() {
		fmt.Fprintf(&sb, " in %s", b.Finished.Sub(b.Started).Round(time.Millisecond))
	}
	sb.WriteString("\n")

	counts := b.Counts()
	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(&sb, "  %-5s %d\n", st, counts[Status(st)])
	}

	for _, s := range b.Sessions {
		fmt.Fprintf(&sb, "\n[%s] %s", strings.ToUpper(string(s.Status)), s.Session)
		if s.Reason != "" {
			fmt.Fprintf(&sb, ": %s", s.Reason)
		}
		sb.WriteString("\n")
		for _, d := range s.Devices {
			fmt.Fprintf(&sb, "  %s: %s pulses, th=%.2f, median %.3f ms, mean %.3f ms, 99%% CI [%.3f, %.3f]\n",
				d.Device, humanize.Comma(int64(d.Pulses)), d.Threshold,
				d.Discrepancy.Median, d.Discrepancy.Mean, d.Discrepancy.CILow, d.Discrepancy.CIHigh)
		}
		if sp := s.DeviceStartDifference; sp != nil {
			fmt.Fprintf(&sb, "  m/s IPI start difference: min %g, max %g, mean %.2f samples\n", sp.Min, sp.Max, sp.Mean)
		}
		if d := s.NIDQ; d != nil {
			fmt.Fprintf(&sb, "  nidq: %s pulses, median %.3f ms, mean %.3f ms, max |%.3f| ms\n",
				humanize.Comma(int64(d.Pulses)), d.Discrepancy.Median, d.Discrepancy.Mean, d.Discrepancy.MaxAbs)
		}
		for _, p := range s.Probes {
			fmt.Fprintf(&sb, "  %s: %+.2f ms (within=%t)\n", p.Recording, p.DifferenceMs, p.Within)
		}
	}

	if b.Overall.N > 0 {
		o := b.Overall
		fmt.Fprintf(&sb, "\nAll pulses (%s): median %.3f ms, mean %.3f ms, 99%% CI [%.3f, %.3f]\n",
			humanize.Comma(int64(o.N)), o.Median, o.Mean, o.CILow, o.CIHigh)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
