package syncdna

import (
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/ephys"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/sequence"
)

// DeviceBounds is the video span found on one audio device's triggerbox
// channel, persisted in audio_triggerbox_sync_info.json.
type DeviceBounds struct {
	StartFirstRecordedFrame  int     `json:"start_first_recorded_frame"`
	EndLastRecordedFrame     int     `json:"end_last_recorded_frame"`
	LargestBreakDuration     int     `json:"largest_break_duration"`
	DurationSamples          int     `json:"duration_samples"`
	DurationSeconds          float64 `json:"duration_seconds"`
	AudioTrackingDiffSeconds float64 `json:"audio_tracking_diff_seconds"`
	SampleRate               float64 `json:"sample_rate"`
}

// TriggerboxInfo maps device ("m", "s") to its bounds.
type TriggerboxInfo map[string]DeviceBounds

type CropResult struct {
	Devices TriggerboxInfo
	Outputs []string
	// Stretched names the device whose files were fitted to the other
	// device's length, if any.
	Stretched string
	Backend   string
}

// DeviceSync is the audio/video comparison of one cropped sync channel.
type DeviceSync struct {
	Device           string
	File             string
	Pulses           int
	AudioStarts      []int
	DiscrepancyMs    []float64
	FrameDiscrepancy []int
	PredictionErrors []float64
	Summary          report.Summary
	ReportPath       string
}

// CameraSync is the LED train recovered from one sync camera.
type CameraSync struct {
	Camera    string
	FPS       float64
	Threshold float64
	Reducer   string
	Tried     int
	Window    sequence.Window
	Starts    []int
}

type AVResult struct {
	Cameras []CameraSync
	Devices []DeviceSync
	// NIDQ is set when the session holds a DAQ recording whose triggerbox
	// span was found. NIDQDiscrepancyMs stays nil unless its IPI count
	// matches the video.
	NIDQ              *ephys.NIDQSync
	NIDQDiscrepancyMs []float64
	// DeviceStartDiff is set when two devices saw the same number of IPIs.
	DeviceStartDiff *report.Spread
	Decision        DeletionDecision
}

// AllDiscrepancies pools every per-pulse discrepancy of every device.
func (r *AVResult) AllDiscrepancies() []float64 {
	var out []float64
	for _, d := range r.Devices {
		out = append(out, d.DiscrepancyMs...)
	}
	return out
}

// EphysResult is the outcome for one probe recording.
type EphysResult struct {
	Recording    string
	Probe        string
	State        State
	DifferenceMs float64
	Within       bool
	RecordPath   string
	Reason       string
}

// SessionOutcome is everything ProcessSession learned about one session.
type SessionOutcome struct {
	Session          *Session
	State            State
	History          []State
	Err              error
	Crop             *CropResult
	AV               *AVResult
	Ephys            []EphysResult
	OriginalsDeleted bool
	Elapsed          time.Duration
}

// Result converts the outcome to its report row.
func (o *SessionOutcome) Result() report.SessionResult {
	r := report.SessionResult{
		Status:           Classify(o.Err),
		OriginalsDeleted: o.OriginalsDeleted,
		Elapsed:          o.Elapsed,
	}
	if o.Session != nil {
		r.Session = o.Session.Name
	}
	if o.Err != nil {
		r.Reason = o.Err.Error()
	}
	if o.AV != nil {
		threshold := 0.0
		if len(o.AV.Cameras) > 0 {
			threshold = o.AV.Cameras[0].Threshold
		}
		for _, d := range o.AV.Devices {
			r.Devices = append(r.Devices, report.DeviceResult{
				Device:          d.Device,
				Pulses:          d.Pulses,
				Threshold:       threshold,
				Discrepancy:     d.Summary,
				PredictionError: d.PredictionErrors,
			})
		}
		if n := o.AV.NIDQ; n != nil {
			r.NIDQ = &report.DeviceResult{
				Device:      "nidq",
				Pulses:      len(n.Starts),
				Discrepancy: report.Summarize(o.AV.NIDQDiscrepancyMs),
			}
		}
		r.DeviceStartDifference = o.AV.DeviceStartDiff
	}
	for _, e := range o.Ephys {
		r.Probes = append(r.Probes, report.ProbeResult{
			Recording:    e.Recording,
			DifferenceMs: e.DifferenceMs,
			Within:       e.Within,
		})
	}
	return r
}

// Run is a stored session outcome.
type Run struct {
	ID               string
	BatchID          string
	Session          string
	RootDir          string
	Status           string
	State            string
	Reason           string
	Summary          report.Summary
	OriginalsDeleted bool
	Elapsed          time.Duration
	CreatedAt        time.Time
	Devices          []RunDevice
}

type RunDevice struct {
	Kind         string
	Name         string
	Pulses       int
	Threshold    float64
	MedianMs     float64
	MeanMs       float64
	DifferenceMs float64
	Within       bool
}
