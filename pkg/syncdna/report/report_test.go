package report

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4})
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 2.5, s.Median)
	assert.Equal(t, 2.5, s.Mean)
	assert.Equal(t, 4.0, s.MaxAbs)
	assert.InDelta(t, 1.2909944, s.Std, 1e-6)
	// t(0.995, 3) = 5.840909
	half := 5.840909 * 1.2909944 / 2
	assert.InDelta(t, 2.5-half, s.CILow, 1e-4)
	assert.InDelta(t, 2.5+half, s.CIHigh, 1e-4)

	s = Summarize([]float64{-3, 1, 2})
	assert.Equal(t, 1.0, s.Median)
	assert.Equal(t, 3.0, s.MaxAbs)

	s = Summarize([]float64{7})
	assert.Equal(t, Summary{N: 1, Median: 7, Mean: 7, CILow: 7, CIHigh: 7, MaxAbs: 7}, s)
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestPredictionErrorsOnExactLine(t *testing.T) {
	var samples, frames []float64
	for i := range 40 {
		samples = append(samples, float64(i*2500))
		frames = append(frames, float64(i*10+3))
	}
	errs, err := PredictionErrors(samples, frames, 42)
	require.NoError(t, err)
	assert.Len(t, errs, 20)
	for _, e := range errs {
		assert.Zero(t, e)
	}

	again, err := PredictionErrors(samples, frames, 42)
	require.NoError(t, err)
	assert.Equal(t, errs, again)
}

func TestPredictionErrorsRejectsBadInput(t *testing.T) {
	_, err := PredictionErrors([]float64{1, 2}, []float64{1}, 1)
	assert.Error(t, err)
	_, err = PredictionErrors([]float64{1, 2}, []float64{1, 2}, 1)
	assert.Error(t, err)
}

func TestBatch(t *testing.T) {
	b := NewBatch(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	b.Add(SessionResult{
		Session: "20240501_mouse1",
		Status:  StatusPass,
		Devices: []DeviceResult{{Device: "m", Pulses: 1234, Threshold: 0.3, Discrepancy: Summarize([]float64{1, 2, 3})}},
	})
	b.Add(SessionResult{Session: "20240501_mouse2", Status: StatusSkip, Reason: "too few pulses"})
	b.Add(SessionResult{Session: "20240501_mouse3", Status: StatusFlag,
		Probes: []ProbeResult{{Recording: "x_g0_t0.imec0", DifferenceMs: 25.5}}})
	b.Finish(b.Started.Add(90*time.Second), []float64{1, 2, 3})

	assert.Equal(t, map[Status]int{StatusPass: 1, StatusSkip: 1, StatusFlag: 1}, b.Counts())
	assert.True(t, b.Failed())

	var buf bytes.Buffer
	require.NoError(t, b.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "Sessions: 3 in 1m30s")
	assert.Contains(t, out, "[SKIP] 20240501_mouse2: too few pulses")
	assert.Contains(t, out, "m: 1,234 pulses")
	assert.Contains(t, out, "x_g0_t0.imec0: +25.50 ms (within=false)")
	assert.Contains(t, out, "All pulses (3)")

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, b.WriteJSON(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Batch
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back.Sessions, 3)
	assert.Equal(t, StatusFlag, back.Sessions[2].Status)
	assert.Equal(t, 2.0, back.Overall.Median)
}

func TestBatchAllPass(t *testing.T) {
	b := NewBatch(time.Now())
	b.Add(SessionResult{Session: "a", Status: StatusPass})
	assert.False(t, b.Failed())
}

func TestSpreadOf(t *testing.T) {
	sp := SpreadOf([]float64{3, 1, math.NaN(), 4, 1})
	assert.Equal(t, Spread{N: 4, Min: 1, Max: 4, Mean: 2.25}, sp)
	assert.Equal(t, 0.33, SpreadOf([]float64{0, 0, 1}).Mean)
	assert.Equal(t, Spread{}, SpreadOf([]float64{math.NaN()}))
}

func TestRenderNIDQAndDeviceSpread(t *testing.T) {
	b := NewBatch(time.Now())
	b.Add(SessionResult{
		Session:               "20240501_mouse1",
		Status:                StatusPass,
		NIDQ:                  &DeviceResult{Device: "nidq", Pulses: 6, Discrepancy: Summarize([]float64{-0.5, 0.5})},
		DeviceStartDifference: &Spread{N: 6, Min: 3, Max: 3, Mean: 3},
	})
	var buf bytes.Buffer
	require.NoError(t, b.Render(&buf))
	assert.Contains(t, buf.String(), "m/s IPI start difference: min 3, max 3, mean 3.00 samples")
	assert.Contains(t, buf.String(), "nidq: 6 pulses, median 0.000 ms")

	data, err := json.Marshal(b.Sessions[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"device_start_difference_samples":{"n":6,"min":3,"max":3,"mean":3}`)
}
