package changepoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(p *int64) int64 {
	if p == nil {
		return -1
	}
	return *p
}

func TestLoadLegacyNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("20240101", "imec0"))
	legacy := `{
    "20240101_g0_t0.imec0": {
        "session_start_end": [NaN, NaN],
        "tracking_start_end": [120, 9000],
        "largest_camera_break_duration": 4000,
        "file_duration_samples": NaN,
        "root_directory": "/data/20240101_120000",
        "total_num_channels": 385,
        "headstage_sn": "23280319",
        "imec_probe_sn": "19011119"
    }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	e := f["20240101_g0_t0.imec0"]
	require.NotNil(t, e)
	assert.Nil(t, e.SessionStartEnd[0])
	assert.Nil(t, e.FileDurationSamples)
	assert.Equal(t, int64(9000), val(e.TrackingStartEnd[1]))
	assert.Equal(t, 385, e.TotalNumChannels)
}

func TestLoadMissingIsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestUpdatePreservesOtherRecordings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ephys", FileName("20240101", "imec0"))

	require.NoError(t, Update(path, func(f File) error {
		f.RecordTracking("rec_a", Tracking{Start: 10, End: 110, LargestBreak: 50, Channels: 385, HeadstageSN: "h", ProbeSN: "p"})
		return nil
	}))
	require.NoError(t, Update(path, func(f File) error {
		f.RecordTracking("rec_b", Tracking{Start: 5, End: 95, LargestBreak: 40})
		return nil
	}))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_a", "rec_b"}, f.Keys())
	assert.Equal(t, int64(110), val(f["rec_a"].TrackingStartEnd[1]))
	assert.Equal(t, "h", f["rec_a"].HeadstageSN)
	assert.Equal(t, int64(40), val(f["rec_b"].LargestCameraBreakDuration))
}

func TestTrackingThenConcatenation(t *testing.T) {
	f := File{}
	f.RecordTracking("b", Tracking{Start: 100, End: 900})
	f.RecordConcatenation([]Segment{{Key: "a", Samples: 1000, Channels: 385}, {Key: "b", Samples: 2000, Channels: 385}})

	assert.Equal(t, int64(0), val(f["a"].SessionStartEnd[0]))
	assert.Equal(t, int64(1000), val(f["b"].SessionStartEnd[0]))
	assert.Equal(t, int64(3000), val(f["b"].SessionStartEnd[1]))
	assert.Equal(t, int64(2000), val(f["b"].FileDurationSamples))
	assert.Equal(t, int64(1100), val(f["b"].TrackingStartEnd[0]))
	assert.Equal(t, int64(1900), val(f["b"].TrackingStartEnd[1]))
	assert.Nil(t, f["a"].TrackingStartEnd[0])

	// Re-running the concatenation must not shift tracking again.
	f.RecordConcatenation([]Segment{{Key: "a", Samples: 1000}, {Key: "b", Samples: 2000}})
	assert.Equal(t, int64(1100), val(f["b"].TrackingStartEnd[0]))
}

func TestConcatenationThenTracking(t *testing.T) {
	f := File{}
	f.RecordConcatenation([]Segment{{Key: "a", Samples: 1000}, {Key: "b", Samples: 2000}})
	f.RecordTracking("b", Tracking{Start: 100, End: 900})

	assert.Equal(t, int64(1100), val(f["b"].TrackingStartEnd[0]))
	assert.Equal(t, int64(1900), val(f["b"].TrackingStartEnd[1]))
}

func TestConcatenationRecordsProvenance(t *testing.T) {
	f := File{}
	f.RecordTracking("a", Tracking{Start: 1, End: 2, RootDirectory: "/old", HeadstageSN: "h0"})
	f.RecordConcatenation([]Segment{{Key: "a", Samples: 10, RootDirectory: "/s1/ephys", ProbeSN: "p1"}})

	e := f["a"]
	assert.Equal(t, "/s1/ephys", e.RootDirectory)
	assert.Equal(t, "p1", e.ImecProbeSN)
	// empty segment fields keep what tracking recorded
	assert.Equal(t, "h0", e.HeadstageSN)
}

func TestSaveRoundTripKeepsNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	f := File{}
	f.RecordTracking("x", Tracking{Start: 1, End: 2, LargestBreak: 3, RootDirectory: "/r"})
	require.NoError(t, f.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"session_start_end": [`)
	assert.Contains(t, string(raw), "null")

	back, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(f, back); diff != "" {
		t.Errorf("record changed on disk (-want +got):\n%s", diff)
	}
}
