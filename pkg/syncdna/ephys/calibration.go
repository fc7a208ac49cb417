package ephys

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Calibration maps headstage serial numbers to measured sample rates.
type Calibration struct {
	HeadStages map[string]float64 `toml:"CalibratedHeadStages"`
}

// LoadCalibration reads a TOML table:
//
//	[CalibratedHeadStages]
//	"23280319" = 30000.1183
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Calibration
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &c, nil
}

// Rate returns the calibrated rate for a headstage, falling back to the
// nominal rate from the meta file.
func (c *Calibration) Rate(m Meta) (float64, error) {
	if c != nil {
		if r, ok := c.HeadStages[m.HeadstageSN]; ok && r > 0 {
			return r, nil
		}
	}
	if m.SampleRate > 0 {
		return m.SampleRate, nil
	}
	return 0, fmt.Errorf("no calibrated sample rate for headstage %s", m.HeadstageSN)
}
