package drift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/audio"
)

// SoxStretcher runs "sox tempo -s" on a temporary mono file.
type SoxStretcher struct {
	Bin        string
	SampleRate int
	TempDir    string
	Timeout    time.Duration
}

func (s SoxStretcher) Stretch(samples []int16, factor float64) ([]int16, error) {
	if factor <= 0 {
		return nil, errors.New("stretch factor must be positive")
	}
	bin := s.Bin
	if bin == "" {
		bin = "sox"
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}

	dir, err := os.MkdirTemp(s.TempDir, "syncdna-stretch-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	if err := audio.WriteWAV(in, s.SampleRate, samples); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, in, out, "tempo", "-s", strconv.FormatFloat(factor, 'f', -1, 64))
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sox failed: %v (%s)", err, output)
	}

	chans, _, err := audio.ReadWAV(out)
	if err != nil {
		return nil, err
	}
	return chans[0], nil
}
