package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// TrimJob describes one external crop of a channel file to the video span,
// optionally time-stretched to another device's length.
type TrimJob struct {
	Input    string
	Output   string
	Start    int
	Duration int
	Tempo    float64
}

// Args renders the sox argument list. Sample offsets use sox's "s" suffix.
func (j TrimJob) Args() []string {
	args := []string{
		j.Input, j.Output,
		"trim", strconv.Itoa(j.Start) + "s", strconv.Itoa(j.Duration) + "s",
	}
	if j.Tempo > 0 && j.Tempo != 1 {
		args = append(args, "tempo", "-s", strconv.FormatFloat(j.Tempo, 'f', -1, 64))
	}
	return args
}

// Command builds the process without starting it.
func (j TrimJob) Command(ctx context.Context, soxBin string) *exec.Cmd {
	if soxBin == "" {
		soxBin = "sox"
	}
	return exec.CommandContext(ctx, soxBin, j.Args()...)
}

func (j TrimJob) String() string {
	return fmt.Sprintf("trim %s [%d +%d] tempo=%g", j.Input, j.Start, j.Duration, j.Tempo)
}
