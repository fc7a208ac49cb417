package syncdna

import (
	"context"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
)

type Service interface {
	// CropAudio trims every original channel file to the video span.
	CropAudio(ctx context.Context, root string) (*CropResult, error)
	// VerifyAudioVideo compares the LED train with the audio IPI train and
	// decides whether the originals may be deleted.
	VerifyAudioVideo(ctx context.Context, root string) (*AVResult, error)
	VerifyEphysVideo(ctx context.Context, root string) ([]EphysResult, error)
	// ConcatenateEphys joins each probe's recordings across sessions, in
	// the order given, and records their sample ranges.
	ConcatenateEphys(ctx context.Context, roots []string) ([]ConcatResult, error)
	// CommitDeletion re-checks the decision's gate and removes the originals.
	CommitDeletion(d DeletionDecision) error
	ProcessSession(ctx context.Context, root string) (*SessionOutcome, error)
	RunBatch(ctx context.Context, roots []string) (*report.Batch, error)
	ListRuns(limit int) ([]Run, error)
	// SessionRuns returns every stored run of one session, newest first.
	SessionRuns(session string) ([]Run, error)
	GetRun(id string) (*Run, error)
	DeleteRun(id string) error
	// CountRuns tallies stored runs per status.
	CountRuns() (map[string]int, error)
	Close() error
}

type Storage interface {
	RecordRun(run Run) (string, error)
	ListRuns(limit int) ([]Run, error)
	SessionRuns(session string) ([]Run, error)
	GetRun(id string) (*Run, error)
	DeleteRun(id string) error
	CountRuns() (map[string]int, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
