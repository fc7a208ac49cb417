package syncdna

import (
	"errors"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/sequence"
)

var (
	// ErrInsufficientPulses: a sync line carries too few pulses to locate the
	// recording. The session is skipped.
	ErrInsufficientPulses = errors.New("insufficient sync pulses")
	// ErrSequenceMismatch: no alignment within tolerance. The session is flagged.
	ErrSequenceMismatch = errors.New("sync sequence mismatch")
	// ErrCameraDisagreement: sync cameras matched different parts of the
	// controller log. The session is aborted.
	ErrCameraDisagreement = errors.New("sync cameras disagree")
	// ErrDeletionGate: discrepancy too large to drop the uncropped originals.
	ErrDeletionGate = errors.New("discrepancy above deletion threshold")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotSession        = errors.New("not a session directory")
)

// Classify maps a session error to its report status.
func Classify(err error) report.Status {
	switch {
	case err == nil:
		return report.StatusPass
	case errors.Is(err, ErrInsufficientPulses):
		return report.StatusSkip
	case errors.Is(err, ErrCameraDisagreement):
		return report.StatusAbort
	case errors.Is(err, ErrSequenceMismatch), errors.Is(err, sequence.ErrNoMatch), errors.Is(err, ErrDeletionGate):
		return report.StatusFlag
	default:
		return report.StatusFail
	}
}
