package syncdna

import (
	"fmt"
	"math"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// DeletionDecision records whether a session's uncropped audio may be
// removed. Evidence lists the discrepancy reports the decision was made on.
type DeletionDecision struct {
	Session  string
	Target   string
	Evidence []string
	MaxAbsMs float64
	// LimitMs is the exclusive upper bound on MaxAbsMs.
	LimitMs  float64
	Approved bool
	Reason   string
}

func (s *syncService) decide(sess *Session, res *AVResult) DeletionDecision {
	set := s.config.Settings.Sync
	d := DeletionDecision{
		Session: sess.Name,
		Target:  sess.AudioOriginalDir(),
		LimitMs: set.MaxResyncMs,
	}
	for _, ds := range res.Devices {
		d.Evidence = append(d.Evidence, ds.ReportPath)
		d.MaxAbsMs = max(d.MaxAbsMs, ds.Summary.MaxAbs)
	}

	switch {
	case !set.DeleteOriginals:
		d.Reason = "deletion disabled"
	case d.MaxAbsMs >= d.LimitMs:
		d.Reason = fmt.Sprintf("max discrepancy %.3f ms is not below %g ms", d.MaxAbsMs, d.LimitMs)
	case !utils.DirExists(d.Target):
		d.Reason = "originals already removed"
	default:
		d.Approved = true
	}
	return d
}

// maxEvidence re-reads every discrepancy report and returns the largest
// absolute discrepancy found.
func maxEvidence(paths []string) (float64, error) {
	if len(paths) == 0 {
		return 0, fmt.Errorf("%w: no discrepancy reports", ErrDeletionGate)
	}
	worst := 0.0
	for _, p := range paths {
		doc, err := loadDiscrepancy(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDeletionGate, err)
		}
		if len(doc.DiscrepancyMs) == 0 {
			return 0, fmt.Errorf("%w: %s has no discrepancies", ErrDeletionGate, p)
		}
		for _, v := range doc.DiscrepancyMs {
			if math.IsNaN(v) {
				return 0, fmt.Errorf("%w: %s contains NaN", ErrDeletionGate, p)
			}
			worst = max(worst, math.Abs(v))
		}
	}
	return worst, nil
}

// CommitDeletion removes the originals named by an approved decision. The
// gate is evaluated again from the reports on disk right before removal.
func (s *syncService) CommitDeletion(d DeletionDecision) error {
	if !d.Approved {
		return fmt.Errorf("%w: decision for %s not approved: %s", ErrDeletionGate, d.Session, d.Reason)
	}
	limit := d.LimitMs
	if limit <= 0 {
		limit = s.config.Settings.Sync.MaxResyncMs
	}
	worst, err := maxEvidence(d.Evidence)
	if err != nil {
		return err
	}
	if worst >= limit {
		return fmt.Errorf("%w: %.3f ms (limit %g ms)", ErrDeletionGate, worst, limit)
	}
	if err := utils.DeleteDir(d.Target); err != nil {
		return fmt.Errorf("removing %s: %w", d.Target, err)
	}
	s.log.Infof("removed uncropped audio of %s (max discrepancy %.3f ms)", d.Session, worst)
	return nil
}
