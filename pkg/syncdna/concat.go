package syncdna

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/changepoint"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/ephys"
	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

// ConcatResult is one probe's concatenated stream.
type ConcatResult struct {
	Probe      string
	Output     string
	RecordPath string
	Segments   []changepoint.Segment
	Samples    int64
}

type concatPart struct {
	path string
	seg  changepoint.Segment
}

// concatParts collects every probe's recordings across sessions, in session
// order.
func (s *syncService) concatParts(sessions []*Session) (map[string][]concatPart, error) {
	fileType := s.config.Settings.Ephys.FileType
	parts := make(map[string][]concatPart)
	seen := make(map[string]string)
	for _, sess := range sessions {
		recs, err := ephys.FindRecordings(sess.Root, fileType)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if prev, dup := seen[rec.Key]; dup {
				return nil, fmt.Errorf("recording %s appears in %s and %s", rec.Key, prev, sess.Name)
			}
			seen[rec.Key] = sess.Name

			meta, err := ephys.LoadMeta(rec.Path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(rec.Path)
			if err != nil {
				return nil, err
			}
			frame := int64(2 * meta.Channels)
			if info.Size()%frame != 0 {
				return nil, fmt.Errorf("%s: %d bytes is not a whole number of %d-channel samples",
					filepath.Base(rec.Path), info.Size(), meta.Channels)
			}
			parts[rec.Probe] = append(parts[rec.Probe], concatPart{
				path: rec.Path,
				seg: changepoint.Segment{
					Key:           rec.Key,
					Samples:       info.Size() / frame,
					Channels:      meta.Channels,
					RootDirectory: filepath.Dir(rec.Path),
					HeadstageSN:   meta.HeadstageSN,
					ProbeSN:       meta.ProbeSN,
				},
			})
		}
	}
	return parts, nil
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ConcatenateEphys joins each probe's recordings across the given sessions
// into one binary next to the probe's changepoint record and records every
// recording's sample range there. Sessions are taken in the order given.
func (s *syncService) ConcatenateEphys(ctx context.Context, roots []string) ([]ConcatResult, error) {
	if len(roots) == 0 {
		return nil, errors.New("no sessions to concatenate")
	}
	sessions := make([]*Session, 0, len(roots))
	for _, root := range roots {
		sess, err := OpenSession(root)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	parts, err := s.concatParts(sessions)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no .%s.bin recordings in %d sessions", s.config.Settings.Ephys.FileType, len(sessions))
	}
	probes := make([]string, 0, len(parts))
	for p := range parts {
		probes = append(probes, p)
	}
	sort.Strings(probes)

	out := make([]ConcatResult, 0, len(probes))
	for _, probe := range probes {
		ps := parts[probe]
		for _, p := range ps[1:] {
			if p.seg.Channels != ps[0].seg.Channels {
				return out, fmt.Errorf("probe %s: %s has %d channels, %s has %d",
					probe, p.seg.Key, p.seg.Channels, ps[0].seg.Key, ps[0].seg.Channels)
			}
		}

		dir, date := s.recordDir(sessions[0], probe)
		res := ConcatResult{
			Probe:      probe,
			Output:     filepath.Join(dir, fmt.Sprintf("concatenated_%s.%s.bin", filepath.Base(dir), s.config.Settings.Ephys.FileType)),
			RecordPath: filepath.Join(dir, changepoint.FileName(date, probe)),
		}
		err := utils.WriteAtomic(res.Output, 0o644, func(w io.Writer) error {
			for _, p := range ps {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := appendFile(w, p.path); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("probe %s: %w", probe, err)
		}

		for _, p := range ps {
			res.Segments = append(res.Segments, p.seg)
			res.Samples += p.seg.Samples
		}
		err = changepoint.Update(res.RecordPath, func(f changepoint.File) error {
			f.RecordConcatenation(res.Segments)
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("updating %s: %w", filepath.Base(res.RecordPath), err)
		}
		s.log.Infof("probe %s: concatenated %d recordings (%s samples) into %s",
			probe, len(ps), humanize.Comma(res.Samples), res.Output)
		out = append(out, res)
	}
	return out, nil
}
