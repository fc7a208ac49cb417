package syncdna

import (
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/storage"
)

// storageAdapter adapts the storage.DBClient to implement the Storage interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func (s *storageAdapter) RecordRun(run Run) (string, error) {
	row := &storage.SessionRun{
		ID:               run.ID,
		BatchID:          run.BatchID,
		Session:          run.Session,
		RootDir:          run.RootDir,
		Status:           run.Status,
		State:            run.State,
		Reason:           run.Reason,
		MedianMs:         run.Summary.Median,
		MeanMs:           run.Summary.Mean,
		CILowMs:          run.Summary.CILow,
		CIHighMs:         run.Summary.CIHigh,
		OriginalsDeleted: run.OriginalsDeleted,
		ElapsedMs:        run.Elapsed.Milliseconds(),
		CreatedAt:        run.CreatedAt,
	}
	for _, d := range run.Devices {
		row.Devices = append(row.Devices, storage.DeviceRun{
			Kind:         d.Kind,
			Name:         d.Name,
			Pulses:       d.Pulses,
			Threshold:    d.Threshold,
			MedianMs:     d.MedianMs,
			MeanMs:       d.MeanMs,
			DifferenceMs: d.DifferenceMs,
			Within:       d.Within,
		})
	}
	return s.db.RecordRun(row)
}

func (s *storageAdapter) ListRuns(limit int) ([]Run, error) {
	return fromRows(s.db.ListRuns(limit))
}

func (s *storageAdapter) SessionRuns(session string) ([]Run, error) {
	return fromRows(s.db.ListSessionRuns(session))
}

func (s *storageAdapter) GetRun(id string) (*Run, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	run := fromRow(row)
	return &run, nil
}

func (s *storageAdapter) DeleteRun(id string) error {
	return s.db.DeleteRun(id)
}

func (s *storageAdapter) CountRuns() (map[string]int, error) {
	return s.db.CountByStatus()
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}

func fromRows(rows []storage.SessionRun, err error) ([]Run, error) {
	if err != nil {
		return nil, err
	}
	runs := make([]Run, len(rows))
	for i := range rows {
		runs[i] = fromRow(&rows[i])
	}
	return runs, nil
}

func fromRow(row *storage.SessionRun) Run {
	run := Run{
		ID:      row.ID,
		BatchID: row.BatchID,
		Session: row.Session,
		RootDir: row.RootDir,
		Status:  row.Status,
		State:   row.State,
		Reason:  row.Reason,
		Summary: report.Summary{
			Median: row.MedianMs,
			Mean:   row.MeanMs,
			CILow:  row.CILowMs,
			CIHigh: row.CIHighMs,
		},
		OriginalsDeleted: row.OriginalsDeleted,
		Elapsed:          time.Duration(row.ElapsedMs) * time.Millisecond,
		CreatedAt:        row.CreatedAt,
	}
	for _, d := range row.Devices {
		run.Devices = append(run.Devices, RunDevice{
			Kind:         d.Kind,
			Name:         d.Name,
			Pulses:       d.Pulses,
			Threshold:    d.Threshold,
			MedianMs:     d.MedianMs,
			MeanMs:       d.MeanMs,
			DifferenceMs: d.DifferenceMs,
			Within:       d.Within,
		})
	}
	return run
}
