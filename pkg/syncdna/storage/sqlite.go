//go:build !js && !wasm

// Package storage keeps the history of synchronization runs in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

const DefaultDBFile = "syncdna.sqlite3"
const errDBClientNil = "db client is nil"

var ErrRunNotFound = errors.New("run not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// SessionRun is one processed session within a batch.
type SessionRun struct {
	ID               string  `gorm:"primaryKey;type:varchar(36)"`
	BatchID          string  `gorm:"type:varchar(36);index:idx_batch"`
	Session          string  `gorm:"index:idx_session"`
	RootDir          string  `json:"root_dir"`
	Status           string  `gorm:"index:idx_status" json:"status"`
	State            string  `json:"state"`
	Reason           string  `json:"reason"`
	MedianMs         float64 `json:"median_ms"`
	MeanMs           float64 `json:"mean_ms"`
	CILowMs          float64 `json:"ci_low_ms"`
	CIHighMs         float64 `json:"ci_high_ms"`
	OriginalsDeleted bool    `json:"originals_deleted"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	CreatedAt        time.Time
	Devices          []DeviceRun `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// DeviceRun holds the per-device (audio) or per-probe (ephys) numbers.
type DeviceRun struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	RunID        string  `gorm:"type:varchar(36);index:idx_run"`
	Kind         string  `json:"kind"`
	Name         string  `json:"name"`
	Pulses       int     `json:"pulses"`
	Threshold    float64 `json:"threshold"`
	MedianMs     float64 `json:"median_ms"`
	MeanMs       float64 `json:"mean_ms"`
	DifferenceMs float64 `json:"difference_ms"`
	Within       bool    `json:"within"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("SYNCDNA_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&SessionRun{}, &DeviceRun{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordRun inserts run and its device rows in one transaction. An empty ID
// is filled in; the ID is returned.
func (c *DBClient) RecordRun(run *SessionRun) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if run.ID == "" {
		run.ID = utils.NewID()
	}
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		devices := run.Devices
		run.Devices = nil
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		for i := range devices {
			devices[i].RunID = run.ID
		}
		if len(devices) > 0 {
			if err := tx.CreateInBatches(devices, 100).Error; err != nil {
				return fmt.Errorf("creating device rows: %w", err)
			}
		}
		run.Devices = devices
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (c *DBClient) GetRun(id string) (*SessionRun, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var run SessionRun
	err := c.DB.Preload("Devices").Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the newest runs first. limit <= 0 means all.
func (c *DBClient) ListRuns(limit int) ([]SessionRun, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Preload("Devices").Order("created_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []SessionRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// ListSessionRuns returns every run of one session, newest first.
func (c *DBClient) ListSessionRuns(session string) ([]SessionRun, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var runs []SessionRun
	if err := c.DB.Preload("Devices").Where("session = ?", session).Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", session, err)
	}
	return runs, nil
}

func (c *DBClient) DeleteRun(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&DeviceRun{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&SessionRun{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", id, ErrRunNotFound)
		}
		return nil
	})
}

// CountByStatus tallies stored runs per status.
func (c *DBClient) CountByStatus() (map[string]int, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []struct {
		Status string
		Count  int
	}
	if err := c.DB.Model(&SessionRun{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
