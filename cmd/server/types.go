package main

import (
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type MetricsResponse struct {
	Status       string         `json:"status"`
	DatabasePath string         `json:"database_path"`
	RunCount     int            `json:"run_count"`
	ByStatus     map[string]int `json:"by_status"`
}

type RunDeviceDTO struct {
	Kind         string  `json:"kind"`
	Name         string  `json:"name"`
	Pulses       int     `json:"pulses,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	MedianMs     float64 `json:"median_ms,omitempty"`
	MeanMs       float64 `json:"mean_ms,omitempty"`
	DifferenceMs float64 `json:"difference_ms,omitempty"`
	Within       bool    `json:"within"`
}

type RunDTO struct {
	ID               string         `json:"id"`
	BatchID          string         `json:"batch_id"`
	Session          string         `json:"session"`
	RootDir          string         `json:"root_dir"`
	Status           string         `json:"status"`
	State            string         `json:"state"`
	Reason           string         `json:"reason,omitempty"`
	Discrepancy      report.Summary `json:"discrepancy"`
	OriginalsDeleted bool           `json:"originals_deleted"`
	ElapsedMs        int64          `json:"elapsed_ms"`
	CreatedAt        time.Time      `json:"created_at"`
	Devices          []RunDeviceDTO `json:"devices,omitempty"`
}

func toRunDTO(r syncdna.Run) RunDTO {
	dto := RunDTO{
		ID:               r.ID,
		BatchID:          r.BatchID,
		Session:          r.Session,
		RootDir:          r.RootDir,
		Status:           r.Status,
		State:            r.State,
		Reason:           r.Reason,
		Discrepancy:      r.Summary,
		OriginalsDeleted: r.OriginalsDeleted,
		ElapsedMs:        r.Elapsed.Milliseconds(),
		CreatedAt:        r.CreatedAt,
	}
	for _, d := range r.Devices {
		dto.Devices = append(dto.Devices, RunDeviceDTO(d))
	}
	return dto
}

type ListRunsResponse struct {
	Runs  []RunDTO `json:"runs"`
	Count int      `json:"count"`
}

type DeleteRunResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ProcessRequest is the body of POST /api/sessions/process.
type ProcessRequest struct {
	Root string `json:"root"`
}

type ProcessResponse struct {
	report.SessionResult
	State   string   `json:"state"`
	History []string `json:"history"`
}

// BatchRequest is the body of POST /api/batches.
type BatchRequest struct {
	Roots []string `json:"roots"`
}
