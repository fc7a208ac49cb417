package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/logger"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/storage"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service syncdna.Service
	config  *ServerConfig
	log     syncdna.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	DataRoot       string
	AllowedOrigins []string
	LogRequests    bool
}

// NewServer creates a new server instance
func NewServer(service syncdna.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// sessionPath resolves a client-supplied path and requires it to be inside
// the data root.
func (s *Server) sessionPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	root, err := filepath.Abs(s.config.DataRoot)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the data root", p)
	}
	return p, nil
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "SyncDNA API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":         "GET /health",
			"metrics":        "GET /api/health/metrics",
			"runs":           "GET /api/runs",
			"getRun":         "GET /api/runs/{id}",
			"deleteRun":      "DELETE /api/runs/{id}",
			"processSession": "POST /api/sessions/process",
			"runBatch":       "POST /api/batches",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.CountRuns()
	if err != nil {
		s.log.Errorf("Failed to count runs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		RunCount:     total,
		ByStatus:     counts,
	})
}

// handleListRuns handles GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.service.ListRuns(limit)
	if err != nil {
		s.log.Errorf("Failed to list runs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	s.respondJSON(w, http.StatusOK, ListRunsResponse{Runs: dtos, Count: len(dtos)})
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.service.GetRun(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", id))
		return
	}
	if err != nil {
		s.log.Errorf("Failed to get run %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve run")
		return
	}
	s.respondJSON(w, http.StatusOK, toRunDTO(*run))
}

// handleDeleteRun handles DELETE /api/runs/{id}
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.service.DeleteRun(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", id))
		return
	}
	if err != nil {
		s.log.Errorf("Failed to delete run %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	s.log.Infof("Deleted run %s", id)
	s.respondJSON(w, http.StatusOK, DeleteRunResponse{Message: "Run deleted successfully", ID: id})
}

// handleProcessSession handles POST /api/sessions/process. Pipeline failures
// are part of the result, not HTTP errors.
func (s *Server) handleProcessSession(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	root, err := s.sessionPath(req.Root)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.service.ProcessSession(r.Context(), root)
	if errors.Is(err, syncdna.ErrNotSession) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := ProcessResponse{SessionResult: out.Result(), State: out.State.String()}
	for _, st := range out.History {
		resp.History = append(resp.History, st.String())
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleRunBatch handles POST /api/batches
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Roots) == 0 {
		s.respondError(w, http.StatusBadRequest, "roots cannot be empty")
		return
	}
	roots := make([]string, len(req.Roots))
	for i, p := range req.Roots {
		abs, err := s.sessionPath(p)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		roots[i] = abs
	}

	batch, err := s.service.RunBatch(r.Context(), roots)
	if errors.Is(err, syncdna.ErrNotSession) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil && batch == nil {
		s.log.Errorf("Batch failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, batch)
}
