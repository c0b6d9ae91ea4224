package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
	"github.com/harrison/umd/internal/runner"
	"github.com/harrison/umd/internal/state"
)

type convertRequest struct {
	Files         []string `json:"files"`
	Concurrency   int      `json:"concurrency,omitempty"`
	SkipConverted *bool    `json:"skipConverted,omitempty"`
}

// handleConvert starts a conversion batch and returns immediately with
// the job ID. Progress is observable via /convert/status and /events.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		s.writeError(w, http.StatusBadRequest, "files is required and must not be empty")
		return
	}

	files := make([]models.DiscoveredFile, 0, len(req.Files))
	for _, path := range req.Files {
		file, err := describeFile(path)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, file)
	}

	opts := runner.DefaultBatchOptions()
	opts.RootPath = filepath.Dir(files[0].Path)
	opts.Concurrency = s.cfg.Concurrency
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	if req.SkipConverted != nil {
		opts.SkipConverted = *req.SkipConverted
	}
	jobID := uuid.NewString()
	opts.OnComplete = func(file models.DiscoveredFile, result models.ConversionResult) {
		s.recordOutcome(jobID, file, result)
	}
	go func() {
		if _, err := s.runner.ConvertBatch(context.Background(), files, jobID, opts); err != nil {
			logger.Errorf(s.log, "batch %s: %v", jobID, err)
		}
	}()

	// Mirror the runner's queue: duplicates collapse and, unless the
	// caller opts out, already-converted files are skipped.
	total := 0
	counted := make(map[string]bool, len(files))
	for _, f := range files {
		if counted[f.Path] || (opts.SkipConverted && f.HasMarkdown) {
			continue
		}
		counted[f.Path] = true
		total++
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":      jobID,
		"totalFiles": total,
	})
}

// recordOutcome runs after every terminal conversion: the scan cache
// entry covering the file is stale now, and the outcome goes to the
// history store.
func (s *Server) recordOutcome(jobID string, file models.DiscoveredFile, result models.ConversionResult) {
	if result.Success {
		s.cache.InvalidateForFile(file.Path)
	}
	if s.history != nil && !result.Skipped {
		if err := s.history.Record(jobID, file, result); err != nil {
			logger.Warnf(s.log, "record history for %s: %v", file.Path, err)
		}
	}
}

// describeFile stats a requested path into the shape the runner expects.
func describeFile(path string) (models.DiscoveredFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.DiscoveredFile{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.DiscoveredFile{}, fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return models.DiscoveredFile{}, fmt.Errorf("not a file: %s", path)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(abs)), ".")
	if !models.IsSupportedExtension(ext) {
		return models.DiscoveredFile{}, fmt.Errorf("unsupported file type %q: %s", ext, path)
	}
	file := models.DiscoveredFile{
		Path:         abs,
		Extension:    ext,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		MarkdownPath: abs + models.MarkdownExt,
	}
	if _, err := os.Stat(file.MarkdownPath); err == nil {
		file.HasMarkdown = true
	}
	return file, nil
}

// handleConvertStatus returns per-file records in submission order plus
// the aggregate counts for one job.
func (s *Server) handleConvertStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	batch, err := s.store.GetBatch(jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	records := make([]*models.ConversionRecord, 0, len(batch.Order))
	for _, path := range batch.Order {
		records = append(records, batch.Records[path])
	}
	stats, _ := s.store.GetBatchStats(jobID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":     batch.ID,
		"rootPath":  batch.RootPath,
		"createdAt": batch.CreatedAt,
		"stats":     stats,
		"records":   records,
	})
}

// handleConvertLogs returns the captured converter output for one file
// of one job, addressed by its position in the batch.
func (s *Server) handleConvertLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	index, err := strconv.Atoi(chi.URLParam(r, "fileIndex"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "fileIndex must be an integer")
		return
	}
	record, err := s.store.GetRecord(jobID, index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"filePath": record.FilePath,
		"status":   record.Status,
		"stdout":   record.Stdout,
		"stderr":   record.Stderr,
		"error":    record.Error,
	})
}

// handleConvertCancel signals the job's workers to stop. Files already
// handed to the converter get the termination grace period; files still
// pending are never started.
func (s *Server) handleConvertCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": s.runner.Cancel(jobID)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   s.store.ListBatches(),
		"active": s.runner.ActiveCount(),
	})
}

// handleDeleteJob removes one batch from the ledger. Unknown IDs are a
// 404 rather than a silent success so callers catch typos.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.GetBatch(jobID); err != nil {
		if errors.Is(err, state.ErrBatchNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.store.ClearBatch(jobID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleHistory returns recent terminal outcomes from the sqlite ledger.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.history.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"stats":   stats,
	})
}
