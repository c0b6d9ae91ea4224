package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
	"github.com/harrison/umd/internal/scanner"
)

type scanRequest struct {
	RootPath    string   `json:"rootPath"`
	Recursive   *bool    `json:"recursive,omitempty"`
	MaxDepth    int      `json:"maxDepth,omitempty"`
	Extensions  []string `json:"extensions,omitempty"`
	ExcludeDirs []string `json:"excludeDirs,omitempty"`
	// Refresh bypasses the scan cache and replaces the cached entry.
	Refresh bool `json:"refresh,omitempty"`
}

type scanResponse struct {
	*models.ScanResult
	ExclusionsApplied int  `json:"exclusionsApplied"`
	Cached            bool `json:"cached"`
}

// handleScan walks a directory tree. Results are served from the scan
// cache when a fresh entry exists and refresh was not requested.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RootPath == "" {
		s.writeError(w, http.StatusBadRequest, "rootPath is required")
		return
	}

	if !req.Refresh {
		if cached := s.cache.Get(req.RootPath); cached != nil {
			s.writeJSON(w, http.StatusOK, scanResponse{
				ScanResult:        cached.Result,
				ExclusionsApplied: len(cached.Result.Excluded),
				Cached:            true,
			})
			return
		}
	}

	opts := scanner.DefaultOptions()
	if req.Recursive != nil {
		opts.Recursive = *req.Recursive
	}
	opts.MaxDepth = req.MaxDepth
	opts.Extensions = req.Extensions
	opts.ExcludeDirs = req.ExcludeDirs

	s.bus.Publish(events.TypeScanStart, map[string]interface{}{
		"rootPath": req.RootPath,
	})

	result, err := s.scanner.Scan(req.RootPath, opts)
	if err != nil {
		s.bus.Publish(events.TypeError, map[string]interface{}{
			"rootPath": req.RootPath,
			"message":  err.Error(),
		})
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, scanner.ErrNotDirectory):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.cache.Set(req.RootPath, result, 0)
	if s.watcher != nil && s.cfg.WatchEnabled {
		if err := s.watcher.AddRoot(result.RootPath); err != nil {
			logger.Warnf(s.log, "watch %s: %v", result.RootPath, err)
		}
	}

	s.bus.Publish(events.TypeScanComplete, map[string]interface{}{
		"rootPath":  result.RootPath,
		"total":     len(result.Files),
		"pending":   len(result.Pending),
		"converted": len(result.Converted),
		"excluded":  len(result.Excluded),
	})

	s.writeJSON(w, http.StatusOK, scanResponse{
		ScanResult:        result,
		ExclusionsApplied: len(result.Excluded),
	})
}

type cachedScanResponse struct {
	*models.ScanResult
	ScannedAt time.Time `json:"scannedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleScanResult returns the cached scan for rootPath, or the list of
// cached roots when rootPath is omitted.
func (s *Server) handleScanResult(w http.ResponseWriter, r *http.Request) {
	rootPath := r.URL.Query().Get("rootPath")
	if rootPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": s.cache.Summaries(),
		})
		return
	}
	cached := s.cache.Get(rootPath)
	if cached == nil {
		s.writeError(w, http.StatusNotFound, "no cached scan for "+rootPath)
		return
	}
	s.writeJSON(w, http.StatusOK, cachedScanResponse{
		ScanResult: cached.Result,
		ScannedAt:  cached.ScannedAt,
		ExpiresAt:  cached.ExpiresAt,
	})
}

// handleScanCacheDelete invalidates one cached root, or every entry
// when rootPath is omitted.
func (s *Server) handleScanCacheDelete(w http.ResponseWriter, r *http.Request) {
	rootPath := r.URL.Query().Get("rootPath")
	if rootPath == "" {
		s.cache.ClearAll()
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": s.cache.Invalidate(rootPath)})
}
