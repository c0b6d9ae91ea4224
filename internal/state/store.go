// Package state holds the durable ledger of conversion batches and their
// per-file records. The in-memory map is the source of truth; every
// mutation rewrites the JSON mirror in full, which is acceptable because
// batch sizes are bounded by what a user selects in one operation.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/umd/internal/filelock"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// StateFileName is the JSON mirror inside the data directory.
const StateFileName = "orchestrator-state.json"

// Lookup errors surfaced to HTTP handlers as 404s.
var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrFileNotFound  = errors.New("file not found in batch")
)

// Store owns every BatchState. Workers update different files of the same
// batch concurrently, so access is serialized through one mutex.
type Store struct {
	path string
	log  logger.Logger

	mu      sync.RWMutex
	batches map[string]*models.BatchState
}

// NewStore loads the persisted ledger from dataDir. A corrupt ledger is
// logged and replaced by an empty store rather than failing startup.
func NewStore(dataDir string, log logger.Logger) *Store {
	s := &Store{
		path:    filepath.Join(dataDir, StateFileName),
		log:     log,
		batches: make(map[string]*models.BatchState),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warnf(s.log, "failed to read %s, starting with an empty ledger: %v", s.path, err)
		return
	}

	var persisted map[string]*models.BatchState
	if err := json.Unmarshal(data, &persisted); err != nil {
		logger.Warnf(s.log, "failed to parse %s, starting with an empty ledger: %v", s.path, err)
		return
	}
	for id, batch := range persisted {
		if batch != nil {
			s.batches[id] = batch
		}
	}
}

// persist mirrors the ledger to disk. The caller must hold the lock.
func (s *Store) persist() {
	data, err := json.MarshalIndent(s.batches, "", "  ")
	if err != nil {
		logger.Errorf(s.log, "failed to marshal ledger: %v", err)
		return
	}
	if err := filelock.WriteLocked(s.path, data); err != nil {
		logger.Errorf(s.log, "failed to persist ledger: %v", err)
	}
}

// CreateBatch registers a new batch. Callers supply a fresh unique ID;
// an existing batch with the same ID is never overwritten.
func (s *Store) CreateBatch(jobID, rootPath string) (*models.BatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[jobID]; exists {
		return nil, fmt.Errorf("batch %s already exists", jobID)
	}

	batch := &models.BatchState{
		ID:        jobID,
		CreatedAt: time.Now().UTC(),
		RootPath:  rootPath,
		Records:   make(map[string]*models.ConversionRecord),
	}
	s.batches[jobID] = batch
	s.persist()
	return batch, nil
}

// AddFile registers filePath in the batch with status pending. A path
// already registered keeps its current record untouched.
func (s *Store) AddFile(jobID, filePath string) (*models.ConversionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, jobID)
	}

	// Registering the same path twice must not reset a record that has
	// already begun its lifecycle.
	if existing, ok := batch.Records[filePath]; ok {
		return existing, nil
	}

	record := &models.ConversionRecord{
		FilePath: filePath,
		Status:   models.StatusPending,
	}
	batch.Order = append(batch.Order, filePath)
	batch.Records[filePath] = record
	s.persist()
	return record, nil
}

// UpdateStatus transitions a record and merges optional details. Entering
// in-progress stamps StartedAt; entering a terminal status stamps
// CompletedAt. Detail fields already set are never cleared by empty
// values.
func (s *Store) UpdateStatus(jobID, filePath, status string, details *models.RecordDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, jobID)
	}
	record, ok := batch.Records[filePath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, filePath)
	}

	now := time.Now().UTC()
	if status == models.StatusInProgress && record.StartedAt == nil {
		record.StartedAt = &now
	}
	if models.TerminalStatus(status) && record.CompletedAt == nil {
		record.CompletedAt = &now
	}
	record.Status = status

	if details != nil {
		if details.Stdout != "" {
			record.Stdout = details.Stdout
		}
		if details.Stderr != "" {
			record.Stderr = details.Stderr
		}
		if details.Error != "" {
			record.Error = details.Error
		}
		if details.OutputPath != "" {
			record.OutputPath = details.OutputPath
		}
		if details.Duration > 0 {
			record.Duration = details.Duration
		}
	}

	s.persist()
	return nil
}

// GetBatch returns a snapshot of the batch for jobID. Workers keep
// mutating records after this returns, so callers get a copy rather than
// a view into the live map.
func (s *Store) GetBatch(jobID string) (*models.BatchState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, jobID)
	}
	return snapshotBatch(batch), nil
}

func snapshotBatch(batch *models.BatchState) *models.BatchState {
	out := &models.BatchState{
		ID:        batch.ID,
		CreatedAt: batch.CreatedAt,
		RootPath:  batch.RootPath,
		Order:     append([]string(nil), batch.Order...),
		Records:   make(map[string]*models.ConversionRecord, len(batch.Records)),
	}
	for path, record := range batch.Records {
		copied := *record
		out.Records[path] = &copied
	}
	return out
}

// GetRecord returns a copy of one record by its position in discovery
// order.
func (s *Store) GetRecord(jobID string, fileIndex int) (*models.ConversionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, jobID)
	}
	if fileIndex < 0 || fileIndex >= len(batch.Order) {
		return nil, fmt.Errorf("%w: index %d", ErrFileNotFound, fileIndex)
	}
	copied := *batch.Records[batch.Order[fileIndex]]
	return &copied, nil
}

// GetBatchStats returns per-status counts for one batch.
func (s *Store) GetBatchStats(jobID string) (models.BatchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[jobID]
	if !ok {
		return models.BatchStats{}, fmt.Errorf("%w: %s", ErrBatchNotFound, jobID)
	}
	return statsOf(batch), nil
}

func statsOf(batch *models.BatchState) models.BatchStats {
	stats := models.BatchStats{Total: len(batch.Records)}
	for _, record := range batch.Records {
		switch record.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusInProgress:
			stats.InProgress++
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusSkipped:
			stats.Skipped++
		}
	}
	return stats
}

// BatchSummary pairs a batch's identity with its stats for listings.
type BatchSummary struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	RootPath  string            `json:"rootPath"`
	Stats     models.BatchStats `json:"stats"`
}

// ListBatches returns a summary of every batch.
func (s *Store) ListBatches() []BatchSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BatchSummary, 0, len(s.batches))
	for _, batch := range s.batches {
		out = append(out, BatchSummary{
			ID:        batch.ID,
			CreatedAt: batch.CreatedAt,
			RootPath:  batch.RootPath,
			Stats:     statsOf(batch),
		})
	}
	return out
}

// ClearBatch removes a batch. Removing an unknown ID is a no-op.
func (s *Store) ClearBatch(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[jobID]; !ok {
		return
	}
	delete(s.batches, jobID)
	s.persist()
}

// ClearAll removes every batch.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = make(map[string]*models.BatchState)
	s.persist()
}
