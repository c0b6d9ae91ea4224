// Package history keeps a durable record of every terminal conversion
// across batches, so completed work survives batch deletion and feeds
// the history view of the monitoring UI.
package history

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/umd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DBFileName is the sqlite file inside the data directory.
const DBFileName = "history.db"

// Entry is one recorded terminal conversion.
type Entry struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"jobId"`
	FilePath   string    `json:"filePath"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Store manages the sqlite conversion history database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and initializes) the history database in dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return open(filepath.Join(dataDir, DBFileName))
}

// NewMemoryStore opens an in-memory history database, used by tests.
func NewMemoryStore() (*Store, error) {
	return open(":memory:")
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// busy_timeout first so subsequent statements wait on locks instead
	// of failing under concurrent writers.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure history database: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends one terminal conversion outcome.
func (s *Store) Record(jobID string, file models.DiscoveredFile, result models.ConversionResult) error {
	status := models.StatusFailed
	if result.Success {
		status = models.StatusCompleted
	}

	_, err := s.db.Exec(
		`INSERT INTO conversions (job_id, file_path, status, duration_ms, error, output_path, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, file.Path, status, result.Duration.Milliseconds(),
		result.Error, result.OutputPath, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record conversion: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, job_id, file_path, status, duration_ms, error, output_path, finished_at
		 FROM conversions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.JobID, &e.FilePath, &e.Status,
			&e.DurationMS, &e.Error, &e.OutputPath, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes lifetime conversion counts.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats returns lifetime totals across every batch.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM conversions`,
		models.StatusCompleted, models.StatusFailed,
	).Scan(&stats.Total, &stats.Completed, &stats.Failed)
	if err != nil {
		return Stats{}, fmt.Errorf("query history stats: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
