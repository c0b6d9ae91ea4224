package models

import "time"

// Conversion status constants. Transitions are monotonic:
// pending -> in-progress -> {completed | failed | skipped}.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// TerminalStatus reports whether s is a terminal conversion status.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ConversionRecord tracks one file's conversion lifecycle within a batch.
type ConversionRecord struct {
	FilePath    string        `json:"filePath"`
	Status      string        `json:"status"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	Error       string        `json:"error,omitempty"`
	OutputPath  string        `json:"outputPath,omitempty"`
}

// RecordDetails carries the optional fields merged into a record on a
// status update. Nil/empty fields leave previously set values untouched.
type RecordDetails struct {
	Stdout     string
	Stderr     string
	Error      string
	OutputPath string
	Duration   time.Duration
}

// BatchState is one user-initiated conversion job.
// Order preserves discovery order; Records is keyed by file path.
type BatchState struct {
	ID        string                       `json:"id"`
	CreatedAt time.Time                    `json:"createdAt"`
	RootPath  string                       `json:"rootPath"`
	Order     []string                     `json:"order"`
	Records   map[string]*ConversionRecord `json:"records"`
}

// BatchStats summarizes record counts per status for one batch.
type BatchStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// ConversionResult is the outcome of converting a single file.
type ConversionResult struct {
	FilePath   string        `json:"filePath"`
	Success    bool          `json:"success"`
	OutputPath string        `json:"outputPath,omitempty"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Error      string        `json:"error,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
}
