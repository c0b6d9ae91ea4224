package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/umd/internal/models"
)

func TestBatchLifecycle(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)

	const n = 4
	for i := 0; i < n; i++ {
		_, err := s.AddFile("job-1", fmt.Sprintf("/docs/f%d.pdf", i))
		require.NoError(t, err)
	}

	stats, err := s.GetBatchStats("job-1")
	require.NoError(t, err)
	assert.Equal(t, n, stats.Total)
	assert.Equal(t, n, stats.Pending)

	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/docs/f%d.pdf", i)
		require.NoError(t, s.UpdateStatus("job-1", path, models.StatusInProgress, nil))
		terminal := models.StatusCompleted
		if i == n-1 {
			terminal = models.StatusFailed
		}
		require.NoError(t, s.UpdateStatus("job-1", path, terminal, nil))
	}

	stats, err = s.GetBatchStats("job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, n, stats.Completed+stats.Failed)
	assert.Equal(t, 1, stats.Failed)
}

func TestCreateBatchRejectsDuplicateID(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)

	_, err = s.CreateBatch("job-1", "/other")
	assert.Error(t, err)
}

func TestLookupErrors(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	_, err := s.AddFile("missing", "/f.pdf")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	err = s.UpdateStatus("missing", "/f.pdf", models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	err = s.UpdateStatus("job-1", "/unknown.pdf", models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.GetBatchStats("missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = s.GetBatch("missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestTimestampsSetOnTransitions(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	record, err := s.AddFile("job-1", "/docs/a.pdf")
	require.NoError(t, err)

	assert.Nil(t, record.StartedAt)
	assert.Nil(t, record.CompletedAt)

	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusInProgress, nil))
	batch, err := s.GetBatch("job-1")
	require.NoError(t, err)
	rec := batch.Records["/docs/a.pdf"]
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)

	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusCompleted, nil))
	batch, err = s.GetBatch("job-1")
	require.NoError(t, err)
	rec = batch.Records["/docs/a.pdf"]
	require.NotNil(t, rec.CompletedAt)
}

func TestAddFileKeepsExistingRecord(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	_, err = s.AddFile("job-1", "/docs/a.pdf")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusInProgress, nil))

	record, err := s.AddFile("job-1", "/docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, record.Status, "re-registration must not reset the lifecycle")

	batch, err := s.GetBatch("job-1")
	require.NoError(t, err)
	assert.Len(t, batch.Order, 1)
}

func TestUpdateStatusMergesDetailsWithoutClearing(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	_, err = s.AddFile("job-1", "/docs/a.pdf")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusInProgress,
		&models.RecordDetails{Stdout: "working"}))
	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusFailed,
		&models.RecordDetails{Stderr: "boom", Duration: 2 * time.Second}))

	batch, err := s.GetBatch("job-1")
	require.NoError(t, err)
	rec := batch.Records["/docs/a.pdf"]
	assert.Equal(t, "working", rec.Stdout, "earlier detail survives later update")
	assert.Equal(t, "boom", rec.Stderr)
	assert.Equal(t, 2*time.Second, rec.Duration)
}

func TestGetRecordByIndex(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	_, err = s.AddFile("job-1", "/docs/first.pdf")
	require.NoError(t, err)
	_, err = s.AddFile("job-1", "/docs/second.pdf")
	require.NoError(t, err)

	rec, err := s.GetRecord("job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "/docs/second.pdf", rec.FilePath)

	_, err = s.GetRecord("job-1", 5)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestClearBatchIdempotent(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)

	s.ClearBatch("job-1")
	s.ClearBatch("job-1") // second removal is a no-op

	_, err = s.GetBatch("job-1")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestStorePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir, nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)
	_, err = s.AddFile("job-1", "/docs/a.pdf")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus("job-1", "/docs/a.pdf", models.StatusCompleted,
		&models.RecordDetails{OutputPath: "/docs/a.pdf.md"}))

	reloaded := NewStore(dir, nil)
	batch, err := reloaded.GetBatch("job-1")
	require.NoError(t, err)
	rec := batch.Records["/docs/a.pdf"]
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "/docs/a.pdf.md", rec.OutputPath)
}

func TestStoreCorruptLedgerFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("]["), 0o644))

	s := NewStore(dir, nil)
	assert.Empty(t, s.ListBatches())
}

func TestConcurrentUpdatesAcrossFiles(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	_, err := s.CreateBatch("job-1", "/docs")
	require.NoError(t, err)

	const n = 16
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = fmt.Sprintf("/docs/f%d.pdf", i)
		_, err := s.AddFile("job-1", paths[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			assert.NoError(t, s.UpdateStatus("job-1", path, models.StatusInProgress, nil))
			assert.NoError(t, s.UpdateStatus("job-1", path, models.StatusCompleted, nil))
		}(p)
	}
	wg.Wait()

	stats, err := s.GetBatchStats("job-1")
	require.NoError(t, err)
	assert.Equal(t, n, stats.Completed)
}
