package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
	"github.com/harrison/umd/internal/state"
)

// BatchOptions configures one ConvertBatch call.
type BatchOptions struct {
	// RootPath is recorded on the batch for listings.
	RootPath string
	// Concurrency bounds the worker pool (defaults to 1 when <= 0).
	Concurrency int
	// SkipConverted filters out files that already have a sidecar.
	SkipConverted bool
	// OnStart fires when a worker picks a file up.
	OnStart func(file models.DiscoveredFile)
	// OnComplete fires after a file reaches a terminal status.
	OnComplete func(file models.DiscoveredFile, result models.ConversionResult)
	// OnProgress fires after each completion with done/total counts.
	OnProgress func(done, total int)
}

// DefaultBatchOptions mirror the request defaults: skip files that are
// already converted.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Concurrency: 1, SkipConverted: true}
}

// Runner drives batch conversions through a bounded worker pool and owns
// cancellation of in-flight converter processes.
type Runner struct {
	converter Converter
	store     *state.Store
	bus       *events.Bus
	log       logger.Logger

	// MaxFileSize fails oversized files before they ever leave pending,
	// so no process is spawned for them. Zero disables the check.
	MaxFileSize int64

	active int32

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunner creates a Runner converting through the given Converter and
// recording state in store. bus and log may be nil.
func NewRunner(converter Converter, store *state.Store, bus *events.Bus, log logger.Logger) *Runner {
	return &Runner{
		converter: converter,
		store:     store,
		bus:       bus,
		log:       log,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// ConvertFile converts a single file outside of any batch.
func (r *Runner) ConvertFile(ctx context.Context, file models.DiscoveredFile) models.ConversionResult {
	atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	return r.converter.Convert(ctx, file)
}

// ConvertBatch runs the files through min(concurrency, len(queue))
// workers. Every remaining file is registered as a pending record before
// the first worker starts, so a status query never observes a partial
// batch. Results are returned in input order.
func (r *Runner) ConvertBatch(ctx context.Context, files []models.DiscoveredFile, jobID string, opts BatchOptions) ([]models.ConversionResult, error) {
	// Duplicate paths are collapsed so every record sees exactly one
	// pending -> in-progress -> terminal lifecycle.
	queue := make([]models.DiscoveredFile, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Path] || (opts.SkipConverted && f.HasMarkdown) {
			continue
		}
		seen[f.Path] = true
		queue = append(queue, f)
	}

	if _, err := r.store.CreateBatch(jobID, opts.RootPath); err != nil {
		return nil, err
	}

	if len(queue) == 0 {
		return []models.ConversionResult{}, nil
	}

	// Registration happens-before any worker starts.
	for _, f := range queue {
		if _, err := r.store.AddFile(jobID, f.Path); err != nil {
			return nil, err
		}
	}

	batchCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}()

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(queue) {
		workers = len(queue)
	}

	r.publish(events.TypeConversionStart, map[string]interface{}{
		"jobId":      jobID,
		"totalFiles": len(queue),
	})
	logger.Infof(r.log, "batch %s: converting %d files with %d workers", jobID, len(queue), workers)

	type indexed struct {
		idx  int
		file models.DiscoveredFile
	}
	work := make(chan indexed, len(queue))
	for i, f := range queue {
		work <- indexed{idx: i, file: f}
	}
	close(work)

	results := make([]models.ConversionResult, len(queue))
	var done int32
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker loops over the shared queue until it drains.
			for item := range work {
				if batchCtx.Err() != nil {
					return
				}
				results[item.idx] = r.convertOne(batchCtx, jobID, item.file, opts, len(queue), &done)
			}
		}()
	}
	wg.Wait()

	stats, statsErr := r.store.GetBatchStats(jobID)
	if statsErr == nil {
		r.publish(events.TypeConversionComplete, map[string]interface{}{
			"jobId": jobID,
			"stats": stats,
		})
	}
	logger.Infof(r.log, "batch %s: finished (%d completed, %d failed)", jobID, stats.Completed, stats.Failed)

	return results, nil
}

// convertOne runs the full per-file lifecycle: pending -> in-progress ->
// terminal, with events and callbacks on each edge.
func (r *Runner) convertOne(ctx context.Context, jobID string, file models.DiscoveredFile,
	opts BatchOptions, total int, done *int32) models.ConversionResult {

	// Oversized files fail straight from pending: no in-progress
	// transition, no process spawn.
	if r.MaxFileSize > 0 && file.Size > r.MaxFileSize {
		result := models.ConversionResult{
			FilePath: file.Path,
			Error:    fmt.Sprintf("file size %d bytes exceeds the %d byte limit", file.Size, r.MaxFileSize),
		}
		return r.finishOne(jobID, file, result, opts, total, done)
	}

	if err := r.store.UpdateStatus(jobID, file.Path, models.StatusInProgress, nil); err != nil {
		logger.Errorf(r.log, "batch %s: mark %s in-progress: %v", jobID, file.Path, err)
	}
	r.publish(events.TypeConversionProgress, map[string]interface{}{
		"jobId":    jobID,
		"filePath": file.Path,
		"status":   models.StatusInProgress,
	})
	if opts.OnStart != nil {
		opts.OnStart(file)
	}

	atomic.AddInt32(&r.active, 1)
	result := r.converter.Convert(ctx, file)
	atomic.AddInt32(&r.active, -1)

	return r.finishOne(jobID, file, result, opts, total, done)
}

// finishOne records the terminal status with its details and fires the
// completion events and callbacks.
func (r *Runner) finishOne(jobID string, file models.DiscoveredFile, result models.ConversionResult,
	opts BatchOptions, total int, done *int32) models.ConversionResult {

	status := models.StatusFailed
	if result.Success {
		status = models.StatusCompleted
	}
	details := &models.RecordDetails{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Error:      result.Error,
		OutputPath: result.OutputPath,
		Duration:   result.Duration,
	}
	if err := r.store.UpdateStatus(jobID, file.Path, status, details); err != nil {
		logger.Errorf(r.log, "batch %s: record terminal status for %s: %v", jobID, file.Path, err)
	}

	completed := int(atomic.AddInt32(done, 1))
	r.publish(events.TypeFileLogUpdate, map[string]interface{}{
		"jobId":    jobID,
		"filePath": file.Path,
		"status":   status,
	})
	r.publish(events.TypeConversionProgress, map[string]interface{}{
		"jobId":    jobID,
		"filePath": file.Path,
		"status":   status,
		"done":     completed,
		"total":    total,
	})

	if opts.OnComplete != nil {
		opts.OnComplete(file, result)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(completed, total)
	}
	return result
}

// Cancel terminates the in-flight processes of one batch and reports
// whether the batch was running. Records are not retroactively marked
// cancelled; that is the caller's decision.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	if ok {
		delete(r.cancels, jobID)
	}
	r.mu.Unlock()

	if ok {
		cancel()
		logger.Infof(r.log, "batch %s: cancellation requested", jobID)
	}
	return ok
}

// CancelAll terminates every tracked in-flight process and clears the
// tracking set.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for jobID, cancel := range cancels {
		cancel()
		logger.Infof(r.log, "batch %s: cancellation requested", jobID)
	}
}

// ActiveCount reports the number of conversions currently in flight.
func (r *Runner) ActiveCount() int {
	return int(atomic.LoadInt32(&r.active))
}

func (r *Runner) publish(eventType string, payload map[string]interface{}) {
	if r.bus != nil {
		r.bus.Publish(eventType, payload)
	}
}
