package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/umd/internal/config"
	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/exclusion"
	"github.com/harrison/umd/internal/history"
	"github.com/harrison/umd/internal/models"
	"github.com/harrison/umd/internal/runner"
	"github.com/harrison/umd/internal/scancache"
	"github.com/harrison/umd/internal/scanner"
	"github.com/harrison/umd/internal/state"
)

// okConverter succeeds instantly without spawning anything.
type okConverter struct{}

func (okConverter) Convert(_ context.Context, file models.DiscoveredFile) models.ConversionResult {
	return models.ConversionResult{
		FilePath:   file.Path,
		Success:    true,
		OutputPath: file.MarkdownPath,
		Stdout:     "converted",
	}
}

type fixture struct {
	srv     *Server
	ts      *httptest.Server
	store   *state.Store
	cache   *scancache.Cache
	history *history.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.DefaultConfig()
	excl := exclusion.NewService(dataDir, nil)
	cache := scancache.New(dataDir, time.Minute, nil)
	store := state.NewStore(dataDir, nil)
	bus := events.NewBus()
	run := runner.NewRunner(okConverter{}, store, bus, nil)

	hist, err := history.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	srv := New(Deps{
		Config:     cfg,
		Scanner:    scanner.NewScanner(excl, nil),
		Cache:      cache,
		Exclusions: excl,
		Store:      store,
		Runner:     run,
		Bus:        bus,
		History:    hist,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, ts: ts, store: store, cache: cache, history: hist}
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, rel := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"healthy"`, string(body["status"]))
}

func TestScanReturnsPartitionedResult(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeTree(t, root, "a.pdf", "b.png", "b.png.md", "notes.txt")

	resp, body := f.request(t, http.MethodPost, "/scan", map[string]interface{}{
		"rootPath": root,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending, converted []models.DiscoveredFile
	require.NoError(t, json.Unmarshal(body["pending"], &pending))
	require.NoError(t, json.Unmarshal(body["converted"], &converted))
	require.Len(t, pending, 1)
	require.Len(t, converted, 1)
	assert.Equal(t, "pdf", pending[0].Extension)
	assert.Equal(t, "png", converted[0].Extension)
	assert.JSONEq(t, `false`, string(body["cached"]))

	// Second scan of the same root is served from the cache.
	resp, body = f.request(t, http.MethodPost, "/scan", map[string]interface{}{
		"rootPath": root,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `true`, string(body["cached"]))
}

func TestScanValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/scan", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/scan", map[string]interface{}{
		"rootPath": filepath.Join(t.TempDir(), "missing"),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	file := filepath.Join(t.TempDir(), "plain.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	resp, _ = f.request(t, http.MethodPost, "/scan", map[string]interface{}{
		"rootPath": file,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanResultEndpoint(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeTree(t, root, "a.pdf")

	resp, _ := f.request(t, http.MethodGet, "/scan/result?rootPath="+root, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.request(t, http.MethodPost, "/scan", map[string]interface{}{"rootPath": root})

	resp, body := f.request(t, http.MethodGet, "/scan/result?rootPath="+root, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []models.DiscoveredFile
	require.NoError(t, json.Unmarshal(body["files"], &files))
	assert.Len(t, files, 1)

	resp, _ = f.request(t, http.MethodDelete, "/scan/cache?rootPath="+root, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.request(t, http.MethodGet, "/scan/result?rootPath="+root, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConvertLifecycle(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeTree(t, root, "a.pdf", "b.docx")

	resp, body := f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{filepath.Join(root, "a.pdf"), filepath.Join(root, "b.docx")},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var jobID string
	require.NoError(t, json.Unmarshal(body["jobId"], &jobID))
	require.NotEmpty(t, jobID)
	assert.JSONEq(t, `2`, string(body["totalFiles"]))

	require.Eventually(t, func() bool {
		stats, err := f.store.GetBatchStats(jobID)
		return err == nil && stats.Completed == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = f.request(t, http.MethodGet, "/convert/status/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []models.ConversionRecord
	require.NoError(t, json.Unmarshal(body["records"], &records))
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusCompleted, records[0].Status)
	assert.True(t, strings.HasSuffix(records[0].FilePath, "a.pdf"))

	resp, body = f.request(t, http.MethodGet, fmt.Sprintf("/convert/logs/%s/0", jobID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"converted"`, string(body["stdout"]))

	// The outcome lands in history.
	entries, err := f.history.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	resp, _ = f.request(t, http.MethodGet, "/convert/history", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConvertValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{filepath.Join(t.TempDir(), "missing.pdf")},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unsupported := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(unsupported, []byte("x"), 0o644))
	resp, _ = f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{unsupported},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertInvalidatesScanCache(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeTree(t, root, "a.pdf")

	f.request(t, http.MethodPost, "/scan", map[string]interface{}{"rootPath": root})
	require.NotNil(t, f.cache.Get(root))

	_, body := f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{filepath.Join(root, "a.pdf")},
	})
	var jobID string
	require.NoError(t, json.Unmarshal(body["jobId"], &jobID))

	assert.Eventually(t, func() bool {
		return f.cache.Get(root) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobListingAndDeletion(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writeTree(t, root, "a.pdf")

	_, body := f.request(t, http.MethodPost, "/convert", map[string]interface{}{
		"files": []string{filepath.Join(root, "a.pdf")},
	})
	var jobID string
	require.NoError(t, json.Unmarshal(body["jobId"], &jobID))

	require.Eventually(t, func() bool {
		stats, err := f.store.GetBatchStats(jobID)
		return err == nil && stats.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := f.request(t, http.MethodGet, "/convert/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []state.BatchSummary
	require.NoError(t, json.Unmarshal(body["jobs"], &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)

	resp, _ = f.request(t, http.MethodDelete, "/convert/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.request(t, http.MethodDelete, "/convert/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusAndLogsNotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodGet, "/convert/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/convert/logs/nope/0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/convert/logs/nope/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.request(t, http.MethodPost, "/convert/cancel/nope", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `false`, string(body["success"]))
}

func TestExclusionRuleCRUD(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodPost, "/exclusions/", map[string]interface{}{
		"pattern": "*.pdf",
		"type":    models.RulePattern,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ruleID string
	require.NoError(t, json.Unmarshal(body["id"], &ruleID))
	require.NotEmpty(t, ruleID)

	// The rule takes effect on the next scan.
	root := t.TempDir()
	writeTree(t, root, "keep.png", "drop.pdf")
	_, scanBody := f.request(t, http.MethodPost, "/scan", map[string]interface{}{"rootPath": root})
	var files []models.DiscoveredFile
	require.NoError(t, json.Unmarshal(scanBody["files"], &files))
	require.Len(t, files, 1)
	assert.Equal(t, "png", files[0].Extension)

	resp, body = f.request(t, http.MethodGet, "/exclusions/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rules []models.ExclusionRule
	require.NoError(t, json.Unmarshal(body["rules"], &rules))
	require.Len(t, rules, 1)

	resp, _ = f.request(t, http.MethodPut, "/exclusions/"+ruleID, map[string]interface{}{
		"pattern": "*.bak",
		"type":    models.RulePattern,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPut, "/exclusions/missing", map[string]interface{}{
		"pattern": "*.bak",
		"type":    models.RulePattern,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.request(t, http.MethodDelete, "/exclusions/"+ruleID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.request(t, http.MethodDelete, "/exclusions/"+ruleID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExclusionValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/exclusions/", map[string]interface{}{
		"pattern": "",
		"type":    models.RulePattern,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/exclusions/", map[string]interface{}{
		"pattern": "x",
		"type":    "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreviewRendersMarkdown(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	source := filepath.Join(root, "doc.pdf")
	require.NoError(t, os.WriteFile(source+".md", []byte("# Title\n\nbody"), 0o644))

	resp, body := f.request(t, http.MethodGet, "/files/preview?path="+source, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var html string
	require.NoError(t, json.Unmarshal(body["html"], &html))
	assert.Contains(t, html, "<h1")

	resp, _ = f.request(t, http.MethodGet, "/files/preview?path="+filepath.Join(root, "other.pdf"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/files/preview", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStreamDeliversEvents(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// Initial comment line confirms the stream is attached.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, ":"))

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		return f.srv.bus.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.srv.bus.Publish(events.TypeScanStart, map[string]interface{}{"rootPath": "/docs"})

	var frame string
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			frame = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			break
		}
	}

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(frame), &decoded))
	assert.Equal(t, events.TypeScanStart, decoded["type"])
	assert.Equal(t, "/docs", decoded["rootPath"])
	assert.NotEmpty(t, decoded["timestamp"])
}
